package memory

import "time"

// startTimer begins a latency measurement. time.Now() carries a
// monotonic reading on every supported platform, so time.Since against
// it is safe even across wall-clock adjustments.
func startTimer() time.Time {
	return time.Now()
}

// elapsedNanos returns the nanoseconds elapsed since start.
func elapsedNanos(start time.Time) int64 {
	return time.Since(start).Nanoseconds()
}
