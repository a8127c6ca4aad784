package memory

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vectorlane/memcore/internal/memlog"
)

// HistorySize bounds the latency ring kept for percentile computation.
const HistorySize = 1000

// histogramBucket is one of the eight power-of-four size ranges tracked by
// Stats. Lo and Hi are inclusive; the last bucket's Hi is unbounded.
type histogramBucket struct {
	Lo, Hi uint64
	Label  string
}

var histogramBuckets = [8]histogramBucket{
	{0, 64, "0-64"},
	{65, 256, "65-256"},
	{257, 1024, "257-1K"},
	{1025, 4096, "1K-4K"},
	{4097, 16384, "4K-16K"},
	{16385, 65536, "16K-64K"},
	{65537, 262144, "64K-256K"},
	{262145, ^uint64(0), "256K+"},
}

type bucketCounters struct {
	count uint64
	bytes uint64
}

// Stats is the telemetry module shared by every backend: atomic
// allocation/deallocation counters, a CAS-tracked peak-byte watermark, a
// lazily-resorted latency ring, and an eight-bucket size histogram.
type Stats struct {
	allocCount   uint64
	deallocCount uint64
	failedCount  uint64
	liveBytes    uint64
	peakBytes    uint64

	startedAt time.Time

	mu          sync.Mutex
	latencies   [HistorySize]int64
	latencyHead int
	latencyLen  int
	sortedCache []int64
	sortedDirty bool

	buckets [8]bucketCounters
}

// NewStats constructs a zeroed telemetry instance with its rate clock
// started now.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now(), sortedDirty: true}
}

// RecordAllocation records a successful allocation of size bytes observed
// after latencyNs nanoseconds.
func (s *Stats) RecordAllocation(size uintptr, latencyNs int64) {
	n := atomic.AddUint64(&s.allocCount, 1)
	live := atomic.AddUint64(&s.liveBytes, uint64(size))
	if live < uint64(size) {
		memlog.Warn("live-bytes counter overflowed", "size", size, "live", live)
	}
	s.bumpPeak(live)
	s.recordLatency(latencyNs)
	s.recordSize(uint64(size))

	switch {
	case memlog.Milestone(10000, n, "allocation milestone", "count", n):
	case memlog.Milestone(5000, n, "allocation milestone", "count", n):
	case memlog.Milestone(1000, n, "allocation milestone", "count", n):
	}
}

// RecordDeallocation records a deallocation of size bytes. If size exceeds
// the live-bytes gauge the underflow is logged and the gauge is clamped to
// zero rather than wrapping.
func (s *Stats) RecordDeallocation(size uintptr) {
	atomic.AddUint64(&s.deallocCount, 1)
	for {
		live := atomic.LoadUint64(&s.liveBytes)
		if uint64(size) > live {
			memlog.Warn("deallocation size exceeds live bytes, clamping",
				"size", size, "live", live)
			if atomic.CompareAndSwapUint64(&s.liveBytes, live, 0) {
				return
			}
			continue
		}
		if atomic.CompareAndSwapUint64(&s.liveBytes, live, live-uint64(size)) {
			return
		}
	}
}

// RecordFailedAllocation increments the failure counter and warns every
// thousandth failure.
func (s *Stats) RecordFailedAllocation() {
	n := atomic.AddUint64(&s.failedCount, 1)
	memlog.WarnMilestone(1000, n, "allocation failure milestone", "count", n)
}

func (s *Stats) bumpPeak(live uint64) {
	for {
		peak := atomic.LoadUint64(&s.peakBytes)
		if live <= peak {
			return
		}
		if atomic.CompareAndSwapUint64(&s.peakBytes, peak, live) {
			return
		}
	}
}

func (s *Stats) recordLatency(latencyNs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies[s.latencyHead] = latencyNs
	s.latencyHead = (s.latencyHead + 1) % HistorySize
	if s.latencyLen < HistorySize {
		s.latencyLen++
	}
	s.sortedDirty = true
}

func (s *Stats) recordSize(size uint64) {
	for i := range histogramBuckets {
		b := histogramBuckets[i]
		if size >= b.Lo && size <= b.Hi {
			atomic.AddUint64(&s.buckets[i].count, 1)
			atomic.AddUint64(&s.buckets[i].bytes, size)
			break
		}
	}
}

// LatencyStats is the percentile snapshot of the most recent latency
// samples, in nanoseconds.
type LatencyStats struct {
	Mean, Min, Max       float64
	P50, P90, P95, P99   float64
	P999                 float64
}

func (s *Stats) latencySnapshot() LatencyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latencyLen == 0 {
		return LatencyStats{}
	}
	if s.sortedDirty {
		s.sortedCache = s.sortedCache[:0]
		if cap(s.sortedCache) < s.latencyLen {
			s.sortedCache = make([]int64, 0, s.latencyLen)
		}
		// The ring holds latencyLen valid samples ending at latencyHead-1.
		for i := 0; i < s.latencyLen; i++ {
			idx := (s.latencyHead - s.latencyLen + i + HistorySize) % HistorySize
			s.sortedCache = append(s.sortedCache, s.latencies[idx])
		}
		sort.Slice(s.sortedCache, func(i, j int) bool { return s.sortedCache[i] < s.sortedCache[j] })
		s.sortedDirty = false
	}

	sorted := s.sortedCache
	n := len(sorted)

	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}

	percentile := func(p float64) float64 {
		idx := int(float64(n-1) * p)
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		return float64(sorted[idx])
	}

	return LatencyStats{
		Mean: sum / float64(n),
		Min:  float64(sorted[0]),
		Max:  float64(sorted[n-1]),
		P50:  percentile(0.5),
		P90:  percentile(0.9),
		P95:  percentile(0.95),
		P99:  percentile(0.99),
		P999: percentile(0.999),
	}
}

// SizeBucket is one row of the size-distribution snapshot.
type SizeBucket struct {
	RangeLabel string
	Percentage float64
	TotalBytes uint64
}

// AllocationStats is the consistent point-in-time snapshot returned by
// Stats.Snapshot.
type AllocationStats struct {
	TotalAllocations    uint64
	TotalDeallocations  uint64
	CurrentAllocated    uint64
	PeakAllocated       uint64
	AllocationRate      float64
	DeallocationRate    float64
	FragmentationRatio  float64
	Latency             LatencyStats
	SizeDistribution    []SizeBucket
}

// Snapshot returns a consistent view of every counter and derived metric.
func (s *Stats) Snapshot() AllocationStats {
	allocs := atomic.LoadUint64(&s.allocCount)
	deallocs := atomic.LoadUint64(&s.deallocCount)
	live := atomic.LoadUint64(&s.liveBytes)
	peak := atomic.LoadUint64(&s.peakBytes)

	elapsed := time.Since(s.startedAt).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-9
	}

	frag := 0.0
	if peak > 0 {
		frag = 1 - float64(live)/float64(peak)
	}

	var totalCount uint64
	counts := make([]uint64, len(histogramBuckets))
	bytes := make([]uint64, len(histogramBuckets))
	for i := range histogramBuckets {
		counts[i] = atomic.LoadUint64(&s.buckets[i].count)
		bytes[i] = atomic.LoadUint64(&s.buckets[i].bytes)
		totalCount += counts[i]
	}

	dist := make([]SizeBucket, len(histogramBuckets))
	for i, b := range histogramBuckets {
		pct := 0.0
		if totalCount > 0 {
			pct = float64(counts[i]) / float64(totalCount) * 100
		}
		dist[i] = SizeBucket{RangeLabel: b.Label, Percentage: pct, TotalBytes: bytes[i]}
	}

	return AllocationStats{
		TotalAllocations:   allocs,
		TotalDeallocations: deallocs,
		CurrentAllocated:   live,
		PeakAllocated:      peak,
		AllocationRate:     float64(allocs) / elapsed,
		DeallocationRate:   float64(deallocs) / elapsed,
		FragmentationRatio: frag,
		Latency:            s.latencySnapshot(),
		SizeDistribution:   dist,
	}
}

// Reset zeroes every counter, gauge, and history.
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.allocCount, 0)
	atomic.StoreUint64(&s.deallocCount, 0)
	atomic.StoreUint64(&s.failedCount, 0)
	atomic.StoreUint64(&s.liveBytes, 0)
	atomic.StoreUint64(&s.peakBytes, 0)

	s.mu.Lock()
	s.latencyHead = 0
	s.latencyLen = 0
	s.sortedCache = s.sortedCache[:0]
	s.sortedDirty = true
	s.mu.Unlock()

	for i := range s.buckets {
		atomic.StoreUint64(&s.buckets[i].count, 0)
		atomic.StoreUint64(&s.buckets[i].bytes, 0)
	}
	s.startedAt = time.Now()
}
