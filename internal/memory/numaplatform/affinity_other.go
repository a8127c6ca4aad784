//go:build !linux

package numaplatform

// homeNodePlatform has no affinity source outside Linux; callers fall
// back to hashed steering.
func homeNodePlatform(Topology) (int, bool) {
	return 0, false
}
