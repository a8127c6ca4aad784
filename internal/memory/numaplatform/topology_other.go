//go:build !linux

package numaplatform

// discoverPlatform has no real topology source outside Linux; report the
// synthetic two-node fallback rather than fabricating a false single-node
// view.
func discoverPlatform() Topology {
	return Synthetic()
}
