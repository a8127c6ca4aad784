package numaplatform

// HomeNode reports the NUMA node the calling OS thread's CPU affinity
// mask currently points to: the node owning the first CPU set in the
// mask. ok is false when affinity cannot be read (non-Linux, or the mask
// matches no known CPU), in which case callers fall back to their own
// hashed steering.
func HomeNode(topo Topology) (node int, ok bool) {
	return homeNodePlatform(topo)
}
