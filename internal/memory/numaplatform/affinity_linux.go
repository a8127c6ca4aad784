//go:build linux

package numaplatform

import "golang.org/x/sys/unix"

// homeNodePlatform reads the calling thread's CPU affinity mask via
// sched_getaffinity and matches the first set CPU against the topology.
func homeNodePlatform(topo Topology) (int, bool) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, false
	}
	// unix.CPUSet covers _CPU_SETSIZE (1024) CPUs; scan for the first one
	// set in the mask.
	const maxCPUs = 1024
	for cpu := 0; cpu < maxCPUs; cpu++ {
		if set.IsSet(cpu) {
			if node := topo.NodeForCPU(cpu); node >= 0 {
				return node, true
			}
		}
	}
	return 0, false
}
