// Package numaplatform isolates NUMA topology discovery behind a
// platform boundary. Linux reads the real topology out of sysfs;
// every other platform, and any Linux system where sysfs parsing fails,
// returns a synthetic two-node topology rather than silently reporting a
// false single-node view.
package numaplatform

// Node describes one NUMA node's CPU set, memory size, and the distance
// to every other node in the topology (indexed by node ID).
type Node struct {
	ID         int
	CPUs       []int
	MemorySize uint64
	Distances  []int
}

// Topology is the full set of nodes discovered (or synthesized) for the
// current host.
type Topology struct {
	Nodes []Node
}

// Discover returns the current platform's NUMA topology.
func Discover() Topology {
	return discoverPlatform()
}

// Synthetic returns the two-node, 8-CPU, 32GiB fallback topology used
// whenever real discovery is unavailable or fails to parse.
func Synthetic() Topology {
	const cpusPerNode = 8
	const bytesPerNode = 32 * 1024 * 1024 * 1024

	nodes := make([]Node, 2)
	for i := range nodes {
		cpus := make([]int, cpusPerNode)
		for c := range cpus {
			cpus[c] = i*cpusPerNode + c
		}
		nodes[i] = Node{
			ID:         i,
			CPUs:       cpus,
			MemorySize: bytesPerNode,
		}
	}
	for i := range nodes {
		distances := make([]int, len(nodes))
		for j := range nodes {
			if i == j {
				distances[j] = 10
			} else {
				distances[j] = 20
			}
		}
		nodes[i].Distances = distances
	}
	return Topology{Nodes: nodes}
}

// NodeForCPU returns the node owning cpu, or -1 if no node claims it.
func (t Topology) NodeForCPU(cpu int) int {
	for _, n := range t.Nodes {
		for _, c := range n.CPUs {
			if c == cpu {
				return n.ID
			}
		}
	}
	return -1
}

// Distance returns the distance-map entry from node `from` to node `to`,
// or false if either node is out of range.
func (t Topology) Distance(from, to int) (int, bool) {
	if from < 0 || from >= len(t.Nodes) {
		return 0, false
	}
	node := t.Nodes[from]
	if to < 0 || to >= len(node.Distances) {
		return 0, false
	}
	return node.Distances[to], true
}
