//go:build linux

package numaplatform

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const sysNodeRoot = "/sys/devices/system/node"

// discoverPlatform reads /sys/devices/system/node/node<id>/{cpulist,meminfo}
// for every node directory present. Any failure to find at least one
// parseable node falls back to the synthetic topology rather than
// reporting a misleading single-node view.
func discoverPlatform() Topology {
	entries, err := os.ReadDir(sysNodeRoot)
	if err != nil {
		return Synthetic()
	}

	var nodes []Node
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, "node") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
		if err != nil {
			continue
		}
		dir := filepath.Join(sysNodeRoot, name)
		cpus, cpuErr := readCPUList(filepath.Join(dir, "cpulist"))
		mem, memErr := readMemTotal(filepath.Join(dir, "meminfo"), id)
		if cpuErr != nil || memErr != nil {
			continue
		}
		nodes = append(nodes, Node{ID: id, CPUs: cpus, MemorySize: mem})
	}

	if len(nodes) == 0 {
		return Synthetic()
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	assignDistances(nodes)
	return Topology{Nodes: nodes}
}

// assignDistances fills each node's distance map using the self=10/
// remote=20 two-tier distance model; Linux exposes a real distance
// table under node<id>/distance, but the two-tier model is what every
// caller in this package actually consumes.
func assignDistances(nodes []Node) {
	for i := range nodes {
		distances := make([]int, len(nodes))
		for j := range nodes {
			if nodes[i].ID == nodes[j].ID {
				distances[j] = 10
			} else {
				distances[j] = 20
			}
		}
		nodes[i].Distances = distances
	}
}

// readCPUList parses a comma-separated list of CPU ranges ("0-7,16-23")
// or singletons ("4") into a flat slice of CPU indices.
func readCPUList(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}

	var cpus []int
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			loN, err1 := strconv.Atoi(lo)
			hiN, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil {
				continue
			}
			for c := loN; c <= hiN; c++ {
				cpus = append(cpus, c)
			}
		} else {
			n, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			cpus = append(cpus, n)
		}
	}
	return cpus, nil
}

// readMemTotal parses the "Node N MemTotal: K kB" line out of meminfo and
// converts kibibytes to bytes.
func readMemTotal(path string, nodeID int) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	prefix := "Node " + strconv.Itoa(nodeID) + " MemTotal:"
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, prefix))
		if len(fields) == 0 {
			continue
		}
		kib, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		return kib * 1024, nil
	}
	return 0, os.ErrNotExist
}
