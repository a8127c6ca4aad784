package memory

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/vectorlane/memcore/internal/memory/numaplatform"
)

// NumaAllocator layers one LockFreePool per NUMA node over topology
// discovery and a chosen steering policy.
type NumaAllocator struct {
	cfg   NumaConfig
	topo  numaplatform.Topology
	pools []*LockFreePool

	roundRobin uint64
	homeCache  sync.Map // goroutine id -> home node index

	stats     *Stats
	crossNode uint64
	local     uint64

	originMu sync.Mutex
	origin   map[unsafe.Pointer]int // addr -> node that owns it
}

// NewNumaAllocator discovers the host topology (or the synthetic
// fallback) and constructs one lock-free pool per node, sized to
// node.MemorySize / ChunkSize chunks.
func NewNumaAllocator(cfg NumaConfig) (*NumaAllocator, error) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Alignment == 0 {
		cfg.Alignment = DefaultAlignment
	}

	topo := numaplatform.Discover()
	pools := make([]*LockFreePool, len(topo.Nodes))
	for i, node := range topo.Nodes {
		maxChunks := int(node.MemorySize / uint64(cfg.ChunkSize))
		if maxChunks <= 0 {
			maxChunks = 1
		}
		pool, err := NewLockFreePool(PoolConfig{
			ChunkSize:     cfg.ChunkSize,
			InitialChunks: 0,
			MaxChunks:     maxChunks,
			Alignment:     cfg.Alignment,
		})
		if err != nil {
			return nil, err
		}
		pools[i] = pool
	}

	return &NumaAllocator{
		cfg:    cfg,
		topo:   topo,
		pools:  pools,
		stats:  NewStats(),
		origin: make(map[unsafe.Pointer]int),
	}, nil
}

// Stats returns the allocator's telemetry instance.
func (n *NumaAllocator) Stats() *Stats { return n.stats }

// NodeCount is the number of NUMA nodes in the discovered topology.
func (n *NumaAllocator) NodeCount() int { return len(n.pools) }

// Allocate picks a node per the configured policy, tries it first, and
// on failure falls through every other node in order. If every node's
// pool is exhausted it reports ErrOutOfMemory; a size or alignment error
// is reported as the pools returned it.
func (n *NumaAllocator) Allocate(layout Layout) (Region, error) {
	preferred := n.pickNode()
	home := n.homeNode()
	timer := startTimer()
	var lastErr error
	for i := 0; i < len(n.pools); i++ {
		node := (preferred + i) % len(n.pools)
		region, err := n.allocateOnNodeIndex(node, layout, home, timer)
		if err == nil {
			return region, nil
		}
		lastErr = err
	}
	n.stats.RecordFailedAllocation()
	if _, exhausted := lastErr.(ErrPoolExhausted); exhausted || lastErr == nil {
		return Region{}, ErrOutOfMemory{}
	}
	return Region{}, lastErr
}

// AllocateZeroed is Allocate with the returned bytes explicitly zeroed.
func (n *NumaAllocator) AllocateZeroed(layout Layout) (Region, error) {
	region, err := n.Allocate(layout)
	if err != nil {
		return region, err
	}
	zeroRegion(region)
	return region, nil
}

// AllocateOnNode pins the request to node id, failing with
// ErrNumaNodeUnavailable if id is out of range for the topology.
func (n *NumaAllocator) AllocateOnNode(id int, layout Layout) (Region, error) {
	if id < 0 || id >= len(n.pools) {
		return Region{}, ErrNumaNodeUnavailable{ID: id}
	}
	return n.allocateOnNodeIndex(id, layout, n.homeNode(), startTimer())
}

func (n *NumaAllocator) allocateOnNodeIndex(node int, layout Layout, home int, timer time.Time) (Region, error) {
	region, err := n.pools[node].AllocateChunk(layout)
	if err != nil {
		return Region{}, err
	}

	n.originMu.Lock()
	n.origin[region.Ptr] = node
	n.originMu.Unlock()

	if node == home {
		atomic.AddUint64(&n.local, 1)
	} else {
		atomic.AddUint64(&n.crossNode, 1)
	}
	n.stats.RecordAllocation(region.Size, elapsedNanos(timer))
	return region, nil
}

// Deallocate routes the region back to the node it was originally drawn
// from, looked up by address. The Rust original this pool's deallocate
// logic was checked against always funneled deallocations into node zero
// regardless of origin; that is corrected here by tracking origin
// explicitly.
func (n *NumaAllocator) Deallocate(region Region, layout Layout) {
	n.originMu.Lock()
	node, ok := n.origin[region.Ptr]
	if ok {
		delete(n.origin, region.Ptr)
	}
	n.originMu.Unlock()

	if !ok {
		node = 0
	}
	n.pools[node].Deallocate(region, layout)
	n.stats.RecordDeallocation(region.Size)
}

// Reallocate allocates a new region per the configured steering policy
// (it is not pinned to region's origin node), copies the overlapping
// prefix, and deallocates the old region through its own origin. A
// reallocation can therefore cross nodes, same as a fresh Allocate call
// can land anywhere.
func (n *NumaAllocator) Reallocate(region Region, oldLayout, newLayout Layout) (Region, error) {
	newRegion, err := n.Allocate(newLayout)
	if err != nil {
		return Region{}, err
	}
	copyMin(newRegion.Ptr, region.Ptr, newRegion.Size, oldLayout.Size)
	n.Deallocate(region, oldLayout)
	return newRegion, nil
}

// SupportsAlignment reports whether align fits the configured alignment.
func (n *NumaAllocator) SupportsAlignment(align uintptr) bool {
	return isPowerOfTwo(align) && align <= n.cfg.Alignment
}

// MaxAlignment is the allocator's configured alignment ceiling.
func (n *NumaAllocator) MaxAlignment() uintptr { return n.cfg.Alignment }

// AvailableMemory sums free bytes across every node's pool.
func (n *NumaAllocator) AvailableMemory() uintptr {
	var total uintptr
	for _, p := range n.pools {
		total += uintptr(p.free.Len()) * p.cfg.ChunkSize
	}
	return total
}

// TotalMemory sums each node's configured capacity.
func (n *NumaAllocator) TotalMemory() uintptr {
	var total uintptr
	for _, p := range n.pools {
		total += uintptr(p.cfg.MaxChunks) * p.cfg.ChunkSize
	}
	return total
}

// GetNodeDistance returns the topology's distance entry from `from` to
// `to`, or false if either node is out of range.
func (n *NumaAllocator) GetNodeDistance(from, to int) (int, bool) {
	return n.topo.Distance(from, to)
}

// NodePoolStats is one row of a NumaSnapshot's per-node breakdown.
type NodePoolStats struct {
	ID        int
	Allocated uintptr
	Free      uintptr
	Total     uintptr
}

// NumaSnapshot is the compact cross-node view returned by
// GetStatsSnapshot: it never clones the per-node accounting map, only
// the derived counts.
type NumaSnapshot struct {
	CrossNode  uint64
	Local      uint64
	TotalBytes uintptr
	PerNode    []NodePoolStats
}

// GetStatsSnapshot builds a compact view of cross-node vs. local
// allocation counts and per-node pool occupancy.
func (n *NumaAllocator) GetStatsSnapshot() NumaSnapshot {
	perNode := make([]NodePoolStats, len(n.pools))
	var totalBytes uintptr
	for i, p := range n.pools {
		allocated := uintptr(p.Stats().Snapshot().CurrentAllocated)
		free := uintptr(p.free.Len()) * p.cfg.ChunkSize
		total := uintptr(p.cfg.MaxChunks) * p.cfg.ChunkSize
		perNode[i] = NodePoolStats{ID: i, Allocated: allocated, Free: free, Total: total}
		totalBytes += allocated
	}
	return NumaSnapshot{
		CrossNode:  atomic.LoadUint64(&n.crossNode),
		Local:      atomic.LoadUint64(&n.local),
		TotalBytes: totalBytes,
		PerNode:    perNode,
	}
}

func (n *NumaAllocator) pickNode() int {
	switch n.cfg.Policy {
	case NumaFixedZero:
		return 0
	case NumaLocalPreference:
		return n.homeNode()
	default: // NumaInterleave
		i := atomic.AddUint64(&n.roundRobin, 1) - 1
		return int(i % uint64(len(n.pools)))
	}
}

// homeNode resolves, and permanently caches, the calling goroutine's
// steered node: CPU affinity on Linux, a stable hashed identifier
// elsewhere. The cache is never invalidated by design — a goroutine that
// migrates CPUs keeps its original assignment, trading freshness for
// stable steering.
func (n *NumaAllocator) homeNode() int {
	gid := goroutineID()
	if v, ok := n.homeCache.Load(gid); ok {
		return v.(int)
	}
	var node int
	if hn, ok := numaplatform.HomeNode(n.topo); ok {
		node = hn
	} else {
		node = int(gid % uint64(len(n.pools)))
	}
	n.homeCache.Store(gid, node)
	return node
}

// goroutineID extracts the runtime's internal goroutine id from the
// current stack trace. Go gives goroutines no public persistent
// identity, and goroutines may hop OS threads, so this is the closest
// stable handle available for hash-based steering.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
