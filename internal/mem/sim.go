package mem

import (
	"fmt"
	"sync"

	"github.com/ankit-raj78/xv6-RDMA/internal/constants"
)

// ShardSize is the size of each memory shard (64KB). Sharded locking lets
// user-space accesses and inbound DMA writes proceed in parallel on
// disjoint regions while keeping lock overhead reasonable.
const ShardSize = 64 * 1024

// SimMemory is a simulated physical memory: a flat byte array addressed
// from a fixed physical base. It stands in for the machine RAM the real
// kernel would manage, and implements both the page allocator and the
// DMA window the core needs.
type SimMemory struct {
	base   uint64
	data   []byte
	shards []sync.RWMutex

	// Page allocator state.
	mu    sync.Mutex
	next  uint64   // bump offset of the next never-used page
	free  []uint64 // offsets of released pages
	unmap func() error
}

// NewSimMemory creates a simulated physical memory of the given size,
// addressed from base. Size is rounded up to a whole number of pages.
func NewSimMemory(base uint64, size int64) *SimMemory {
	if size <= 0 {
		size = constants.PageSize
	}
	pages := (size + constants.PageSize - 1) / constants.PageSize
	size = pages * constants.PageSize
	numShards := (size + ShardSize - 1) / ShardSize
	return &SimMemory{
		base:   base,
		data:   make([]byte, size),
		shards: make([]sync.RWMutex, numShards),
	}
}

// Base returns the physical base address of the region.
func (m *SimMemory) Base() uint64 {
	return m.base
}

// Size returns the size of the region in bytes.
func (m *SimMemory) Size() int64 {
	return int64(len(m.data))
}

// AllocPage hands out one zeroed page.
func (m *SimMemory) AllocPage() (*Page, error) {
	m.mu.Lock()
	var off uint64
	switch {
	case len(m.free) > 0:
		off = m.free[len(m.free)-1]
		m.free = m.free[:len(m.free)-1]
	case m.next+constants.PageSize <= uint64(len(m.data)):
		off = m.next
		m.next += constants.PageSize
	default:
		m.mu.Unlock()
		return nil, fmt.Errorf("sim memory exhausted (%d bytes)", len(m.data))
	}
	m.mu.Unlock()

	buf := m.data[off : off+constants.PageSize]
	for i := range buf {
		buf[i] = 0
	}
	return &Page{Paddr: m.base + off, Buf: buf}, nil
}

// FreePage returns a page to the allocator.
func (m *SimMemory) FreePage(p *Page) {
	if p == nil {
		return
	}
	off := p.Paddr - m.base
	if off >= uint64(len(m.data)) {
		return
	}
	m.mu.Lock()
	m.free = append(m.free, off)
	m.mu.Unlock()
}

// Window returns the raw bytes at [paddr, paddr+n). This is the DMA view;
// callers serialize access under their own locks.
func (m *SimMemory) Window(paddr uint64, n uint32) ([]byte, error) {
	if paddr < m.base {
		return nil, fmt.Errorf("paddr 0x%x below region base 0x%x", paddr, m.base)
	}
	off := paddr - m.base
	if off+uint64(n) > uint64(len(m.data)) {
		return nil, fmt.Errorf("window [0x%x,+%d) beyond region end", paddr, n)
	}
	return m.data[off : off+uint64(n)], nil
}

// shardRange returns the range of shards that cover [off, off+length).
func (m *SimMemory) shardRange(off, length uint64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// ReadAt copies physical memory out under shard read locks.
func (m *SimMemory) ReadAt(p []byte, paddr uint64) (int, error) {
	win, err := m.Window(paddr, uint32(len(p)))
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	off := paddr - m.base
	startShard, endShard := m.shardRange(off, uint64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}

	n := copy(p, win)

	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}
	return n, nil
}

// WriteAt copies into physical memory under shard write locks.
func (m *SimMemory) WriteAt(p []byte, paddr uint64) (int, error) {
	win, err := m.Window(paddr, uint32(len(p)))
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	off := paddr - m.base
	startShard, endShard := m.shardRange(off, uint64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}

	n := copy(win, p)

	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}
	return n, nil
}

// Close releases the backing region if it was mapped from the OS.
func (m *SimMemory) Close() error {
	if m.unmap != nil {
		err := m.unmap()
		m.unmap = nil
		m.data = nil
		return err
	}
	m.data = nil
	return nil
}

// Compile-time interface checks
var (
	_ Allocator = (*SimMemory)(nil)
	_ Physical  = (*SimMemory)(nil)
	_ Memory    = (*SimMemory)(nil)
)

// SimPageTable is a map-backed page table for simulated processes.
type SimPageTable struct {
	mu     sync.RWMutex
	frames map[uint64]uint64 // user page -> physical frame
}

// NewSimPageTable creates an empty page table.
func NewSimPageTable() *SimPageTable {
	return &SimPageTable{frames: make(map[uint64]uint64)}
}

// MapPage installs a translation from the page containing vaddr to the
// frame containing paddr.
func (t *SimPageTable) MapPage(vaddr, paddr uint64) {
	t.mu.Lock()
	t.frames[PageBase(vaddr)] = PageBase(paddr)
	t.mu.Unlock()
}

// UnmapPage removes the translation for the page containing vaddr.
func (t *SimPageTable) UnmapPage(vaddr uint64) {
	t.mu.Lock()
	delete(t.frames, PageBase(vaddr))
	t.mu.Unlock()
}

// Walk implements PageTable.
func (t *SimPageTable) Walk(vaddr uint64) (uint64, bool) {
	t.mu.RLock()
	frame, ok := t.frames[PageBase(vaddr)]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return frame | PageOffset(vaddr), true
}

var _ PageTable = (*SimPageTable)(nil)
