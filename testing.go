package rdma

import (
	"fmt"

	"github.com/ankit-raj78/xv6-RDMA/internal/link"
	"github.com/ankit-raj78/xv6-RDMA/internal/mem"
)

// TestUserBase is where simulated user buffers start in each harness
// process's address space.
const TestUserBase = 0x10000

// testPhysBase is the physical base of each harness host's simulated RAM.
const testPhysBase = 0x8000_0000

// testPhysSize is how much simulated RAM each harness host gets.
const testPhysSize = 4 << 20

// Host bundles a simulated physical memory, a core, and helpers for
// building user address spaces. It exists so applications and tests can
// exercise the full stack without a kernel underneath.
type Host struct {
	Mem      *mem.SimMemory
	Core     *Core
	Endpoint *link.Endpoint // nil for loopback-only hosts

	nextPID int
}

// NewLoopbackHost creates a host with no network: transmitted frames are
// discarded.
func NewLoopbackHost() (*Host, error) {
	m := mem.NewSimMemory(testPhysBase, testPhysSize)
	core, err := New(Config{Memory: m})
	if err != nil {
		return nil, err
	}
	return &Host{Mem: m, Core: core, nextPID: 1}, nil
}

// NewHostPair creates two hosts joined by an in-memory frame pipe, each
// with its RX thread running. The pair simulates two machines on one
// Ethernet segment.
func NewHostPair() (*Host, *Host, error) {
	macA := MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x0a}
	macB := MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x0b}
	epA, epB := link.Pipe(macA, macB, 256)

	memA := mem.NewSimMemory(testPhysBase, testPhysSize)
	memB := mem.NewSimMemory(testPhysBase, testPhysSize)

	coreA, err := New(Config{Memory: memA, Link: epA})
	if err != nil {
		return nil, nil, err
	}
	coreB, err := New(Config{Memory: memB, Link: epB})
	if err != nil {
		return nil, nil, err
	}

	epA.Start(coreA.Rx)
	epB.Start(coreB.Rx)

	a := &Host{Mem: memA, Core: coreA, Endpoint: epA, nextPID: 1}
	b := &Host{Mem: memB, Core: coreB, Endpoint: epB, nextPID: 1}
	return a, b, nil
}

// MAC returns the host's link-layer address.
func (h *Host) MAC() MAC {
	if h.Endpoint == nil {
		return MAC{}
	}
	return h.Endpoint.LocalMAC()
}

// NewProc builds a simulated process with the given number of user pages
// mapped contiguously from TestUserBase.
func (h *Host) NewProc(pages int) (*Proc, error) {
	pt := mem.NewSimPageTable()
	for i := 0; i < pages; i++ {
		pg, err := h.Mem.AllocPage()
		if err != nil {
			return nil, fmt.Errorf("mapping user page %d: %w", i, err)
		}
		pt.MapPage(uint64(TestUserBase+i*PageSize), pg.Paddr)
	}
	p := &Proc{
		PID:   h.nextPID,
		Size:  uint64(TestUserBase + pages*PageSize),
		Table: pt,
	}
	h.nextPID++
	return p, nil
}

// WriteUser copies data into a process's user memory at vaddr, walking the
// page table one page at a time.
func (h *Host) WriteUser(p *Proc, vaddr uint64, data []byte) error {
	for len(data) > 0 {
		paddr, ok := p.Table.Walk(vaddr)
		if !ok {
			return fmt.Errorf("user vaddr 0x%x not mapped", vaddr)
		}
		n := PageSize - int(mem.PageOffset(vaddr))
		if n > len(data) {
			n = len(data)
		}
		if _, err := h.Mem.WriteAt(data[:n], paddr); err != nil {
			return err
		}
		data = data[n:]
		vaddr += uint64(n)
	}
	return nil
}

// ReadUser copies n bytes of a process's user memory at vaddr.
func (h *Host) ReadUser(p *Proc, vaddr uint64, n int) ([]byte, error) {
	out := make([]byte, n)
	buf := out
	for len(buf) > 0 {
		paddr, ok := p.Table.Walk(vaddr)
		if !ok {
			return nil, fmt.Errorf("user vaddr 0x%x not mapped", vaddr)
		}
		chunk := PageSize - int(mem.PageOffset(vaddr))
		if chunk > len(buf) {
			chunk = len(buf)
		}
		if _, err := h.Mem.ReadAt(buf[:chunk], paddr); err != nil {
			return nil, err
		}
		buf = buf[chunk:]
		vaddr += uint64(chunk)
	}
	return out, nil
}

// Close stops the RX thread and releases the simulated memory.
func (h *Host) Close() {
	if h.Endpoint != nil {
		h.Endpoint.Close()
	}
	_ = h.Mem.Close()
}
