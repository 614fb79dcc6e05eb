package mem

import (
	"bytes"
	"testing"

	"github.com/ankit-raj78/xv6-RDMA/internal/constants"
)

func TestSimMemoryAllocFree(t *testing.T) {
	m := NewSimMemory(0x8000_0000, 4*constants.PageSize)

	p1, err := m.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage failed: %v", err)
	}
	if p1.Paddr != 0x8000_0000 {
		t.Errorf("first page paddr = 0x%x, want 0x80000000", p1.Paddr)
	}
	if len(p1.Buf) != constants.PageSize {
		t.Errorf("page buffer length = %d, want %d", len(p1.Buf), constants.PageSize)
	}

	p2, err := m.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage failed: %v", err)
	}
	if p2.Paddr == p1.Paddr {
		t.Error("second page reuses first page's address")
	}

	// A freed page comes back, zeroed.
	p1.Buf[0] = 0xff
	m.FreePage(p1)
	p3, err := m.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage after free failed: %v", err)
	}
	if p3.Paddr != p1.Paddr {
		t.Errorf("reallocated page paddr = 0x%x, want 0x%x", p3.Paddr, p1.Paddr)
	}
	if p3.Buf[0] != 0 {
		t.Error("reallocated page not zeroed")
	}
}

func TestSimMemoryExhaustion(t *testing.T) {
	m := NewSimMemory(0x8000_0000, 2*constants.PageSize)
	for i := 0; i < 2; i++ {
		if _, err := m.AllocPage(); err != nil {
			t.Fatalf("AllocPage %d failed: %v", i, err)
		}
	}
	if _, err := m.AllocPage(); err == nil {
		t.Error("AllocPage beyond capacity should fail")
	}
}

func TestSimMemoryWindow(t *testing.T) {
	m := NewSimMemory(0x8000_0000, 2*constants.PageSize)

	win, err := m.Window(0x8000_0000+100, 16)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if len(win) != 16 {
		t.Errorf("window length = %d, want 16", len(win))
	}

	if _, err := m.Window(0x7fff_0000, 4); err == nil {
		t.Error("window below base should fail")
	}
	if _, err := m.Window(0x8000_0000+2*constants.PageSize-2, 4); err == nil {
		t.Error("window past end should fail")
	}
}

func TestSimMemoryReadWrite(t *testing.T) {
	m := NewSimMemory(0x8000_0000, constants.PageSize)

	data := []byte("remote direct memory access")
	n, err := m.WriteAt(data, 0x8000_0000+64)
	if err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("WriteAt wrote %d bytes, want %d", n, len(data))
	}

	got := make([]byte, len(data))
	if _, err := m.ReadAt(got, 0x8000_0000+64); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadAt got %q, want %q", got, data)
	}
}

func TestSimPageTableWalk(t *testing.T) {
	pt := NewSimPageTable()
	pt.MapPage(0x10000, 0x8000_2000)

	paddr, ok := pt.Walk(0x10000 + 123)
	if !ok {
		t.Fatal("Walk failed on mapped page")
	}
	if paddr != 0x8000_2000+123 {
		t.Errorf("Walk = 0x%x, want 0x%x", paddr, 0x8000_2000+123)
	}

	if _, ok := pt.Walk(0x20000); ok {
		t.Error("Walk succeeded on unmapped page")
	}

	pt.UnmapPage(0x10000)
	if _, ok := pt.Walk(0x10000); ok {
		t.Error("Walk succeeded after unmap")
	}
}

func TestSamePage(t *testing.T) {
	if !SamePage(0x10000, constants.PageSize) {
		t.Error("aligned full page should stay on one page")
	}
	if SamePage(0x10001, constants.PageSize) {
		t.Error("offset full page should cross")
	}
	if !SamePage(0x10f00, 0x100) {
		t.Error("range ending exactly at page end should not cross")
	}
	if SamePage(0x10f01, 0x100) {
		t.Error("range past page end should cross")
	}
}
