//go:build linux

package mem

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ankit-raj78/xv6-RDMA/internal/constants"
)

// NewMmapMemory creates a simulated physical memory backed by an anonymous
// mmap region instead of a Go slice allocation. The mapping is page-aligned
// by construction, which keeps the simulated frames congruent with real
// pages. Close releases the mapping.
func NewMmapMemory(base uint64, size int64) (*SimMemory, error) {
	if size <= 0 {
		size = constants.PageSize
	}
	pages := (size + constants.PageSize - 1) / constants.PageSize
	size = pages * constants.PageSize

	data, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}

	numShards := (size + ShardSize - 1) / ShardSize
	m := &SimMemory{
		base:   base,
		data:   data,
		shards: make([]sync.RWMutex, numShards),
	}
	m.unmap = func() error { return unix.Munmap(data) }
	return m, nil
}
