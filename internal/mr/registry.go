// Package mr implements the memory-region registry: a fixed table of
// pinned, permission-tagged spans of user memory, guarded by a single
// mutex. Region ids are 1-based; 0 is the universal "no region" sentinel
// in work requests.
package mr

import (
	"sync"

	"github.com/ankit-raj78/xv6-RDMA/internal/constants"
	"github.com/ankit-raj78/xv6-RDMA/internal/errs"
	"github.com/ankit-raj78/xv6-RDMA/internal/logging"
	"github.com/ankit-raj78/xv6-RDMA/internal/mem"
)

// Access is the permission bit set of a memory region.
type Access uint32

const (
	AccessLocalRead   Access = 0x01
	AccessLocalWrite  Access = 0x02
	AccessRemoteRead  Access = 0x04
	AccessRemoteWrite Access = 0x08
)

// Region is a snapshot of one registered memory region. The registry hands
// out copies; refcount mutation stays behind the registry lock.
type Region struct {
	ID       uint32 // 1-based, 0 = invalid
	Access   Access
	Vaddr    uint64
	Paddr    uint64
	Length   uint64
	LKey     uint32 // equal to ID in this design
	RKey     uint32 // equal to ID in this design
	OwnerPID int
	Refcount int
}

// slot is the in-table representation; owner is the non-owning process
// handle, region.OwnerPID the pid captured at registration. Both must match on
// ownership checks so that a recycled pid cannot reach a dead process's
// regions.
type slot struct {
	valid    bool
	region   Region
	owner    *mem.Proc
	refcount int
}

// Registry is the system-wide MR table.
type Registry struct {
	mu     sync.Mutex
	slots  [constants.MaxMRs]slot
	logger *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Registry{logger: logger}
	r.logger.Debug("mr: initialized table", "slots", constants.MaxMRs)
	return r
}

// Register validates, translates, and pins a user range. The range must be
// non-empty, lie inside the caller's user address space, and stay within a
// single page. Returns the 1-based region id.
func (r *Registry) Register(p *mem.Proc, vaddr, length uint64, access Access) (int, error) {
	const op = "REG_MR"

	if p == nil || p.Table == nil {
		return 0, errs.New(op, errs.CodeInvalidArgument, "no calling process")
	}
	if vaddr == 0 || length == 0 {
		return 0, errs.New(op, errs.CodeInvalidArgument, "vaddr and length must be non-zero")
	}
	if vaddr >= p.Size || vaddr+length > p.Size || vaddr+length < vaddr {
		return 0, errs.New(op, errs.CodeInvalidArgument, "range outside user address space")
	}
	if !mem.SamePage(vaddr, length) {
		return 0, errs.New(op, errs.CodeInvalidArgument, "range crosses a page boundary")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var s *slot
	id := 0
	for i := range r.slots {
		if !r.slots[i].valid {
			s = &r.slots[i]
			id = i + 1
			break
		}
	}
	if s == nil {
		return 0, errs.New(op, errs.CodeNoSlots, "MR table full")
	}

	paddr, ok := p.Table.Walk(vaddr)
	if !ok || paddr == 0 {
		return 0, errs.New(op, errs.CodeInvalidArgument, "page not mapped")
	}

	s.valid = true
	s.region = Region{
		ID:       uint32(id),
		Access:   access,
		Vaddr:    vaddr,
		Paddr:    paddr,
		Length:   length,
		LKey:     uint32(id),
		RKey:     uint32(id),
		OwnerPID: p.PID,
	}
	s.owner = p
	s.refcount = 0

	r.logger.Debug("mr: registered region",
		"mr", id, "pid", p.PID, "vaddr", vaddr, "paddr", paddr, "len", length)
	return id, nil
}

// Deregister removes a region. It refuses while operations are in flight
// or when the caller is not the registering process.
func (r *Registry) Deregister(p *mem.Proc, id int) error {
	const op = "DEREG_MR"

	if id < 1 || id > constants.MaxMRs {
		return errs.NewMR(op, id, errs.CodeInvalidArgument, "MR id out of range")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.slots[id-1]
	if !s.valid {
		return errs.NewMR(op, id, errs.CodeInvalidArgument, "MR not registered")
	}
	if s.owner != p || s.region.OwnerPID != p.PID {
		return errs.NewMR(op, id, errs.CodeNotOwned, "MR owned by another process")
	}
	if s.refcount > 0 {
		return errs.NewMR(op, id, errs.CodeBusy, "MR has in-flight operations")
	}

	*s = slot{}
	r.logger.Debug("mr: deregistered region", "mr", id, "pid", p.PID)
	return nil
}

// Pin looks up a caller-owned region, bumps its refcount, and returns a
// snapshot. Every successful Pin must be paired with an Unpin once the
// operation leaves the executor.
func (r *Registry) Pin(p *mem.Proc, id int) (Region, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.owned(p, id)
	if !ok {
		return Region{}, false
	}
	s.refcount++
	reg := s.region
	reg.Refcount = s.refcount
	return reg, true
}

// Unpin drops the in-flight reference taken by Pin. Unpinning a slot that
// has been force-released is a no-op.
func (r *Registry) Unpin(id int) {
	if id < 1 || id > constants.MaxMRs {
		return
	}
	r.mu.Lock()
	s := &r.slots[id-1]
	if s.valid && s.refcount > 0 {
		s.refcount--
	}
	r.mu.Unlock()
}

// Lookup returns a snapshot of a caller-owned region without pinning it.
func (r *Registry) Lookup(p *mem.Proc, id int) (Region, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.owned(p, id)
	if !ok {
		return Region{}, false
	}
	reg := s.region
	reg.Refcount = s.refcount
	return reg, true
}

// LookupDMA returns a snapshot of a region for the network RX path, which
// acts on behalf of a remote peer and carries no local process identity.
func (r *Registry) LookupDMA(id int) (Region, bool) {
	if id < 1 || id > constants.MaxMRs {
		return Region{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.slots[id-1]
	if !s.valid {
		return Region{}, false
	}
	reg := s.region
	reg.Refcount = s.refcount
	return reg, true
}

// ReleaseAll force-clears every region registered by pid. It is the
// process-teardown hook: refcounts are ignored because the owning process
// can no longer drive the operations that pinned them. Returns the number
// of regions released.
func (r *Registry) ReleaseAll(pid int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.slots {
		s := &r.slots[i]
		if !s.valid || s.region.OwnerPID != pid {
			continue
		}
		if s.refcount > 0 {
			r.logger.Warn("mr: releasing region with in-flight operations",
				"mr", i+1, "pid", pid, "refcount", s.refcount)
		}
		*s = slot{}
		n++
	}
	return n
}

func (r *Registry) owned(p *mem.Proc, id int) (*slot, bool) {
	if p == nil || id < 1 || id > constants.MaxMRs {
		return nil, false
	}
	s := &r.slots[id-1]
	if !s.valid || s.owner != p || s.region.OwnerPID != p.PID {
		return nil, false
	}
	return s, true
}
