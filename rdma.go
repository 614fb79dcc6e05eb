// Package rdma provides the core of an RDMA subsystem: a registry of
// pinned user memory regions, a queue-pair engine with send and completion
// rings, and a minimal reliable write protocol over raw Ethernet frames.
// Work posted to a queue pair either runs against local memory (loopback)
// or is transmitted to a peer host and completed when the peer's ACK
// arrives.
//
// The surrounding kernel supplies the collaborators: physical memory and
// page tables through the mem interfaces, and the NIC through the link
// interface. The syscall shim calls the Core entry points with validated
// kernel copies of user arguments.
package rdma

import (
	"github.com/ankit-raj78/xv6-RDMA/internal/constants"
	"github.com/ankit-raj78/xv6-RDMA/internal/hw"
	"github.com/ankit-raj78/xv6-RDMA/internal/link"
	"github.com/ankit-raj78/xv6-RDMA/internal/logging"
	"github.com/ankit-raj78/xv6-RDMA/internal/mem"
	"github.com/ankit-raj78/xv6-RDMA/internal/mr"
	"github.com/ankit-raj78/xv6-RDMA/internal/qp"
)

// Re-exported core types. The implementations live in internal packages;
// these aliases are the public surface.
type (
	// Proc is the caller identity handed to every entry point.
	Proc = mem.Proc

	// WorkRequest describes one posted operation.
	WorkRequest = qp.WorkRequest

	// Completion is one completion queue entry.
	Completion = qp.Completion

	// Opcode is the work-request operation type.
	Opcode = qp.Opcode

	// Status is the completion status code.
	Status = qp.Status

	// State tracks the queue-pair lifecycle.
	State = qp.State

	// WRFlags is the work-request control bit set.
	WRFlags = qp.WRFlags

	// Access is the permission bit set of a memory region.
	Access = mr.Access

	// MRInfo is a snapshot of one registered memory region.
	MRInfo = mr.Region

	// QPInfo is a snapshot of one queue pair.
	QPInfo = qp.Info

	// QPStats is the per-QP counter set.
	QPStats = qp.Stats

	// MAC is a link-layer address.
	MAC = [constants.MACLen]byte

	// Link is the transmit side of the NIC as seen by the core.
	Link = link.Link

	// Doorbell is the hardware-facing half of queue-pair setup.
	Doorbell = hw.Doorbell
)

// Opcodes.
const (
	OpWrite    = qp.OpWrite
	OpRead     = qp.OpRead
	OpSend     = qp.OpSend
	OpReadResp = qp.OpReadResp
)

// Work request flags.
const (
	FlagSignaled = qp.FlagSignaled
)

// Completion status codes.
const (
	StatusSuccess      = qp.StatusSuccess
	StatusLocProtErr   = qp.StatusLocProtErr
	StatusRemAccessErr = qp.StatusRemAccessErr
	StatusLocLenErr    = qp.StatusLocLenErr
	StatusRemInvReq    = qp.StatusRemInvReq
)

// Queue pair states.
const (
	StateReset = qp.StateReset
	StateInit  = qp.StateInit
	StateRTR   = qp.StateRTR
	StateRTS   = qp.StateRTS
	StateError = qp.StateError
)

// Memory region access flags.
const (
	AccessLocalRead   = mr.AccessLocalRead
	AccessLocalWrite  = mr.AccessLocalWrite
	AccessRemoteRead  = mr.AccessRemoteRead
	AccessRemoteWrite = mr.AccessRemoteWrite
)

// Config wires a Core to its collaborators.
type Config struct {
	// Memory provides page allocation for ring buffers and the DMA view
	// of physical memory. Required.
	Memory mem.Memory

	// Link is the NIC transmit side. If nil, the core runs loopback-only
	// and transmitted frames are discarded.
	Link Link

	// Bell is the hardware doorbell. If nil, the software executor is the
	// only consumer of posted work.
	Bell Doorbell

	// Logger for diagnostics. If nil, the package default is used.
	Logger *logging.Logger

	// Observer for metrics collection. If nil, events are recorded into
	// the core's own Metrics.
	Observer Observer
}

// Core is one host's RDMA subsystem: the MR registry and the QP engine,
// initialized together in order, as the kernel does at boot.
type Core struct {
	regions *mr.Registry
	qps     *qp.Table
	metrics *Metrics
	logger  *logging.Logger
}

// New creates a core. Initialization is eager: both tables exist and are
// empty when New returns.
func New(cfg Config) (*Core, error) {
	if cfg.Memory == nil {
		return nil, NewError("INIT", CodeInvalidArgument, "config needs a Memory implementation")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	lnk := cfg.Link
	if lnk == nil {
		lnk = link.NewDrop(MAC{})
	}

	metrics := NewMetrics()
	observer := cfg.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	c := &Core{
		regions: mr.NewRegistry(logger),
		metrics: metrics,
		logger:  logger,
	}
	c.qps = qp.NewTable(qp.Config{
		Mem:      cfg.Memory,
		Regions:  c.regions,
		Link:     lnk,
		Bell:     cfg.Bell,
		Logger:   logger,
		Observer: observer,
	})

	logger.Debug("rdma: core initialized")
	return c, nil
}

// RegisterMR validates, translates, and pins a user buffer. The range must
// be non-empty, lie inside the caller's user address space, and stay
// within a single page. Returns the 1-based MR id; the id doubles as both
// keys.
func (c *Core) RegisterMR(p *Proc, vaddr, length uint64, access Access) (int, error) {
	return c.regions.Register(p, vaddr, length, access)
}

// DeregisterMR removes a region. It fails with CodeBusy while operations
// are in flight and with CodeNotOwned for anyone but the registering
// process.
func (c *Core) DeregisterMR(p *Proc, mrID int) error {
	return c.regions.Deregister(p, mrID)
}

// MRInfo returns a snapshot of a caller-owned region.
func (c *Core) MRInfo(p *Proc, mrID int) (MRInfo, bool) {
	return c.regions.Lookup(p, mrID)
}

// CreateQP allocates a queue pair with the given ring depths (powers of
// two, each ring at most one page). Returns the 0-based QP id.
func (c *Core) CreateQP(p *Proc, sqSize, cqSize uint32) (int, error) {
	return c.qps.Create(p, sqSize, cqSize)
}

// DestroyQP tears down a queue pair, logging and leaking any outstanding
// operations rather than blocking a terminating process.
func (c *Core) DestroyQP(p *Proc, qpID int) error {
	return c.qps.Destroy(p, qpID)
}

// Connect installs the peer association and arms the QP for network
// operation. Legal only from INIT.
func (c *Core) Connect(p *Proc, qpID int, remoteMAC MAC, remoteQP uint16) error {
	return c.qps.Connect(p, qpID, remoteMAC, remoteQP)
}

// PostSend appends a work request to the send queue and drains the queue
// inline. wr must point at a kernel copy of the user request.
func (c *Core) PostSend(p *Proc, qpID int, wr *WorkRequest) error {
	return c.qps.PostSend(p, qpID, wr)
}

// PollCQ copies up to len(out) completions into out. An empty completion
// queue returns 0.
func (c *Core) PollCQ(p *Proc, qpID int, out []Completion) (int, error) {
	return c.qps.PollCQ(p, qpID, out)
}

// QPInfo returns a snapshot of a caller-owned queue pair.
func (c *Core) QPInfo(p *Proc, qpID int) (QPInfo, error) {
	return c.qps.Info(p, qpID)
}

// Rx is the NIC RX callback. The driver invokes it for every inbound
// frame whose ethertype is EtherTypeRDMA.
func (c *Core) Rx(frame []byte, srcMAC MAC) {
	c.qps.Rx(frame, srcMAC)
}

// ReleaseProcess is the process-teardown hook: it destroys every QP and
// force-releases every MR owned by pid. Called from process exit so slots
// do not leak when a process dies without cleaning up.
func (c *Core) ReleaseProcess(pid int) {
	qps := c.qps.ReleaseAll(pid)
	mrs := c.regions.ReleaseAll(pid)
	if qps > 0 || mrs > 0 {
		c.logger.Info("rdma: reclaimed resources from exited process",
			"pid", pid, "qps", qps, "mrs", mrs)
	}
}

// Metrics returns the core's metrics.
func (c *Core) Metrics() *Metrics {
	return c.metrics
}
