package qp

import (
	"sync"

	"github.com/ankit-raj78/xv6-RDMA/internal/constants"
	"github.com/ankit-raj78/xv6-RDMA/internal/errs"
	"github.com/ankit-raj78/xv6-RDMA/internal/hw"
	"github.com/ankit-raj78/xv6-RDMA/internal/link"
	"github.com/ankit-raj78/xv6-RDMA/internal/logging"
	"github.com/ankit-raj78/xv6-RDMA/internal/mem"
	"github.com/ankit-raj78/xv6-RDMA/internal/mr"
)

// queuePair is one slot of the QP table. Ring payloads are touched only by
// the table lock holder; the executor runs inline under that lock.
type queuePair struct {
	id       int
	owner    *mem.Proc
	ownerPID int
	valid    bool
	state    State

	sqPage *mem.Page
	sq     []WorkRequest
	sqHead uint32
	sqTail uint32
	sqSize uint32

	cqPage *mem.Page
	cq     []Completion
	cqHead uint32
	cqTail uint32
	cqSize uint32

	outstanding uint32

	sends       uint32
	completions uint32
	errors      uint32

	remoteMAC   [constants.MACLen]byte
	remoteQP    uint16
	connected   bool
	networkMode bool

	txSeq         uint32
	rxExpectedSeq uint32 // reserved for ordered delivery
	pendingAcks   [constants.PendingAckSlots]pendingAck
}

// Config wires the table to its collaborators.
type Config struct {
	Mem      mem.Memory
	Regions  *mr.Registry
	Link     link.Link
	Bell     hw.Doorbell
	Logger   *logging.Logger
	Observer Observer // may be nil
}

// Table is the system-wide QP table. A single mutex covers all slots and
// their rings.
type Table struct {
	mu  sync.Mutex
	qps [constants.MaxQPs]queuePair
	cfg Config
}

// NewTable creates an empty table.
func NewTable(cfg Config) *Table {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Bell == nil {
		cfg.Bell = hw.Stub{}
	}
	t := &Table{cfg: cfg}
	t.cfg.Logger.Debug("qp: initialized table", "slots", constants.MaxQPs)
	return t
}

func powerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// Create allocates a queue pair with the given ring depths. Depths must be
// powers of two and each ring must fit in one page. Returns the 0-based
// QP id.
func (t *Table) Create(p *mem.Proc, sqSize, cqSize uint32) (int, error) {
	const op = "CREATE_QP"

	if p == nil {
		return -1, errs.New(op, errs.CodeInvalidArgument, "no calling process")
	}
	if !powerOfTwo(sqSize) || !powerOfTwo(cqSize) {
		return -1, errs.New(op, errs.CodeInvalidArgument, "ring sizes must be powers of two")
	}
	if sqSize > uint32(MaxSQEntries) || cqSize > uint32(MaxCQEntries) {
		return -1, errs.New(op, errs.CodeInvalidArgument, "ring does not fit in one page")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var q *queuePair
	id := -1
	for i := range t.qps {
		if !t.qps[i].valid {
			q = &t.qps[i]
			id = i
			break
		}
	}
	if q == nil {
		return -1, errs.New(op, errs.CodeNoSlots, "QP table full")
	}

	sqPage, err := t.cfg.Mem.AllocPage()
	if err != nil {
		return -1, errs.Wrap(op, err).WithCode(errs.CodeNoMemory)
	}
	cqPage, err := t.cfg.Mem.AllocPage()
	if err != nil {
		t.cfg.Mem.FreePage(sqPage)
		return -1, errs.Wrap(op, err).WithCode(errs.CodeNoMemory)
	}

	*q = queuePair{
		id:       id,
		owner:    p,
		ownerPID: p.PID,
		valid:    true,
		state:    StateInit,
		sqPage:   sqPage,
		sq:       sqView(sqPage, sqSize),
		sqSize:   sqSize,
		cqPage:   cqPage,
		cq:       cqView(cqPage, cqSize),
		cqSize:   cqSize,
	}

	t.cfg.Bell.SetupQP(id, sqPage.Paddr, cqPage.Paddr, sqSize, cqSize)

	t.cfg.Logger.Debug("qp: created",
		"qp", id, "pid", p.PID, "sq_size", sqSize, "cq_size", cqSize)
	return id, nil
}

// Destroy tears down a queue pair. Outstanding operations are logged and
// leaked rather than blocking a terminating process.
func (t *Table) Destroy(p *mem.Proc, qpID int) error {
	const op = "DESTROY_QP"

	if qpID < 0 || qpID >= constants.MaxQPs {
		return errs.NewQP(op, qpID, errs.CodeInvalidArgument, "QP id out of range")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	q := &t.qps[qpID]
	if !q.valid || q.owner != p || q.ownerPID != p.PID {
		return errs.NewQP(op, qpID, errs.CodeNotOwned, "QP not owned by caller")
	}

	t.release(q)
	return nil
}

// release frees a slot's pages and clears it. Caller holds the table lock.
func (t *Table) release(q *queuePair) {
	if q.outstanding > 0 {
		t.cfg.Logger.Warn("qp: destroying with outstanding operations",
			"qp", q.id, "outstanding", q.outstanding)
	}
	t.cfg.Logger.Debug("qp: destroyed",
		"qp", q.id, "sends", q.sends, "completions", q.completions, "errors", q.errors)

	t.cfg.Mem.FreePage(q.sqPage)
	t.cfg.Mem.FreePage(q.cqPage)
	*q = queuePair{}
}

// Connect installs the peer association and arms the QP for network
// operation. Legal only from INIT; the QP moves straight to RTS because
// the underlying link is treated as reliable.
func (t *Table) Connect(p *mem.Proc, qpID int, remoteMAC [constants.MACLen]byte, remoteQP uint16) error {
	const op = "CONNECT_QP"

	if qpID < 0 || qpID >= constants.MaxQPs {
		return errs.NewQP(op, qpID, errs.CodeInvalidArgument, "QP id out of range")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	q := &t.qps[qpID]
	if !q.valid || q.owner != p || q.ownerPID != p.PID {
		return errs.NewQP(op, qpID, errs.CodeNotOwned, "QP not owned by caller")
	}
	if q.state != StateInit {
		return errs.NewQP(op, qpID, errs.CodeBadState, "connect requires INIT state")
	}

	q.remoteMAC = remoteMAC
	q.remoteQP = remoteQP
	q.networkMode = true
	q.connected = true
	q.txSeq = 1
	q.rxExpectedSeq = 1
	q.state = StateRTS

	t.cfg.Logger.Debug("qp: connected",
		"qp", qpID, "remote_qp", remoteQP, "remote_mac", macString(remoteMAC))
	return nil
}

// PostSend validates a work request, appends it to the send queue, and
// drains the queue inline. The MR phase runs before the QP lock is taken;
// on any later failure the pin is undone.
func (t *Table) PostSend(p *mem.Proc, qpID int, wr *WorkRequest) error {
	const op = "POST_SEND"

	if qpID < 0 || qpID >= constants.MaxQPs || wr == nil {
		return errs.NewQP(op, qpID, errs.CodeInvalidArgument, "bad QP id or nil work request")
	}

	region, ok := t.cfg.Regions.Pin(p, int(wr.LocalMR))
	if !ok {
		return errs.NewMR(op, int(wr.LocalMR), errs.CodeInvalidArgument, "local MR not registered by caller")
	}
	if wr.LocalOffset+uint64(wr.Length) > region.Length {
		t.cfg.Regions.Unpin(int(wr.LocalMR))
		return errs.NewMR(op, int(wr.LocalMR), errs.CodeInvalidArgument, "request exceeds MR bounds")
	}
	physAddr := region.Paddr + wr.LocalOffset

	t.mu.Lock()
	defer t.mu.Unlock()

	q := &t.qps[qpID]
	if !q.valid || q.owner != p || q.ownerPID != p.PID {
		t.cfg.Regions.Unpin(int(wr.LocalMR))
		return errs.NewQP(op, qpID, errs.CodeNotOwned, "QP not owned by caller")
	}
	if q.state != StateInit && q.state != StateRTR && q.state != StateRTS {
		t.cfg.Regions.Unpin(int(wr.LocalMR))
		return errs.NewQP(op, qpID, errs.CodeBadState, "QP not ready for posting")
	}

	nextTail := (q.sqTail + 1) & (q.sqSize - 1)
	if nextTail == q.sqHead {
		q.errors++
		t.cfg.Regions.Unpin(int(wr.LocalMR))
		return errs.NewQP(op, qpID, errs.CodeQueueFull, "send queue full")
	}

	kwr := *wr
	kwr.LocalOffset = physAddr
	q.sq[q.sqTail] = kwr
	q.sqTail = nextTail

	q.outstanding++
	q.sends++
	if t.cfg.Observer != nil {
		t.cfg.Observer.ObservePost(wr.Opcode)
	}

	t.cfg.Bell.Ring(qpID, q.sqTail)
	t.process(q)
	return nil
}

// PollCQ copies up to len(out) completions into out and advances the CQ
// head. An empty queue returns 0.
func (t *Table) PollCQ(p *mem.Proc, qpID int, out []Completion) (int, error) {
	const op = "POLL_CQ"

	if qpID < 0 || qpID >= constants.MaxQPs || len(out) == 0 {
		return 0, errs.NewQP(op, qpID, errs.CodeInvalidArgument, "bad QP id or empty output buffer")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	q := &t.qps[qpID]
	if !q.valid || q.owner != p || q.ownerPID != p.PID {
		return 0, errs.NewQP(op, qpID, errs.CodeNotOwned, "QP not owned by caller")
	}

	n := 0
	for q.cqHead != q.cqTail && n < len(out) {
		out[n] = q.cq[q.cqHead]
		q.cqHead = (q.cqHead + 1) & (q.cqSize - 1)
		n++
	}
	return n, nil
}

// ReleaseAll destroys every QP owned by pid. It is the process-teardown
// hook; outstanding operations are leaked with a warning as in Destroy.
// Returns the number of QPs released.
func (t *Table) ReleaseAll(pid int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.qps {
		q := &t.qps[i]
		if q.valid && q.ownerPID == pid {
			t.release(q)
			n++
		}
	}
	return n
}

// Stats is a snapshot of per-QP counters.
type Stats struct {
	Sends       uint32
	Completions uint32
	Errors      uint32
}

// Info is a point-in-time snapshot of one queue pair.
type Info struct {
	ID          int
	State       State
	Connected   bool
	NetworkMode bool
	Outstanding uint32
	TxSeq       uint32
	PendingAcks int
	Stats       Stats
}

// Info returns a snapshot of a caller-owned queue pair.
func (t *Table) Info(p *mem.Proc, qpID int) (Info, error) {
	const op = "QUERY_QP"

	if qpID < 0 || qpID >= constants.MaxQPs {
		return Info{}, errs.NewQP(op, qpID, errs.CodeInvalidArgument, "QP id out of range")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	q := &t.qps[qpID]
	if !q.valid || q.owner != p || q.ownerPID != p.PID {
		return Info{}, errs.NewQP(op, qpID, errs.CodeNotOwned, "QP not owned by caller")
	}

	pending := 0
	for i := range q.pendingAcks {
		if q.pendingAcks[i].valid {
			pending++
		}
	}
	return Info{
		ID:          q.id,
		State:       q.state,
		Connected:   q.connected,
		NetworkMode: q.networkMode,
		Outstanding: q.outstanding,
		TxSeq:       q.txSeq,
		PendingAcks: pending,
		Stats: Stats{
			Sends:       q.sends,
			Completions: q.completions,
			Errors:      q.errors,
		},
	}, nil
}

// postCompletion appends one entry to the CQ and updates counters. Caller
// holds the table lock.
//
// TODO: CQ overrun is not detected; a burst of receiver-side completions
// beyond cqSize overwrites unread entries. Bound CQ production or fail the
// producer once a depth accounting exists.
func (t *Table) postCompletion(q *queuePair, c Completion) {
	q.cq[q.cqTail] = c
	q.cqTail = (q.cqTail + 1) & (q.cqSize - 1)
	if c.Status == StatusSuccess {
		q.completions++
	} else {
		q.errors++
	}
	if t.cfg.Observer != nil {
		t.cfg.Observer.ObserveCompletion(c.Status, c.ByteLen)
	}
}

func macString(mac [constants.MACLen]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, 17)
	for i, b := range mac {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexdigits[b>>4], hexdigits[b&0xf])
	}
	return string(out)
}
