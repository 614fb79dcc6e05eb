// Package hw carries the NIC register map for hardware-offloaded queue
// processing. The software executor is the normative engine; this register
// path exists so a device model can take over SQ draining without touching
// the queue-pair engine.
//
// TODO: wire a device model behind Doorbell; today only the stub exists.
package hw

// Register offsets in the NIC's RDMA register block.
const (
	RegCtrl       = 0x00 // control register
	RegStatus     = 0x04 // status register
	RegMRTablePtr = 0x08 // MR table physical address
	RegMRTableLen = 0x0C // MR table length
)

// Per-QP register block.
const (
	QPBase   = 0x100 // QP registers start
	QPStride = 0x20  // bytes per QP

	QPSQBase = 0x00 // send queue base address
	QPSQSize = 0x08 // send queue size
	QPSQHead = 0x0C // send queue head
	QPSQTail = 0x10 // send queue tail (doorbell)
	QPCQBase = 0x14 // completion queue base
	QPCQSize = 0x18 // completion queue size
	QPCQHead = 0x1C // completion queue head
)

// Control register bits.
const (
	CtrlEnable = 1 << 0
	CtrlReset  = 1 << 1
)

// Status register bits.
const (
	StatusReady = 1 << 0
)

// Doorbell is the hardware-facing half of queue-pair setup. SetupQP
// publishes ring geometry when a QP is created; Ring advertises a new SQ
// tail after a post.
type Doorbell interface {
	SetupQP(qp int, sqPaddr, cqPaddr uint64, sqSize, cqSize uint32)
	Ring(qp int, sqTail uint32)
}

// Stub is a no-op Doorbell for the software-only configuration.
type Stub struct{}

func (Stub) SetupQP(int, uint64, uint64, uint32, uint32) {}
func (Stub) Ring(int, uint32)                            {}

var _ Doorbell = Stub{}
