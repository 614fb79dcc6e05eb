// Package qp implements the queue-pair engine: a fixed table of send and
// completion rings, the connection state machine, the inline work
// executor, and the network WRITE/ACK protocol paths.
package qp

import (
	"unsafe"

	"github.com/ankit-raj78/xv6-RDMA/internal/constants"
	"github.com/ankit-raj78/xv6-RDMA/internal/mem"
)

// Opcode is the work-request operation type.
type Opcode uint8

const (
	OpWrite    Opcode = 0x01 // write local data to remote memory
	OpRead     Opcode = 0x02 // read remote memory to local
	OpSend     Opcode = 0x03 // send message
	OpReadResp Opcode = 0x04 // response to a READ request
)

func (o Opcode) String() string {
	switch o {
	case OpWrite:
		return "WRITE"
	case OpRead:
		return "READ"
	case OpSend:
		return "SEND"
	case OpReadResp:
		return "READ_RESP"
	}
	return "UNKNOWN"
}

// WRFlags is the work-request control bit set.
type WRFlags uint8

const (
	// FlagSignaled requests a completion entry on success. Errors always
	// produce a completion regardless of this bit.
	FlagSignaled WRFlags = 1 << 0
)

// Status is the completion status code.
type Status uint8

const (
	StatusSuccess      Status = 0x00
	StatusLocProtErr   Status = 0x01 // local protection violation
	StatusRemAccessErr Status = 0x02 // remote access denied
	StatusLocLenErr    Status = 0x03 // local length error
	StatusRemInvReq    Status = 0x04 // remote invalid request
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusLocProtErr:
		return "LOC_PROT_ERR"
	case StatusRemAccessErr:
		return "REM_ACCESS_ERR"
	case StatusLocLenErr:
		return "LOC_LEN_ERR"
	case StatusRemInvReq:
		return "REM_INV_REQ"
	}
	return "UNKNOWN"
}

// State tracks the queue-pair lifecycle.
type State int

const (
	StateReset State = iota // not configured
	StateInit               // allocated, loopback-capable
	StateRTR                // peer installed, ready to receive
	StateRTS                // peer installed, ready to send
	StateError              // terminal until destroy
)

func (s State) String() string {
	switch s {
	case StateReset:
		return "RESET"
	case StateInit:
		return "INIT"
	case StateRTR:
		return "RTR"
	case StateRTS:
		return "RTS"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// WorkRequest describes one posted operation. It is the send-queue ring
// entry; the layout is fixed so rings can live directly in kernel pages.
//
// LocalOffset is an offset within the local MR as posted by the user; the
// copy placed in the ring has it rewritten to the physical byte address,
// so the executor reads a DMA-ready address.
type WorkRequest struct {
	WRID        uint64
	LocalOffset uint64
	RemoteAddr  uint64
	LocalMR     uint32
	RemoteMR    uint32
	RemoteKey   uint32
	Length      uint32
	Opcode      Opcode
	Flags       WRFlags
	_           [6]byte
}

// Completion is one completion-queue ring entry.
type Completion struct {
	WRID    uint64
	ByteLen uint32
	Status  Status
	Opcode  Opcode
	_       [2]byte
}

// Ring entries must keep their size: each ring is exactly one page and the
// maximum depth is derived from these.
var _ [48]byte = [unsafe.Sizeof(WorkRequest{})]byte{}
var _ [16]byte = [unsafe.Sizeof(Completion{})]byte{}

const (
	wrSize  = int(unsafe.Sizeof(WorkRequest{}))
	cqeSize = int(unsafe.Sizeof(Completion{}))

	// MaxSQEntries and MaxCQEntries bound ring depths to one page.
	MaxSQEntries = constants.PageSize / wrSize
	MaxCQEntries = constants.PageSize / cqeSize
)

// sqView and cqView reinterpret a ring page as typed entries, the same way
// the descriptor arrays of a real device are overlaid on mapped memory.
func sqView(p *mem.Page, size uint32) []WorkRequest {
	return unsafe.Slice((*WorkRequest)(unsafe.Pointer(&p.Buf[0])), size)
}

func cqView(p *mem.Page, size uint32) []Completion {
	return unsafe.Slice((*Completion)(unsafe.Pointer(&p.Buf[0])), size)
}

// pendingAck tracks one transmitted, unacknowledged network write.
type pendingAck struct {
	valid bool
	seq   uint32
	wrID  uint64
}

// Observer receives engine events for metrics collection. Implementations
// must be safe for concurrent use; methods are called from the executor
// and the RX thread.
type Observer interface {
	ObservePost(op Opcode)
	ObserveCompletion(status Status, bytes uint32)
	ObserveFrameTx(bytes int)
	ObserveFrameRx(bytes int)
	ObserveAck(matched bool)
	ObserveDrop()
}
