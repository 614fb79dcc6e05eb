package qp

import (
	"github.com/ankit-raj78/xv6-RDMA/internal/mr"
)

// process drains the send queue from head to tail, dispatching each work
// request. Runs inline at the tail of PostSend with the table lock held;
// this is the software doorbell. Local MR refcounts taken at post time are
// dropped here once the request leaves the executor.
func (t *Table) process(q *queuePair) {
	for q.sqHead != q.sqTail {
		wr := &q.sq[q.sqHead]

		if q.networkMode && q.state == StateRTS {
			t.dispatchNetwork(q, wr)
		} else {
			t.dispatchLoopback(q, wr)
		}

		t.cfg.Regions.Unpin(int(wr.LocalMR))
		q.sqHead = (q.sqHead + 1) & (q.sqSize - 1)
		q.outstanding--
	}
}

// dispatchNetwork transmits a WRITE frame to the connected peer. The
// completion for a successful transmit is posted later, when the ACK
// arrives; transmit-path failures complete with an error immediately.
func (t *Table) dispatchNetwork(q *queuePair, wr *WorkRequest) {
	switch wr.Opcode {
	case OpWrite:
		if err := t.txWrite(q, wr); err != nil {
			t.cfg.Logger.Debug("qp: network write failed", "qp", q.id, "err", err)
			t.postCompletion(q, Completion{
				WRID:   wr.WRID,
				Status: StatusLocProtErr,
				Opcode: wr.Opcode,
			})
		}
	default:
		// READ, SEND, and READ_RESP have no network path yet.
		t.postCompletion(q, Completion{
			WRID:   wr.WRID,
			Status: StatusLocProtErr,
			Opcode: wr.Opcode,
		})
	}
}

// dispatchLoopback performs the operation against local memory and posts a
// completion when the request is signaled or failed.
func (t *Table) dispatchLoopback(q *queuePair, wr *WorkRequest) {
	var status Status
	switch wr.Opcode {
	case OpWrite:
		status = t.loopbackWrite(q, wr)
	default:
		// READ, SEND, and READ_RESP are unimplemented by design.
		status = StatusLocProtErr
	}

	if wr.Flags&FlagSignaled != 0 || status != StatusSuccess {
		byteLen := uint32(0)
		if status == StatusSuccess {
			byteLen = wr.Length
		}
		t.postCompletion(q, Completion{
			WRID:    wr.WRID,
			ByteLen: byteLen,
			Status:  status,
			Opcode:  wr.Opcode,
		})
	}
}

// loopbackWrite copies the pinned source span into the destination MR of
// the same process. wr.LocalOffset already holds the source physical
// address.
func (t *Table) loopbackWrite(q *queuePair, wr *WorkRequest) Status {
	dst, ok := t.cfg.Regions.Lookup(q.owner, int(wr.RemoteMR))
	if !ok {
		return StatusRemAccessErr
	}
	if dst.Access&mr.AccessRemoteWrite == 0 {
		return StatusRemAccessErr
	}

	offset, ok := resolveRemoteAddr(&dst, wr.RemoteAddr)
	if !ok {
		return StatusRemInvReq
	}
	if offset+uint64(wr.Length) > dst.Length {
		return StatusRemInvReq
	}

	src, err := t.cfg.Mem.Window(wr.LocalOffset, wr.Length)
	if err != nil {
		return StatusLocLenErr
	}
	dstWin, err := t.cfg.Mem.Window(dst.Paddr+offset, wr.Length)
	if err != nil {
		return StatusRemInvReq
	}

	copy(dstWin, src)
	return StatusSuccess
}

// resolveRemoteAddr interprets a work request's remote address against the
// destination region: an address inside [Vaddr, Vaddr+Length) is absolute,
// anything below Length is an offset.
//
// TODO: pick one interpretation. A small offset that coincidentally falls
// inside the virtual range is read as absolute, which silently shifts the
// destination.
func resolveRemoteAddr(dst *mr.Region, addr uint64) (uint64, bool) {
	if addr >= dst.Vaddr && addr < dst.Vaddr+dst.Length {
		return addr - dst.Vaddr, true
	}
	if addr < dst.Length {
		return addr, true
	}
	return 0, false
}
