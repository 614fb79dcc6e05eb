package qp

import (
	"github.com/ankit-raj78/xv6-RDMA/internal/constants"
	"github.com/ankit-raj78/xv6-RDMA/internal/mr"
	"github.com/ankit-raj78/xv6-RDMA/internal/wire"
)

// txWrite builds and transmits a WRITE frame for the connected peer.
// Caller holds the table lock. Signaled writes are recorded in the
// pending-ACK table so the ACK can complete them; the sequence number
// advances for every transmitted write.
func (t *Table) txWrite(q *queuePair, wr *WorkRequest) error {
	payload, err := t.cfg.Mem.Window(wr.LocalOffset, wr.Length)
	if err != nil {
		return err
	}

	var flags uint8
	if wr.Flags&FlagSignaled != 0 {
		flags = wire.FlagSignaled
	}
	hdr := wire.Header{
		Opcode:     wire.OpWrite,
		Flags:      flags,
		SrcQP:      uint16(q.id),
		DstQP:      q.remoteQP,
		SeqNum:     q.txSeq,
		LocalMR:    wr.LocalMR,
		RemoteMR:   wr.RemoteMR,
		RemoteAddr: wr.RemoteAddr,
		Length:     wr.Length,
		RemoteKey:  wr.RemoteKey,
	}
	frame := wire.BuildFrame(q.remoteMAC, t.cfg.Link.LocalMAC(), &hdr, payload)

	// Only signaled writes are tracked: an unsignaled success never
	// produces a completion, so its ACK has nothing to match. With no
	// free slot the write goes out untracked and its ACK is ignored.
	ackSlot := -1
	if wr.Flags&FlagSignaled != 0 {
		for i := range q.pendingAcks {
			if !q.pendingAcks[i].valid {
				q.pendingAcks[i] = pendingAck{valid: true, seq: q.txSeq, wrID: wr.WRID}
				ackSlot = i
				break
			}
		}
	}

	q.txSeq++
	if q.state == StateRTR {
		q.state = StateRTS
	}

	if err := t.cfg.Link.Transmit(frame); err != nil {
		if ackSlot >= 0 {
			q.pendingAcks[ackSlot] = pendingAck{}
		}
		return err
	}
	if t.cfg.Observer != nil {
		t.cfg.Observer.ObserveFrameTx(len(frame))
	}
	return nil
}

// txAck emits an ACK for a received write. Caller holds the table lock.
func (t *Table) txAck(q *queuePair, remoteQP uint16, seq uint32, dstMAC [constants.MACLen]byte) {
	hdr := wire.Header{
		Opcode: wire.OpAck,
		SrcQP:  uint16(q.id),
		DstQP:  remoteQP,
		SeqNum: seq,
	}
	frame := wire.BuildFrame(dstMAC, t.cfg.Link.LocalMAC(), &hdr, nil)
	if err := t.cfg.Link.Transmit(frame); err != nil {
		t.cfg.Logger.Debug("qp: ack transmit failed", "qp", q.id, "seq", seq, "err", err)
		return
	}
	if t.cfg.Observer != nil {
		t.cfg.Observer.ObserveFrameTx(len(frame))
	}
}

// Rx handles one inbound frame of the RDMA ethertype. Validation failures
// drop the frame silently; the protocol carries no remote error reporting.
func (t *Table) Rx(frame []byte, srcMAC [constants.MACLen]byte) {
	hdr, payload, err := wire.ParseFrame(frame)
	if err != nil {
		t.drop("unparseable frame", err)
		return
	}
	if t.cfg.Observer != nil {
		t.cfg.Observer.ObserveFrameRx(len(frame))
	}

	dstQP := int(hdr.DstQP)
	if dstQP >= constants.MaxQPs {
		t.drop("destination QP out of range", nil)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	q := &t.qps[dstQP]
	if !q.valid {
		t.drop("destination QP not active", nil)
		return
	}

	switch hdr.Opcode {
	case wire.OpWrite:
		t.rxWrite(q, &hdr, payload, srcMAC)
	case wire.OpAck:
		t.rxAck(q, &hdr)
	default:
		t.drop("unhandled opcode", nil)
	}
}

// rxWrite lands a peer's write into the destination MR, posts the
// receiver-side completion, and acknowledges. Caller holds the table lock.
func (t *Table) rxWrite(q *queuePair, hdr *wire.Header, payload []byte, srcMAC [constants.MACLen]byte) {
	if q.state == StateRTR {
		q.state = StateRTS
	}

	dst, ok := t.cfg.Regions.LookupDMA(int(hdr.RemoteMR))
	if !ok {
		t.drop("write to unknown MR", nil)
		return
	}
	if dst.Access&mr.AccessRemoteWrite == 0 {
		t.drop("write to MR without remote-write access", nil)
		return
	}

	offset, ok := resolveRemoteAddr(&dst, hdr.RemoteAddr)
	if !ok {
		t.drop("write address outside MR", nil)
		return
	}
	if offset+uint64(hdr.Length) > dst.Length {
		t.drop("write beyond MR bounds", nil)
		return
	}
	if uint64(len(payload)) < uint64(hdr.Length) {
		t.drop("write payload truncated", nil)
		return
	}

	win, err := t.cfg.Mem.Window(dst.Paddr+offset, hdr.Length)
	if err != nil {
		t.drop("destination span invalid", err)
		return
	}
	copy(win, payload[:hdr.Length])

	// The receiver does not know the sender's wr_id.
	t.postCompletion(q, Completion{
		WRID:    0,
		ByteLen: hdr.Length,
		Status:  StatusSuccess,
		Opcode:  OpWrite,
	})

	t.txAck(q, hdr.SrcQP, hdr.SeqNum, srcMAC)
}

// rxAck matches an ACK against the pending table and posts the
// sender-side completion. Caller holds the table lock.
func (t *Table) rxAck(q *queuePair, hdr *wire.Header) {
	for i := range q.pendingAcks {
		pa := &q.pendingAcks[i]
		if pa.valid && pa.seq == hdr.SeqNum {
			t.postCompletion(q, Completion{
				WRID:    pa.wrID,
				ByteLen: hdr.Length,
				Status:  StatusSuccess,
				Opcode:  OpWrite,
			})
			*pa = pendingAck{}
			if t.cfg.Observer != nil {
				t.cfg.Observer.ObserveAck(true)
			}
			return
		}
	}
	if t.cfg.Observer != nil {
		t.cfg.Observer.ObserveAck(false)
	}
}

func (t *Table) drop(reason string, err error) {
	if t.cfg.Observer != nil {
		t.cfg.Observer.ObserveDrop()
	}
	if err != nil {
		t.cfg.Logger.Debug("qp: frame dropped", "reason", reason, "err", err)
		return
	}
	t.cfg.Logger.Debug("qp: frame dropped", "reason", reason)
}
