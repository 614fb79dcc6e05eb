package qp

import (
	"bytes"
	"testing"

	"github.com/ankit-raj78/xv6-RDMA/internal/constants"
	"github.com/ankit-raj78/xv6-RDMA/internal/mem"
	"github.com/ankit-raj78/xv6-RDMA/internal/mr"
	"github.com/ankit-raj78/xv6-RDMA/internal/wire"
)

var (
	macA = [constants.MACLen]byte{0x02, 0, 0, 0, 0, 0x0a}
	macB = [constants.MACLen]byte{0x02, 0, 0, 0, 0, 0x0b}
)

// netPair builds two hosts with capture links so tests can shuttle frames
// between the tables by hand, deterministically.
type netPair struct {
	a, b     *env
	aln, bln *captureLink
	procA    *mem.Proc
	procB    *mem.Proc
	qpA, qpB int
	srcMR    int // on A, readable
	dstMR    int // on B, remote-writable
}

func newNetPair(t *testing.T, length uint32, dstAccess mr.Access) *netPair {
	t.Helper()

	aln := &captureLink{mac: macA}
	bln := &captureLink{mac: macB}
	a := newEnv(t, aln)
	b := newEnv(t, bln)

	procA := a.newProc(t, 1)
	procB := b.newProc(t, 1)

	srcMR := a.register(t, procA, userBase, uint64(length), mr.AccessLocalRead|mr.AccessRemoteRead)
	dstMR := b.register(t, procB, userBase, uint64(length), dstAccess)

	qpA, err := a.tbl.Create(procA, 64, 64)
	if err != nil {
		t.Fatalf("Create A failed: %v", err)
	}
	qpB, err := b.tbl.Create(procB, 64, 64)
	if err != nil {
		t.Fatalf("Create B failed: %v", err)
	}

	if err := a.tbl.Connect(procA, qpA, macB, uint16(qpB)); err != nil {
		t.Fatalf("Connect A failed: %v", err)
	}
	if err := b.tbl.Connect(procB, qpB, macA, uint16(qpA)); err != nil {
		t.Fatalf("Connect B failed: %v", err)
	}

	return &netPair{
		a: a, b: b, aln: aln, bln: bln,
		procA: procA, procB: procB,
		qpA: qpA, qpB: qpB,
		srcMR: srcMR, dstMR: dstMR,
	}
}

// deliverToB replays A's captured frames into B's RX path, and vice versa.
func (n *netPair) deliverToB(t *testing.T) int {
	t.Helper()
	count := len(n.aln.frames)
	for _, f := range n.aln.frames {
		n.b.tbl.Rx(f, macA)
	}
	n.aln.frames = nil
	return count
}

func (n *netPair) deliverToA(t *testing.T) int {
	t.Helper()
	count := len(n.bln.frames)
	for _, f := range n.bln.frames {
		n.a.tbl.Rx(f, macB)
	}
	n.bln.frames = nil
	return count
}

func TestNetworkWriteAndAck(t *testing.T) {
	p := newNetPair(t, 256, mr.AccessLocalWrite|mr.AccessRemoteWrite)

	pattern := make([]byte, 256)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	p.a.writeUser(t, p.procA, userBase, pattern)

	wr := &WorkRequest{
		WRID:     42,
		Opcode:   OpWrite,
		Flags:    FlagSignaled,
		LocalMR:  uint32(p.srcMR),
		RemoteMR: uint32(p.dstMR),
		Length:   256,
	}
	if err := p.a.tbl.PostSend(p.procA, p.qpA, wr); err != nil {
		t.Fatalf("PostSend failed: %v", err)
	}

	// No completion until the ACK comes back.
	comps := make([]Completion, 4)
	if n, _ := p.a.tbl.PollCQ(p.procA, p.qpA, comps); n != 0 {
		t.Fatalf("sender completed before ACK: %d entries", n)
	}

	if n := p.deliverToB(t); n != 1 {
		t.Fatalf("A transmitted %d frames, want 1", n)
	}

	// B landed the payload and completed on the receive side.
	got := p.b.readUser(t, p.procB, userBase, 256)
	if !bytes.Equal(got, pattern) {
		t.Error("payload bytes differ on receiver")
	}
	n, err := p.b.tbl.PollCQ(p.procB, p.qpB, comps)
	if err != nil {
		t.Fatalf("PollCQ B failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("receiver completions = %d, want 1", n)
	}
	if comps[0].WRID != 0 || comps[0].Status != StatusSuccess || comps[0].ByteLen != 256 {
		t.Errorf("receiver completion = %+v, want wr_id=0 SUCCESS 256", comps[0])
	}

	// The ACK releases the sender-side completion with the original id.
	if n := p.deliverToA(t); n != 1 {
		t.Fatalf("B transmitted %d frames, want 1 ACK", n)
	}
	n, _ = p.a.tbl.PollCQ(p.procA, p.qpA, comps)
	if n != 1 {
		t.Fatalf("sender completions = %d, want 1", n)
	}
	if comps[0].WRID != 42 || comps[0].Status != StatusSuccess {
		t.Errorf("sender completion = %+v, want wr_id=42 SUCCESS", comps[0])
	}

	// The pending entry is consumed exactly once.
	info, _ := p.a.tbl.Info(p.procA, p.qpA)
	if info.PendingAcks != 0 {
		t.Errorf("pending acks = %d, want 0", info.PendingAcks)
	}
}

func TestNetworkWriteToUnknownMRDroppedSilently(t *testing.T) {
	p := newNetPair(t, 64, mr.AccessLocalWrite|mr.AccessRemoteWrite)

	wr := &WorkRequest{
		WRID:     9,
		Opcode:   OpWrite,
		Flags:    FlagSignaled,
		LocalMR:  uint32(p.srcMR),
		RemoteMR: 99, // no such region on B
		Length:   64,
	}
	if err := p.a.tbl.PostSend(p.procA, p.qpA, wr); err != nil {
		t.Fatalf("PostSend failed: %v", err)
	}
	p.deliverToB(t)

	// B dropped the frame: no completion, no ACK.
	comps := make([]Completion, 4)
	if n, _ := p.b.tbl.PollCQ(p.procB, p.qpB, comps); n != 0 {
		t.Errorf("receiver completed a dropped write: %d entries", n)
	}
	if len(p.bln.frames) != 0 {
		t.Errorf("B transmitted %d frames, want 0", len(p.bln.frames))
	}

	// A keeps waiting forever: pending entry retained, no completion.
	if n, _ := p.a.tbl.PollCQ(p.procA, p.qpA, comps); n != 0 {
		t.Errorf("sender completed without ACK: %d entries", n)
	}
	info, _ := p.a.tbl.Info(p.procA, p.qpA)
	if info.PendingAcks != 1 {
		t.Errorf("pending acks = %d, want 1", info.PendingAcks)
	}
}

func TestNetworkWriteWithoutRemoteWriteDropped(t *testing.T) {
	// Destination registered without remote-write access.
	p := newNetPair(t, 64, mr.AccessLocalWrite)

	p.b.writeUser(t, p.procB, userBase, make([]byte, 64))

	wr := &WorkRequest{
		WRID:     1,
		Opcode:   OpWrite,
		Flags:    FlagSignaled,
		LocalMR:  uint32(p.srcMR),
		RemoteMR: uint32(p.dstMR),
		Length:   64,
	}
	p.a.writeUser(t, p.procA, userBase, bytes.Repeat([]byte{0x5a}, 64))
	if err := p.a.tbl.PostSend(p.procA, p.qpA, wr); err != nil {
		t.Fatalf("PostSend failed: %v", err)
	}
	p.deliverToB(t)

	got := p.b.readUser(t, p.procB, userBase, 64)
	if !bytes.Equal(got, make([]byte, 64)) {
		t.Error("denied write modified destination memory")
	}
	if len(p.bln.frames) != 0 {
		t.Error("denied write still acknowledged")
	}
}

func TestNetworkUnsignaledWriteLeavesNoPending(t *testing.T) {
	p := newNetPair(t, 64, mr.AccessLocalWrite|mr.AccessRemoteWrite)

	wr := &WorkRequest{
		WRID:     5,
		Opcode:   OpWrite,
		LocalMR:  uint32(p.srcMR),
		RemoteMR: uint32(p.dstMR),
		Length:   64,
	}
	if err := p.a.tbl.PostSend(p.procA, p.qpA, wr); err != nil {
		t.Fatalf("PostSend failed: %v", err)
	}

	info, _ := p.a.tbl.Info(p.procA, p.qpA)
	if info.PendingAcks != 0 {
		t.Errorf("unsignaled write recorded %d pending acks, want 0", info.PendingAcks)
	}

	// The peer still ACKs; the ACK finds nothing and posts nothing.
	p.deliverToB(t)
	p.deliverToA(t)
	comps := make([]Completion, 4)
	if n, _ := p.a.tbl.PollCQ(p.procA, p.qpA, comps); n != 0 {
		t.Errorf("orphan ACK produced %d completions, want 0", n)
	}
}

func TestNetworkSequenceNumbersMonotonic(t *testing.T) {
	p := newNetPair(t, 64, mr.AccessLocalWrite|mr.AccessRemoteWrite)

	for i := 0; i < 3; i++ {
		wr := &WorkRequest{
			WRID:     uint64(i),
			Opcode:   OpWrite,
			Flags:    FlagSignaled,
			LocalMR:  uint32(p.srcMR),
			RemoteMR: uint32(p.dstMR),
			Length:   16,
		}
		if err := p.a.tbl.PostSend(p.procA, p.qpA, wr); err != nil {
			t.Fatalf("PostSend %d failed: %v", i, err)
		}
	}

	if len(p.aln.frames) != 3 {
		t.Fatalf("transmitted %d frames, want 3", len(p.aln.frames))
	}
	for i, f := range p.aln.frames {
		hdr, _, err := wire.ParseFrame(f)
		if err != nil {
			t.Fatalf("frame %d unparseable: %v", i, err)
		}
		if hdr.SeqNum != uint32(i+1) {
			t.Errorf("frame %d seq = %d, want %d", i, hdr.SeqNum, i+1)
		}
	}

	info, _ := p.a.tbl.Info(p.procA, p.qpA)
	if info.TxSeq != 4 {
		t.Errorf("tx seq = %d, want 4", info.TxSeq)
	}
}

func TestNetworkUnsupportedOpcodeCompletesWithError(t *testing.T) {
	p := newNetPair(t, 64, mr.AccessLocalWrite|mr.AccessRemoteWrite)

	wr := &WorkRequest{
		WRID:     8,
		Opcode:   OpRead,
		Flags:    FlagSignaled,
		LocalMR:  uint32(p.srcMR),
		RemoteMR: uint32(p.dstMR),
		Length:   16,
	}
	if err := p.a.tbl.PostSend(p.procA, p.qpA, wr); err != nil {
		t.Fatalf("PostSend failed: %v", err)
	}

	comps := make([]Completion, 4)
	n, _ := p.a.tbl.PollCQ(p.procA, p.qpA, comps)
	if n != 1 || comps[0].Status != StatusLocProtErr {
		t.Errorf("got %d completions, first %+v; want 1 LOC_PROT_ERR", n, comps[0])
	}
	if len(p.aln.frames) != 0 {
		t.Errorf("unsupported opcode transmitted %d frames, want 0", len(p.aln.frames))
	}
}

func TestRxDropsForeignAndMalformedFrames(t *testing.T) {
	p := newNetPair(t, 64, mr.AccessLocalWrite|mr.AccessRemoteWrite)

	// Truncated frame.
	p.b.tbl.Rx(make([]byte, 10), macA)

	// Wrong ethertype.
	frame := make([]byte, wire.FrameMin)
	frame[12] = 0x08
	p.b.tbl.Rx(frame, macA)

	// Valid header for a QP slot that is out of range.
	hdr := wire.Header{Opcode: wire.OpWrite, DstQP: constants.MaxQPs + 1, Length: 0}
	p.b.tbl.Rx(wire.BuildFrame(macB, macA, &hdr, nil), macA)

	// Valid header for an empty slot.
	hdr.DstQP = uint16(p.qpB + 1)
	p.b.tbl.Rx(wire.BuildFrame(macB, macA, &hdr, nil), macA)

	// Nothing reached the live QP.
	comps := make([]Completion, 4)
	if n, _ := p.b.tbl.PollCQ(p.procB, p.qpB, comps); n != 0 {
		t.Errorf("malformed frames produced %d completions", n)
	}
	if len(p.bln.frames) != 0 {
		t.Errorf("malformed frames acknowledged: %d frames", len(p.bln.frames))
	}
}

func TestNetworkTruncatedPayloadDropped(t *testing.T) {
	p := newNetPair(t, 64, mr.AccessLocalWrite|mr.AccessRemoteWrite)

	// Hand-build a WRITE whose header claims more payload than the frame
	// carries.
	hdr := wire.Header{
		Opcode:   wire.OpWrite,
		SrcQP:    uint16(p.qpA),
		DstQP:    uint16(p.qpB),
		SeqNum:   1,
		RemoteMR: uint32(p.dstMR),
		Length:   64,
	}
	p.b.tbl.Rx(wire.BuildFrame(macB, macA, &hdr, make([]byte, 16)), macA)

	comps := make([]Completion, 4)
	if n, _ := p.b.tbl.PollCQ(p.procB, p.qpB, comps); n != 0 {
		t.Errorf("truncated payload produced %d completions", n)
	}
	if len(p.bln.frames) != 0 {
		t.Error("truncated payload acknowledged")
	}
}
