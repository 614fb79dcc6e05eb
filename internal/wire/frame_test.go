package wire

import (
	"bytes"
	"testing"
)

func TestBuildFrameLayout(t *testing.T) {
	dst := [6]byte{0x02, 0, 0, 0, 0, 0x0b}
	src := [6]byte{0x02, 0, 0, 0, 0, 0x0a}
	h := &Header{
		Opcode:     OpWrite,
		Flags:      FlagSignaled,
		SrcQP:      3,
		DstQP:      7,
		SeqNum:     0x01020304,
		LocalMR:    1,
		RemoteMR:   2,
		RemoteAddr: 0x1122334455667788,
		Length:     4,
		RemoteKey:  2,
	}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	frame := BuildFrame(dst, src, h, payload)

	if len(frame) != FrameMin+len(payload) {
		t.Fatalf("frame length = %d, want %d", len(frame), FrameMin+len(payload))
	}
	if !bytes.Equal(frame[0:6], dst[:]) {
		t.Errorf("dst mac = %x, want %x", frame[0:6], dst)
	}
	if !bytes.Equal(frame[6:12], src[:]) {
		t.Errorf("src mac = %x, want %x", frame[6:12], src)
	}
	// Ethertype and multi-byte fields are network byte order.
	if frame[12] != 0x89 || frame[13] != 0x15 {
		t.Errorf("ethertype bytes = %x %x, want 89 15", frame[12], frame[13])
	}
	if frame[14] != OpWrite {
		t.Errorf("opcode byte = %d, want %d", frame[14], OpWrite)
	}
	seq := frame[22:26]
	if !bytes.Equal(seq, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("seq bytes = %x, want 01020304", seq)
	}
	if !bytes.Equal(frame[FrameMin:], payload) {
		t.Errorf("payload = %x, want %x", frame[FrameMin:], payload)
	}
}

func TestParseFrameRoundTrip(t *testing.T) {
	dst := [6]byte{1, 2, 3, 4, 5, 6}
	src := [6]byte{7, 8, 9, 10, 11, 12}
	h := &Header{
		Opcode:     OpAck,
		SrcQP:      1,
		DstQP:      0,
		SeqNum:     99,
		RemoteAddr: 0xcafebabe,
		Length:     0,
	}

	parsed, payload, err := ParseFrame(BuildFrame(dst, src, h, nil))
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if parsed != *h {
		t.Errorf("parsed header = %+v, want %+v", parsed, *h)
	}
	if len(payload) != 0 {
		t.Errorf("payload length = %d, want 0", len(payload))
	}
}

func TestParseFrameTruncated(t *testing.T) {
	frame := make([]byte, FrameMin-1)
	if _, _, err := ParseFrame(frame); err != ErrTruncated {
		t.Errorf("err = %v, want %v", err, ErrTruncated)
	}
}

func TestParseFrameWrongEtherType(t *testing.T) {
	frame := make([]byte, FrameMin)
	frame[12] = 0x08
	frame[13] = 0x00
	if _, _, err := ParseFrame(frame); err != ErrEtherType {
		t.Errorf("err = %v, want %v", err, ErrEtherType)
	}
}
