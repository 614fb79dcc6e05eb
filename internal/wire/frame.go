// Package wire implements the Ethernet-framed RDMA protocol: frame
// construction on the transmit path and parsing on the receive path. All
// multi-byte header fields are network byte order.
package wire

import (
	"encoding/binary"

	"github.com/ankit-raj78/xv6-RDMA/internal/constants"
)

// Wire opcodes.
const (
	OpWrite    uint8 = 0x01
	OpRead     uint8 = 0x02
	OpReadResp uint8 = 0x03
	OpAck      uint8 = 0x04
)

// Frame flag bits.
const (
	FlagSignaled uint8 = 0x01
)

// Frame geometry. The RDMA header is packed on the wire:
//
//	opcode:u8  flags:u8  src_qp:u16  dst_qp:u16  reserved:u16
//	seq_num:u32  local_mr_id:u32  remote_mr_id:u32
//	remote_addr:u64  length:u32  remote_key:u32
const (
	EthHeaderLen = 14
	HeaderLen    = 36
	FrameMin     = EthHeaderLen + HeaderLen
)

// Header is the parsed RDMA header. WRITE frames carry Length payload
// bytes after the header; ACK frames carry none.
type Header struct {
	Opcode     uint8
	Flags      uint8
	SrcQP      uint16
	DstQP      uint16
	Reserved   uint16
	SeqNum     uint32
	LocalMR    uint32
	RemoteMR   uint32
	RemoteAddr uint64
	Length     uint32
	RemoteKey  uint32
}

// ParseError reports why an inbound frame was rejected.
type ParseError string

func (e ParseError) Error() string {
	return string(e)
}

const (
	ErrTruncated ParseError = "frame too short for RDMA header"
	ErrEtherType ParseError = "not an RDMA ethertype"
)

// BuildFrame assembles a complete Ethernet + RDMA frame.
func BuildFrame(dst, src [constants.MACLen]byte, h *Header, payload []byte) []byte {
	buf := make([]byte, FrameMin+len(payload))

	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	binary.BigEndian.PutUint16(buf[12:14], constants.EtherTypeRDMA)

	marshalHeader(buf[EthHeaderLen:], h)
	copy(buf[FrameMin:], payload)
	return buf
}

func marshalHeader(buf []byte, h *Header) {
	buf[0] = h.Opcode
	buf[1] = h.Flags
	binary.BigEndian.PutUint16(buf[2:4], h.SrcQP)
	binary.BigEndian.PutUint16(buf[4:6], h.DstQP)
	binary.BigEndian.PutUint16(buf[6:8], h.Reserved)
	binary.BigEndian.PutUint32(buf[8:12], h.SeqNum)
	binary.BigEndian.PutUint32(buf[12:16], h.LocalMR)
	binary.BigEndian.PutUint32(buf[16:20], h.RemoteMR)
	binary.BigEndian.PutUint64(buf[20:28], h.RemoteAddr)
	binary.BigEndian.PutUint32(buf[28:32], h.Length)
	binary.BigEndian.PutUint32(buf[32:36], h.RemoteKey)
}

// ParseFrame validates the Ethernet header and decodes the RDMA header.
// The returned payload is whatever follows the header; the caller checks
// it against Header.Length. The sender MAC is delivered out of band by the
// driver.
func ParseFrame(frame []byte) (h Header, payload []byte, err error) {
	if len(frame) < FrameMin {
		return h, nil, ErrTruncated
	}
	if binary.BigEndian.Uint16(frame[12:14]) != constants.EtherTypeRDMA {
		return h, nil, ErrEtherType
	}

	b := frame[EthHeaderLen:]
	h.Opcode = b[0]
	h.Flags = b[1]
	h.SrcQP = binary.BigEndian.Uint16(b[2:4])
	h.DstQP = binary.BigEndian.Uint16(b[4:6])
	h.Reserved = binary.BigEndian.Uint16(b[6:8])
	h.SeqNum = binary.BigEndian.Uint32(b[8:12])
	h.LocalMR = binary.BigEndian.Uint32(b[12:16])
	h.RemoteMR = binary.BigEndian.Uint32(b[16:20])
	h.RemoteAddr = binary.BigEndian.Uint64(b[20:28])
	h.Length = binary.BigEndian.Uint32(b[28:32])
	h.RemoteKey = binary.BigEndian.Uint32(b[32:36])

	return h, frame[FrameMin:], nil
}
