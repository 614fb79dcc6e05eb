// Package link abstracts the NIC driver: a transmit function and a local
// MAC on one side, an RX callback on the other. The real driver is outside
// the core; Pipe provides an in-memory stand-in that connects two hosts
// with a dedicated RX goroutine per side, matching the single NIC RX
// thread of the surrounding kernel.
package link

import (
	"sync"
	"sync/atomic"

	"github.com/ankit-raj78/xv6-RDMA/internal/constants"
)

// Handler receives one inbound frame together with the sender MAC.
type Handler func(frame []byte, src [constants.MACLen]byte)

// Link is the transmit side of the NIC as seen by the core.
type Link interface {
	Transmit(frame []byte) error
	LocalMAC() [constants.MACLen]byte
}

// Drop is a Link that discards every frame. It is the default for cores
// that only ever run loopback operations.
type Drop struct {
	mac     [constants.MACLen]byte
	dropped atomic.Uint64
}

// NewDrop creates a frame-discarding link with the given MAC.
func NewDrop(mac [constants.MACLen]byte) *Drop {
	return &Drop{mac: mac}
}

func (d *Drop) Transmit(frame []byte) error {
	d.dropped.Add(1)
	return nil
}

func (d *Drop) LocalMAC() [constants.MACLen]byte {
	return d.mac
}

// Dropped returns the number of discarded frames.
func (d *Drop) Dropped() uint64 {
	return d.dropped.Load()
}

// Endpoint is one side of an in-memory frame pipe. Transmit enqueues onto
// the peer's RX ring; a goroutine started by Start drains the ring into
// the handler. Transmission is non-blocking: frames are dropped when the
// peer's ring is full.
type Endpoint struct {
	mac  [constants.MACLen]byte
	peer *Endpoint
	rx   chan []byte

	dropped atomic.Uint64

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Pipe connects two endpoints with the given MACs and per-side RX ring
// depth.
func Pipe(macA, macB [constants.MACLen]byte, depth int) (*Endpoint, *Endpoint) {
	if depth <= 0 {
		depth = constants.DefaultSQSize
	}
	a := &Endpoint{mac: macA, rx: make(chan []byte, depth), done: make(chan struct{})}
	b := &Endpoint{mac: macB, rx: make(chan []byte, depth), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Start launches the RX thread delivering inbound frames to h.
func (e *Endpoint) Start(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case frame := <-e.rx:
				var src [constants.MACLen]byte
				if len(frame) >= 12 {
					copy(src[:], frame[6:12])
				}
				h(frame, src)
			case <-e.done:
				return
			}
		}
	}()
}

// Transmit implements Link. The frame is copied so the caller may reuse
// its buffer.
func (e *Endpoint) Transmit(frame []byte) error {
	dup := make([]byte, len(frame))
	copy(dup, frame)
	select {
	case e.peer.rx <- dup:
	default:
		e.dropped.Add(1)
	}
	return nil
}

// LocalMAC implements Link.
func (e *Endpoint) LocalMAC() [constants.MACLen]byte {
	return e.mac
}

// Dropped returns the number of frames dropped on transmit because the
// peer's RX ring was full.
func (e *Endpoint) Dropped() uint64 {
	return e.dropped.Load()
}

// Close stops the RX thread.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if !e.started {
		e.started = true // prevent a later Start
		e.mu.Unlock()
		return
	}
	select {
	case <-e.done:
		e.mu.Unlock()
		return
	default:
	}
	close(e.done)
	e.mu.Unlock()
	e.wg.Wait()
}

// Compile-time interface checks
var (
	_ Link = (*Drop)(nil)
	_ Link = (*Endpoint)(nil)
)
