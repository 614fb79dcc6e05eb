package rdma

import (
	"testing"
)

func TestMetricsObserverRecords(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObservePost(OpWrite)
	o.ObserveCompletion(StatusSuccess, 256)
	o.ObserveCompletion(StatusRemAccessErr, 0)
	o.ObserveFrameTx(306)
	o.ObserveFrameRx(50)
	o.ObserveAck(true)
	o.ObserveAck(false)
	o.ObserveDrop()

	snap := m.Snapshot()
	if snap.Posts != 1 {
		t.Errorf("Posts = %d, want 1", snap.Posts)
	}
	if snap.Completions != 1 || snap.CompletionErrors != 1 {
		t.Errorf("Completions = %d/%d, want 1/1", snap.Completions, snap.CompletionErrors)
	}
	if snap.BytesCompleted != 256 {
		t.Errorf("BytesCompleted = %d, want 256", snap.BytesCompleted)
	}
	if snap.FramesTx != 1 || snap.FrameBytesTx != 306 {
		t.Errorf("FramesTx = %d/%d bytes, want 1/306", snap.FramesTx, snap.FrameBytesTx)
	}
	if snap.FramesRx != 1 || snap.FrameBytesRx != 50 {
		t.Errorf("FramesRx = %d/%d bytes, want 1/50", snap.FramesRx, snap.FrameBytesRx)
	}
	if snap.AcksMatched != 1 || snap.AcksOrphaned != 1 {
		t.Errorf("Acks = %d/%d, want 1/1", snap.AcksMatched, snap.AcksOrphaned)
	}
	if snap.FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", snap.FramesDropped)
	}
	if snap.ErrorRate != 50.0 {
		t.Errorf("ErrorRate = %f, want 50.0", snap.ErrorRate)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObservePost(OpWrite)
	o.ObserveCompletion(StatusSuccess, 64)
	m.Reset()

	snap := m.Snapshot()
	if snap.Posts != 0 || snap.Completions != 0 || snap.BytesCompleted != 0 {
		t.Errorf("counters survived reset: %+v", snap)
	}
}

func TestNoOpObserver(t *testing.T) {
	// Must not panic; exists for callers that want no accounting.
	var o NoOpObserver
	o.ObservePost(OpWrite)
	o.ObserveCompletion(StatusSuccess, 1)
	o.ObserveFrameTx(1)
	o.ObserveFrameRx(1)
	o.ObserveAck(true)
	o.ObserveDrop()
}
