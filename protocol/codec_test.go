package protocol

import "testing"

// TestConsumeDeliversZeroLengthFrameWhoseHeaderEndsTheChunk exercises a
// masked, zero-length PING (the common keepalive shape) delivered as one
// chunk that ends exactly where the header+mask ends: no payload bytes
// follow at all in this Consume call.
func TestConsumeDeliversZeroLengthFrameWhoseHeaderEndsTheChunk(t *testing.T) {
	codec := NewCodec(RoleServer)

	frame := []byte{
		0x89,                   // FIN=1, opcode=PING
		0x80,                   // masked, payload length 0
		0x11, 0x22, 0x33, 0x44, // mask key
	}

	var calls int
	var gotOpcode Opcode
	var gotRemaining int64
	var gotFin, gotFrameStart bool

	collector := &recordingHandler{onFragment: func(data []byte, remaining int64, opcode Opcode, fin, frameStart, rsv1 bool) error {
		if len(data) != 0 {
			t.Fatalf("payload = %v, want empty", data)
		}
		calls++
		gotOpcode = opcode
		gotRemaining = remaining
		gotFin = fin
		gotFrameStart = frameStart
		return nil
	}}

	if err := codec.Consume(frame, collector); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if calls != 1 {
		t.Fatalf("HandleFragment called %d times, want exactly 1", calls)
	}
	if gotOpcode != OpPing {
		t.Fatalf("opcode = %v, want OpPing", gotOpcode)
	}
	if gotRemaining != 0 {
		t.Fatalf("remaining = %d, want 0", gotRemaining)
	}
	if !gotFin || !gotFrameStart {
		t.Fatalf("fin = %v, frameStart = %v, want both true", gotFin, gotFrameStart)
	}
}

// TestConsumeDeliversZeroLengthFrameAcrossTwoChunks exercises the same
// zero-length frame with the header itself split across two Consume
// calls, so beginPayload's zero-length flush fires from the
// phaseExtHeader branch instead of phaseBaseHeader.
func TestConsumeDeliversZeroLengthFrameAcrossTwoChunks(t *testing.T) {
	codec := NewCodec(RoleServer)

	frame := []byte{0x88, 0x80, 0xAA, 0xBB, 0xCC, 0xDD} // FIN=1, opcode=CLOSE, masked, len 0

	var calls int
	var gotOpcode Opcode
	collector := &recordingHandler{onFragment: func(data []byte, remaining int64, opcode Opcode, fin, frameStart, rsv1 bool) error {
		calls++
		gotOpcode = opcode
		return nil
	}}

	if err := codec.Consume(frame[:3], collector); err != nil {
		t.Fatalf("Consume (first half): %v", err)
	}
	if calls != 0 {
		t.Fatalf("fragment delivered before the mask bytes arrived")
	}
	if err := codec.Consume(frame[3:], collector); err != nil {
		t.Fatalf("Consume (second half): %v", err)
	}
	if calls != 1 {
		t.Fatalf("HandleFragment called %d times, want exactly 1", calls)
	}
	if gotOpcode != OpClose {
		t.Fatalf("opcode = %v, want OpClose", gotOpcode)
	}
}

// recordingHandler is a FragmentHandler that records every call's
// arguments, for assertions the data-only fragmentCollector in
// connection_test.go can't make.
type recordingHandler struct {
	onFragment func(data []byte, remaining int64, opcode Opcode, fin, frameStart, rsv1 bool) error
}

func (r *recordingHandler) HandleFragment(data []byte, remaining int64, opcode Opcode, fin bool, frameStart, rsv1 bool) error {
	return r.onFragment(data, remaining, opcode, fin, frameStart, rsv1)
}
