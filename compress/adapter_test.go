package compress

import (
	"bytes"
	"testing"
)

func TestDeflateInflateRoundTrip(t *testing.T) {
	d := NewDeflater()
	inf := NewInflater()

	messages := [][]byte{
		[]byte("hello"),
		[]byte(""),
		bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200),
	}

	for _, msg := range messages {
		// Every message resets the dictionary first, matching how a
		// group's shared, non-context-takeover compressor is actually
		// driven (see DeflateFresh) rather than letting state build up
		// across unrelated messages the way a lone Deflate+Deflate
		// sequence would.
		compressed, err := d.DeflateFresh(msg)
		if err != nil {
			t.Fatalf("Deflate: %v", err)
		}
		out, err := inf.Inflate(compressed, 1<<20)
		if err != nil {
			t.Fatalf("Inflate: %v", err)
		}
		if !bytes.Equal(out, msg) {
			t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(out), len(msg))
		}
	}
}

func TestDeflateFreshIsIndependentOfPriorState(t *testing.T) {
	d := NewDeflater()
	inf := NewInflater()

	first, err := d.DeflateFresh([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	if err != nil {
		t.Fatalf("DeflateFresh: %v", err)
	}
	second, err := d.DeflateFresh([]byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))
	if err != nil {
		t.Fatalf("DeflateFresh: %v", err)
	}

	outFirst, err := inf.Inflate(first, 1<<20)
	if err != nil {
		t.Fatalf("Inflate first: %v", err)
	}
	outSecond, err := inf.Inflate(second, 1<<20)
	if err != nil {
		t.Fatalf("Inflate second: %v", err)
	}

	if string(outFirst) != string(bytes.Repeat([]byte("a"), 53)) {
		t.Fatalf("first message corrupted: %q", outFirst)
	}
	if string(outSecond) != string(bytes.Repeat([]byte("b"), 53)) {
		t.Fatalf("second message corrupted: %q", outSecond)
	}
}

func TestInflateRejectsOversizeOutput(t *testing.T) {
	d := NewDeflater()
	inf := NewInflater()

	msg := bytes.Repeat([]byte("x"), 1000)
	compressed, err := d.Deflate(msg)
	if err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	if _, err := inf.Inflate(compressed, 10); err == nil {
		t.Fatalf("expected inflate to reject output exceeding maxOut")
	}
}

func TestDeflaterResetProducesIndependentStream(t *testing.T) {
	d := NewDeflater()
	inf := NewInflater()

	if _, err := d.Deflate([]byte("context to discard")); err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	d.Reset()

	out, err := d.Deflate([]byte("after reset"))
	if err != nil {
		t.Fatalf("Deflate after reset: %v", err)
	}
	decoded, err := inf.Inflate(out, 1<<20)
	if err != nil {
		t.Fatalf("Inflate: %v", err)
	}
	if string(decoded) != "after reset" {
		t.Fatalf("got %q, want %q", decoded, "after reset")
	}
}
