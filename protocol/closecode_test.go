package protocol

import (
	"bytes"
	"testing"
)

func TestFormatAndParseClosePayload(t *testing.T) {
	var buf [maxClosePayload]byte
	n := FormatClosePayload(buf[:], 1000, []byte("bye"))
	code, msg := ParseClosePayload(buf[:n])
	if code != 1000 {
		t.Fatalf("code = %d, want 1000", code)
	}
	if !bytes.Equal(msg, []byte("bye")) {
		t.Fatalf("message = %q, want %q", msg, "bye")
	}
}

func TestFormatClosePayloadZeroCode(t *testing.T) {
	var buf [maxClosePayload]byte
	n := FormatClosePayload(buf[:], 0, []byte("ignored"))
	if n != 0 {
		t.Fatalf("n = %d, want 0 for code 0", n)
	}
}

func TestFormatClosePayloadTruncatesReason(t *testing.T) {
	reason := bytes.Repeat([]byte("x"), 200)
	var buf [maxClosePayload]byte
	n := FormatClosePayload(buf[:], 1000, reason)
	if n > maxClosePayload {
		t.Fatalf("n = %d exceeds max close payload %d", n, maxClosePayload)
	}
	_, msg := ParseClosePayload(buf[:n])
	if len(msg) != maxCloseReason {
		t.Fatalf("truncated reason length = %d, want %d", len(msg), maxCloseReason)
	}
}

func TestParseClosePayloadShortIsZero(t *testing.T) {
	code, msg := ParseClosePayload([]byte{0x01})
	if code != 0 || msg != nil {
		t.Fatalf("short payload: got code=%d msg=%v, want 0/nil", code, msg)
	}
}

func TestValidCloseCode(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{999, false},
		{1000, true},
		{1001, true},
		{1004, false},
		{1005, false},
		{1006, false},
		{1009, true},
		{1015, false},
		{1016, false},
		{2999, false},
		{3000, true},
		{4999, true},
		{5000, true},
	}
	for _, tc := range cases {
		if got := ValidCloseCode(tc.code); got != tc.want {
			t.Errorf("ValidCloseCode(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
