// Close-frame payload formatting/parsing, plus the inbound close-code
// validation policy: codes the RFC reserves or never sends on the wire
// are rejected rather than left to the embedder to police.

package protocol

import "encoding/binary"

const maxClosePayload = 125
const maxCloseReason = maxClosePayload - 2

// FormatClosePayload writes the 2-byte big-endian status code followed
// by reason (truncated so the total payload stays within 125 bytes) into
// dst, returning the bytes written. code == 0 writes an empty payload.
func FormatClosePayload(dst []byte, code int, reason []byte) int {
	if code == 0 {
		return 0
	}
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	binary.BigEndian.PutUint16(dst[0:2], uint16(code))
	copy(dst[2:2+len(reason)], reason)
	return 2 + len(reason)
}

// ParseClosePayload decodes a received CLOSE frame's payload. A payload
// shorter than 2 bytes yields code 0 and an empty message.
func ParseClosePayload(payload []byte) (code int, message []byte) {
	if len(payload) < 2 {
		return 0, nil
	}
	code = int(binary.BigEndian.Uint16(payload[0:2]))
	return code, payload[2:]
}

// ValidCloseCode reports whether code is an acceptable status code on an
// inbound CLOSE frame. Rejected codes trigger ForceClose: codes below
// 1000, the reserved/never-sent-on-the-wire codes 1004/1005/1006/1015,
// and the unassigned 1016-2999 range. 3000-4999 (library/app-defined)
// and 1000-1003/1007-1011 (the defined protocol codes) are accepted.
func ValidCloseCode(code int) bool {
	switch {
	case code < 1000:
		return false
	case code == 1004 || code == 1005 || code == 1006 || code == 1015:
		return false
	case code >= 1016 && code < 3000:
		return false
	default:
		return true
	}
}
