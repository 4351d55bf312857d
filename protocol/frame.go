// Outbound frame formatting: single-frame (outbound messages are always
// framed whole; fragmenting a large outbound message is a caller
// concern this package does not handle) RSV1-tagged, optionally-masked
// output written straight into a caller buffer.

package protocol

import (
	"encoding/binary"
)

// HeaderMaxLen is the largest possible frame header: 1 (fin/opcode) +
// 1 (mask bit/len) + 8 (64-bit extended length) + 4 (mask key).
const HeaderMaxLen = 14

// FormatMessage writes a complete, single-frame message (FIN=1) into
// dst, returning the number of bytes written. dst must have at least
// len(src)+HeaderMaxLen bytes of capacity. RSV1 is set iff compressed.
// When role is RoleClient the payload is masked in place with a fresh
// random key written after the length field, per RFC 6455 §5.3.
func FormatMessage(dst []byte, src []byte, role Role, opcode Opcode, compressed bool) int {
	var b0 byte = 0x80 // FIN
	b0 |= byte(opcode) & 0x0F
	if compressed {
		b0 |= 0x40 // RSV1
	}

	masked := role == RoleClient
	n := len(src)

	hdr := dst[:0]
	hdr = append(hdr, b0)

	switch {
	case n <= 125:
		lb := byte(n)
		if masked {
			lb |= 0x80
		}
		hdr = append(hdr, lb)
	case n <= 0xFFFF:
		lb := byte(126)
		if masked {
			lb |= 0x80
		}
		hdr = append(hdr, lb)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		hdr = append(hdr, ext[:]...)
	default:
		lb := byte(127)
		if masked {
			lb |= 0x80
		}
		hdr = append(hdr, lb)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		hdr = append(hdr, ext[:]...)
	}

	written := len(hdr)
	if masked {
		key := newMaskKey()
		hdr = append(hdr, key[:]...)
		written = len(hdr)
		copy(dst[written:written+n], src)
		maskXOR(key, 0, dst[written:written+n])
	} else {
		copy(dst[written:written+n], src)
	}

	return written + n
}
