package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/kestrelws/core/api"
)

// FragmentHandler receives decoded frame fragments from Codec.Consume, one
// call per contiguous chunk of payload bytes delivered within a single
// Consume call. remaining is the number of payload bytes still owed on
// the current frame; remaining == 0 && fin means the frame is complete.
// frameStart is true exactly once per frame, on the call that delivers
// its first byte (or, for an empty frame, its only call); rsv1 is only
// meaningful when frameStart is true.
type FragmentHandler interface {
	HandleFragment(data []byte, remaining int64, opcode Opcode, fin bool, frameStart, rsv1 bool) error
}

const maxControlPayload = 125

type codecPhase int

const (
	phaseBaseHeader codecPhase = iota
	phaseExtHeader
	phasePayload
)

// Codec is an incremental RFC 6455 frame parser. One Codec is owned by
// exactly one Connection; it buffers a partially-received header across
// Consume calls and is not safe for concurrent use.
type Codec struct {
	role Role

	phase codecPhase

	baseBuf [2]byte
	baseLen int

	extBuf  [12]byte // up to 8 length bytes + 4 mask bytes
	extLen  int
	extWant int

	extLenSize int // 0, 2, or 8
	hasMask    bool

	fin         bool
	rsv1        bool
	opcode      Opcode
	masked      bool
	maskKey     [4]byte
	maskPos     int
	payloadLen  int64
	payloadLeft int64
	frameStart  bool
}

// NewCodec constructs a Codec for the given connection role, which governs
// the masking-direction check (servers require masked inbound frames,
// clients require unmasked ones).
func NewCodec(role Role) *Codec {
	return &Codec{role: role}
}

func protocolErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", api.ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// Consume feeds an arbitrary-boundary chunk of socket bytes into the
// parser, invoking h.HandleFragment zero or more times. A header that
// spans multiple Consume calls is buffered internally.
func (c *Codec) Consume(data []byte, h FragmentHandler) error {
	for len(data) > 0 {
		switch c.phase {
		case phaseBaseHeader:
			n := copy(c.baseBuf[c.baseLen:], data)
			c.baseLen += n
			data = data[n:]
			if c.baseLen < 2 {
				return nil
			}
			if err := c.parseBaseHeader(); err != nil {
				return err
			}
			c.baseLen = 0
			c.extLen = 0
			if c.extWant == 0 {
				c.beginPayload()
				if c.payloadLeft == 0 {
					if err := c.deliverZeroLengthPayload(h); err != nil {
						return err
					}
				}
			} else {
				c.phase = phaseExtHeader
			}

		case phaseExtHeader:
			n := copy(c.extBuf[c.extLen:c.extWant], data)
			c.extLen += n
			data = data[n:]
			if c.extLen < c.extWant {
				return nil
			}
			c.parseExtHeader()
			c.beginPayload()
			if c.payloadLeft == 0 {
				if err := c.deliverZeroLengthPayload(h); err != nil {
					return err
				}
			}

		case phasePayload:
			take := int64(len(data))
			if take > c.payloadLeft {
				take = c.payloadLeft
			}
			chunk := data[:take]
			data = data[take:]
			if c.masked {
				c.maskPos = maskXOR(c.maskKey, c.maskPos, chunk)
			}
			c.payloadLeft -= take
			remaining := c.payloadLeft
			fin := c.fin
			opcode := c.opcode
			rsv1 := c.rsv1
			frameStart := c.frameStart
			c.frameStart = false
			if remaining == 0 {
				c.phase = phaseBaseHeader
			}
			if err := h.HandleFragment(chunk, remaining, opcode, fin, frameStart, rsv1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Codec) parseBaseHeader() error {
	b0, b1 := c.baseBuf[0], c.baseBuf[1]

	c.fin = b0&0x80 != 0
	c.rsv1 = b0&0x40 != 0
	rsv23 := b0 & 0x30
	if rsv23 != 0 {
		return protocolErr("reserved bits RSV2/RSV3 set")
	}

	c.opcode = Opcode(b0 & 0x0F)
	switch c.opcode {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
	default:
		return protocolErr("reserved opcode 0x%x", c.opcode)
	}

	if c.rsv1 && c.opcode.IsControl() {
		return protocolErr("RSV1 set on control frame")
	}

	c.masked = b1&0x80 != 0
	if c.role == RoleServer && !c.masked {
		return protocolErr("server received unmasked frame")
	}
	if c.role == RoleClient && c.masked {
		return protocolErr("client received masked frame")
	}

	lenField := int64(b1 & 0x7F)
	if c.opcode.IsControl() {
		if !c.fin {
			return protocolErr("fragmented control frame")
		}
		if lenField > maxControlPayload {
			return protocolErr("control frame payload %d exceeds 125 bytes", lenField)
		}
	}

	c.hasMask = c.masked
	switch lenField {
	case 126:
		c.extLenSize = 2
	case 127:
		c.extLenSize = 8
	default:
		c.extLenSize = 0
		c.payloadLen = lenField
	}

	maskBytes := 0
	if c.hasMask {
		maskBytes = 4
	}
	c.extWant = c.extLenSize + maskBytes
	return nil
}

func (c *Codec) parseExtHeader() {
	off := 0
	switch c.extLenSize {
	case 2:
		c.payloadLen = int64(binary.BigEndian.Uint16(c.extBuf[0:2]))
		off = 2
	case 8:
		c.payloadLen = int64(binary.BigEndian.Uint64(c.extBuf[0:8]))
		off = 8
	}
	if c.hasMask {
		copy(c.maskKey[:], c.extBuf[off:off+4])
	}
}

func (c *Codec) beginPayload() {
	c.payloadLeft = c.payloadLen
	c.maskPos = 0
	c.frameStart = true
	c.phase = phasePayload
}

// deliverZeroLengthPayload flushes a frame whose header (and mask, if
// any) is fully parsed but which carries no payload bytes at all (an
// empty PING/PONG/CLOSE/text/binary frame). Without this, such a frame
// whose header exactly exhausts the current Consume chunk would never
// reach HandleFragment until arbitrary further bytes arrived on a later
// read — or never, if the peer sends nothing else.
func (c *Codec) deliverZeroLengthPayload(h FragmentHandler) error {
	fin := c.fin
	opcode := c.opcode
	rsv1 := c.rsv1
	frameStart := c.frameStart
	c.frameStart = false
	c.phase = phaseBaseHeader
	return h.HandleFragment(nil, 0, opcode, fin, frameStart, rsv1)
}
