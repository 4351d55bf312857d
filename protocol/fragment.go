// Fragment reassembly and dispatch: the Codec hands Connection one
// HandleFragment call per contiguous payload chunk; this file turns
// that stream back into whole messages and control-frame events.
// Generalized from "one frame == one message" to full fragmentation
// with interleaved control frames.
package protocol

import (
	"github.com/kestrelws/core/api"
)

var _ FragmentHandler = (*Connection)(nil)

// HandleFragment implements FragmentHandler. It is invoked synchronously
// from Consume, itself invoked from the connection's single read
// callback, so no locking is needed against other reader activity; it
// takes no connection lock itself (the compression state it shares with
// Send is atomic, and the send helpers it calls lock on their own).
// Once a local Close has moved the connection to SHUTTING_DOWN, only
// the peer's answering CLOSE frame is still processed.
func (c *Connection) HandleFragment(data []byte, remaining int64, opcode Opcode, fin bool, frameStart, rsv1 bool) error {
	state := c.State()
	if state == StateClosed || (state == StateShuttingDown && opcode != OpClose) {
		return errConnectionDone
	}

	if opcode.IsControl() {
		return c.handleControlFragment(data, remaining, opcode, fin, frameStart)
	}
	return c.handleDataFragment(data, remaining, opcode, fin, frameStart, rsv1)
}

func (c *Connection) handleDataFragment(data []byte, remaining int64, opcode Opcode, fin bool, frameStart, rsv1 bool) error {
	if frameStart {
		if opcode == OpContinuation {
			if !c.inMessage {
				return protocolErr("continuation frame without a preceding start frame")
			}
		} else {
			if c.inMessage {
				return protocolErr("new data frame while a fragmented message is in progress")
			}
			c.inMessage = true
			c.msgOpcode = opcode
			c.fragmentBuf = c.fragmentBuf[:0]
			if rsv1 {
				c.setCompressionState(CompressionCompressedFrame)
			}
		}
	}

	if maxPayload := c.group.MaxPayload(); maxPayload > 0 && len(c.fragmentBuf)+len(data) > maxPayload {
		return api.ErrPayloadTooLarge
	}

	// Fast path: a single, unfragmented, not-yet-buffered frame whose
	// whole payload arrived in this one chunk. Avoid the reassembly
	// buffer entirely and deliver straight from data.
	if frameStart && fin && remaining == 0 && len(c.fragmentBuf) == 0 {
		return c.deliverDataMessage(data)
	}

	c.fragmentBuf = append(c.fragmentBuf, data...)

	if remaining != 0 || !fin {
		return nil
	}

	payload := c.fragmentBuf
	c.fragmentBuf = nil
	return c.deliverDataMessage(payload)
}

// deliverDataMessage has payload in hand (either data's own slice on the
// fast path, or the drained fragmentBuf on the slow path), inflates it
// if the message was marked compressed, validates UTF-8 for text
// messages, and dispatches to the group's handler.
func (c *Connection) deliverDataMessage(payload []byte) error {
	opcode := c.msgOpcode
	c.inMessage = false

	compressed := c.CompressionState() == CompressionCompressedFrame
	if compressed {
		c.setCompressionState(CompressionEnabled)
		maxPayload := c.group.MaxPayload()
		if maxPayload <= 0 {
			maxPayload = 1 << 30
		}
		inflated, err := c.inflater().Inflate(payload, maxPayload)
		if err != nil {
			return err
		}
		payload = inflated
	}

	if opcode == OpText && !IsValidUTF8(payload) {
		return api.ErrInvalidUTF8
	}

	c.group.OnMessage(c, payload, opcode)
	return nil
}

func (c *Connection) handleControlFragment(data []byte, remaining int64, opcode Opcode, fin bool, frameStart bool) error {
	// Control frames are always FIN=1 and <=125 bytes (the codec rejects
	// anything else), so a control frame is always exactly one
	// HandleFragment call unless the payload itself spans a Consume
	// boundary; buffer into controlBuf to cover that case without
	// disturbing any data message being reassembled concurrently.
	if frameStart {
		c.controlBuf = c.controlBuf[:0]
	}
	c.controlBuf = append(c.controlBuf, data...)
	if remaining != 0 {
		return nil
	}

	payload := c.controlBuf
	c.controlBuf = nil

	switch opcode {
	case OpPing:
		c.group.OnPing(c, payload)
		return c.sendPong(payload)
	case OpPong:
		c.hasOutstandingPong = false
		c.group.OnPong(c, payload)
		return nil
	case OpClose:
		code, reason := ParseClosePayload(payload)
		if code != 0 && !ValidCloseCode(code) {
			return protocolErr("invalid close code %d", code)
		}
		return c.handlePeerClose(code, reason)
	default:
		return protocolErr("unknown control opcode 0x%x", opcode)
	}
}
