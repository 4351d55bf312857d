package group

import (
	"testing"

	"github.com/kestrelws/core/protocol"
)

func TestNewAppliesOptions(t *testing.T) {
	var gotMsg bool
	g := New(
		WithMaxPayload(1<<20),
		WithServerIdentity("kestrelws/1.0"),
		WithThreadSafe(true),
		WithTransfers(true),
		OnMessage(func(c *protocol.Connection, data []byte, opcode protocol.Opcode) { gotMsg = true }),
	)

	if g.MaxPayload() != 1<<20 {
		t.Fatalf("MaxPayload = %d, want %d", g.MaxPayload(), 1<<20)
	}
	if g.ServerIdentity() != "kestrelws/1.0" {
		t.Fatalf("ServerIdentity = %q", g.ServerIdentity())
	}
	if !g.ThreadSafe() {
		t.Fatalf("ThreadSafe = false, want true")
	}
	if !g.TransfersEnabled() {
		t.Fatalf("TransfersEnabled = false, want true")
	}
	g.OnMessage(nil, nil, protocol.OpText)
	if !gotMsg {
		t.Fatalf("registered OnMessage handler was not invoked")
	}
}

func TestNewWithoutDeflateLeavesCompressorsNil(t *testing.T) {
	g := New()
	if g.CompressionNegotiated() {
		t.Fatalf("CompressionNegotiated = true, want false without WithDeflate")
	}
	if g.SharedDeflater() != nil || g.Inflater() != nil {
		t.Fatalf("compressors should stay nil without WithDeflate")
	}
}

func TestWithDeflateConstructsSharedCompressors(t *testing.T) {
	g := New(WithDeflate(true))
	if !g.CompressionNegotiated() {
		t.Fatalf("CompressionNegotiated = false, want true")
	}
	if !g.SlidingWindowEnabled() {
		t.Fatalf("SlidingWindowEnabled = false, want true")
	}
	if g.SharedDeflater() == nil || g.Inflater() == nil {
		t.Fatalf("WithDeflate should construct shared compressors")
	}
	if g.NewSlidingDeflater() == nil {
		t.Fatalf("NewSlidingDeflater should never return nil")
	}
}

func TestLinkUnlinkLen(t *testing.T) {
	g := New()
	if g.Len() != 0 {
		t.Fatalf("Len = %d, want 0", g.Len())
	}

	c := protocol.NewConnection(protocol.RoleServer, nil, g, false)
	g.Link(c)
	if g.Len() != 1 {
		t.Fatalf("Len after Link = %d, want 1", g.Len())
	}

	g.Unlink(c)
	if g.Len() != 0 {
		t.Fatalf("Len after Unlink = %d, want 0", g.Len())
	}
}

func TestTransferRejectsWhenDestinationDoesNotAllowTransfers(t *testing.T) {
	src := New(WithTransfers(true))
	dst := New(WithTransfers(false))

	c := protocol.NewConnection(protocol.RoleServer, nil, src, false)
	src.Link(c)

	if err := dst.Transfer(c); err == nil {
		t.Fatalf("Transfer into a group with TransfersEnabled=false should fail")
	}
}

func TestTransferRejectsWhenSourceDoesNotAllowTransfers(t *testing.T) {
	src := New(WithTransfers(false))
	dst := New(WithTransfers(true))

	c := protocol.NewConnection(protocol.RoleServer, nil, src, false)
	src.Link(c)

	if err := dst.Transfer(c); err == nil {
		t.Fatalf("Transfer out of a group with TransfersEnabled=false should fail")
	}
}
