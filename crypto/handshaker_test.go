package crypto

import (
	"context"
	"testing"

	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/internal/iface"
)

type fakeTLS struct {
	provided map[iface.EncLevel][]byte
	complete bool
}

func newFakeTLS() *fakeTLS { return &fakeTLS{provided: make(map[iface.EncLevel][]byte)} }

func (f *fakeTLS) ProvideData(level iface.EncLevel, data []byte) error {
	f.provided[level] = append(f.provided[level], data...)
	return nil
}
func (f *fakeTLS) Accept(ctx context.Context) error  { f.complete = true; return nil }
func (f *fakeTLS) Connect(ctx context.Context) error { f.complete = true; return nil }
func (f *fakeTLS) HandshakeComplete() bool           { return f.complete }

func TestHandshakerInOrderDelivery(t *testing.T) {
	tls := newFakeTLS()
	h := NewHandshaker(tls, true)
	ctx := context.Background()

	if err := h.RecvCrypto(ctx, iface.EncInitial, &frame.CryptoFrame{Offset: 0, Data: []byte("client-hello")}); err != nil {
		t.Fatal(err)
	}
	if string(tls.provided[iface.EncInitial]) != "client-hello" {
		t.Fatalf("expected client-hello delivered, got %q", tls.provided[iface.EncInitial])
	}
	if !h.PendingHandshakeDone() {
		t.Fatal("expected server to queue HANDSHAKE_DONE once TLS reports complete")
	}
}

func TestHandshakerOutOfOrderBuffered(t *testing.T) {
	tls := newFakeTLS()
	h := NewHandshaker(tls, false)
	ctx := context.Background()

	if err := h.RecvCrypto(ctx, iface.EncInitial, &frame.CryptoFrame{Offset: 5, Data: []byte("world")}); err != nil {
		t.Fatal(err)
	}
	if len(tls.provided[iface.EncInitial]) != 0 {
		t.Fatal("out-of-order data must not reach the TLS engine yet")
	}
	if err := h.RecvCrypto(ctx, iface.EncInitial, &frame.CryptoFrame{Offset: 0, Data: []byte("hello")}); err != nil {
		t.Fatal(err)
	}
	if string(tls.provided[iface.EncInitial]) != "helloworld" {
		t.Fatalf("expected gap-closing delivery of helloworld, got %q", tls.provided[iface.EncInitial])
	}
}

func TestHandshakeConfirmedDerivation(t *testing.T) {
	serverTLS := newFakeTLS()
	server := NewHandshaker(serverTLS, true)
	serverTLS.complete = true
	if !server.HandshakeConfirmed() {
		t.Fatal("server handshake_confirmed should equal handshake_complete")
	}

	clientTLS := newFakeTLS()
	client := NewHandshaker(clientTLS, false)
	clientTLS.complete = true
	if client.HandshakeConfirmed() {
		t.Fatal("client handshake_confirmed must wait for HANDSHAKE_DONE, not just handshake_complete")
	}
	if err := client.RecvHandshakeDone(); err != nil {
		t.Fatal(err)
	}
	if !client.HandshakeConfirmed() {
		t.Fatal("client handshake_confirmed should be true after HANDSHAKE_DONE")
	}
}

func TestServerReceivingHandshakeDoneIsProtocolViolation(t *testing.T) {
	server := NewHandshaker(newFakeTLS(), true)
	if err := server.RecvHandshakeDone(); err == nil {
		t.Fatal("expected PROTOCOL_VIOLATION")
	}
}
