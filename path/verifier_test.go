package path

import (
	"testing"
	"time"

	"github.com/luoxk/qcore/ackobserver"
	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/internal/iface"
	"github.com/luoxk/qcore/packet"
)

type seqRandom struct{ n byte }

func (r *seqRandom) GenRandom(purpose string, b []byte) error {
	for i := range b {
		b[i] = r.n
	}
	r.n++
	return nil
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool               { return true }
func (fakeTimer) Reset(time.Duration) bool { return true }

func TestVerifierChallengeResponseValidates(t *testing.T) {
	v := NewVerifier(&seqRandom{}, timerClock{}, time.Second, ID("a"))
	pool := ackobserver.NewPool()

	if err := v.QueueProbe(ID("b"), pool); err != nil {
		t.Fatal(err)
	}
	if v.IsValidated(ID("b")) {
		t.Fatal("should not be validated yet")
	}

	buf := make([]byte, 0, 64)
	w := packet.NewWriter(buf, 64)
	v.SendNext(w, ID("b"))
	if w.Len() == 0 {
		t.Fatal("expected a PATH_CHALLENGE to be written")
	}

	// Simulate receiving the echoed response with the same challenge
	// data QueueProbe generated (seqRandom always emits n=0 bytes for
	// the first call).
	var data [8]byte
	v.RecvPathResponse(ID("b"), &frame.PathResponseFrame{Data: data})
	if !v.IsValidated(ID("b")) {
		t.Fatal("expected path b validated after matching PATH_RESPONSE")
	}
}

func TestVerifierMigrationOnValidatedPath(t *testing.T) {
	v := NewVerifier(&seqRandom{}, timerClock{}, time.Second, ID("a"))
	v.validated[ID("b")] = true
	pool := ackobserver.NewPool()
	if err := v.OnNonProbePacketReceived(ID("b"), pool); err != nil {
		t.Fatal(err)
	}
	if v.ActivePath() != ID("b") {
		t.Fatalf("expected migration to validated path b, active=%v", v.ActivePath())
	}
}

func TestVerifierImplicitValidationOnUnvalidatedPath(t *testing.T) {
	v := NewVerifier(&seqRandom{}, timerClock{}, time.Second, ID("a"))
	pool := ackobserver.NewPool()
	if err := v.OnNonProbePacketReceived(ID("c"), pool); err != nil {
		t.Fatal(err)
	}
	if v.ActivePath() != ID("a") {
		t.Fatal("non-validated path must not migrate")
	}
	if len(v.probes) != 1 {
		t.Fatalf("expected implicit validation to queue a probe, got %d", len(v.probes))
	}
}

type timerClock struct{}

func (timerClock) Now() time.Time { return time.Time{} }
func (timerClock) AfterFunc(d time.Duration, f func()) iface.Timer {
	return fakeTimer{}
}
