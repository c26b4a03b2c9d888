package closer

import (
	"bytes"
	"testing"
	"time"

	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/internal/iface"
	"github.com/luoxk/qcore/packet"
	"github.com/luoxk/qcore/transporterror"
)

func TestSendSanitizesAppErrorInInitial(t *testing.T) {
	c := New()
	c.OnError(&transporterror.QUICError{Code: transporterror.Code(42), IsApp: true, Message: "app reason"})

	buf := make([]byte, 0, 64)
	w := packet.NewWriter(buf, 64)
	if !c.Send(w, PacketInitial) {
		t.Fatal("expected Send to succeed")
	}
	// Re-parse to check sanitization landed on the wire.
	parsed, err := roundtripClose(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if parsed.IsApp {
		t.Fatal("app-code close in Initial must be sanitized to transport APPLICATION_ERROR")
	}
	if parsed.ErrorCode != uint64(transporterror.ApplicationError) {
		t.Fatalf("expected APPLICATION_ERROR code, got %d", parsed.ErrorCode)
	}
	if len(parsed.ReasonPhrase) != 0 {
		t.Fatalf("expected empty reason, got %q", parsed.ReasonPhrase)
	}
}

func TestSendPreservesAppErrorInOneRTT(t *testing.T) {
	c := New()
	c.OnError(&transporterror.QUICError{Code: transporterror.Code(42), IsApp: true, Message: "bye"})
	buf := make([]byte, 0, 64)
	w := packet.NewWriter(buf, 64)
	if !c.Send(w, PacketOneRTT) {
		t.Fatal("expected Send to succeed")
	}
	parsed, err := roundtripClose(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.IsApp || parsed.ErrorCode != 42 || string(parsed.ReasonPhrase) != "bye" {
		t.Fatalf("expected app close preserved in OneRTT, got %+v", parsed)
	}
}

func TestOnErrorFirstWins(t *testing.T) {
	c := New()
	c.OnError(&transporterror.QUICError{Code: transporterror.FlowControlError})
	c.OnError(&transporterror.QUICError{Code: transporterror.ProtocolViolation})
	if c.Err().Code != transporterror.FlowControlError {
		t.Fatalf("expected first error to win, got %v", c.Err().Code)
	}
}

func TestDrainResendOnPeerPacket(t *testing.T) {
	c := New()
	c.OnClosePacketSent([]byte("close-bytes"))
	dl := c.ExposeClosedContext(fakeClock{}, time.Second)

	dl.OnIncomingPacket(true)
	payload, done := dl.Tick()
	if done {
		t.Fatal("should not be done yet")
	}
	if string(payload) != "close-bytes" {
		t.Fatalf("expected resend of saved payload, got %q", payload)
	}

	// Second tick without a new incoming packet should not resend.
	payload, _ = dl.Tick()
	if payload != nil {
		t.Fatal("should not resend without a new incoming packet")
	}
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool               { return true }
func (fakeTimer) Reset(time.Duration) bool { return true }

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Time{} }
func (fakeClock) AfterFunc(d time.Duration, f func()) iface.Timer {
	return fakeTimer{}
}

func roundtripClose(b []byte) (*frame.ConnectionCloseFrame, error) {
	f, err := frame.ParseNext(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return f.(*frame.ConnectionCloseFrame), nil
}
