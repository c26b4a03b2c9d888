package stream

import (
	"testing"

	"github.com/luoxk/qcore/ackobserver"
	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/packet"
)

func newTestEngine(data []byte, fin bool) (*Engine, *FlatBuffer) {
	buf := NewFlatBuffer(0)
	buf.Append(data)
	if fin {
		buf.CloseWrite()
	}
	e := NewEngine(4, buf,
		NewLimiter(1<<20), NewLimiter(1<<20),
		NewLimiter(1<<20), NewLimiter(1<<20))
	return e, buf
}

func TestEngineSendSimple(t *testing.T) {
	e, _ := newTestEngine([]byte("Hello"), true)
	pool := ackobserver.NewPool()
	buf := make([]byte, 0, 64)
	w := packet.NewWriter(buf, 64)

	outcome, err := e.SendNext(w, pool)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != SendOK {
		t.Fatalf("expected SendOK, got %v", outcome)
	}
	if e.Send != SendDataSent {
		t.Fatalf("expected SendDataSent, got %v", e.Send)
	}

	outcome, err = e.SendNext(w, pool)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != SendNothingToDo {
		t.Fatalf("expected SendNothingToDo on second call, got %v", outcome)
	}
}

func TestEngineSendBlockedByStream(t *testing.T) {
	buf := NewFlatBuffer(0)
	buf.Append([]byte("this is more than the stream limit allows"))
	e := NewEngine(0, buf,
		NewLimiter(2), NewLimiter(1<<20),
		NewLimiter(1<<20), NewLimiter(1<<20))
	pool := ackobserver.NewPool()
	out := make([]byte, 0, 64)
	w := packet.NewWriter(out, 64)

	outcome, err := e.SendNext(w, pool)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != SendOK {
		t.Fatalf("expected first send to succeed with 2 bytes, got %v", outcome)
	}
	if e.sendLimit.Avail() != 0 {
		t.Fatalf("expected stream limit exhausted, avail=%d", e.sendLimit.Avail())
	}

	outcome, err = e.SendNext(w, pool)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != SendBlockedByStream {
		t.Fatalf("expected SendBlockedByStream, got %v", outcome)
	}
}

func TestEngineSendNoCapacity(t *testing.T) {
	e, _ := newTestEngine([]byte("Hello"), true)
	pool := ackobserver.NewPool()
	out := make([]byte, 0, 1) // far too small for even the overhead
	w := packet.NewWriter(out, 1)

	outcome, err := e.SendNext(w, pool)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != SendNoCapacity {
		t.Fatalf("expected SendNoCapacity, got %v", outcome)
	}
}

func TestEngineRecvAndDeliver(t *testing.T) {
	e, _ := newTestEngine(nil, false)
	e.recvLimit = NewLimiter(1 << 20)
	e.connRecv = NewLimiter(1 << 20)

	f := &frame.StreamFrame{StreamID: 4, Offset: 0, Data: []byte("hi"), Fin: true}
	if err := e.RecvStreamFrame(f); err != nil {
		t.Fatal(err)
	}
	if e.Recv != RecvDataRecvd {
		t.Fatalf("expected RecvDataRecvd, got %v", e.Recv)
	}
}

func TestEngineRecvFlowControlExceeded(t *testing.T) {
	e, _ := newTestEngine(nil, false)
	e.recvLimit = NewLimiter(1)
	e.connRecv = NewLimiter(1 << 20)

	f := &frame.StreamFrame{StreamID: 4, Offset: 0, Data: []byte("hi")}
	if err := e.RecvStreamFrame(f); err == nil {
		t.Fatal("expected FLOW_CONTROL_ERROR")
	}
}

func TestEngineResetTieBreak(t *testing.T) {
	e, _ := newTestEngine([]byte("data"), false)
	e.RequestReset(7)
	e.OnStopSending(99)
	code, pending := e.PendingReset()
	if !pending || code != 7 {
		t.Fatalf("local reset should win tie, got code=%d pending=%v", code, pending)
	}
}

func TestEngineStopSendingSetsResetWhenNoLocalRequest(t *testing.T) {
	e, _ := newTestEngine([]byte("data"), false)
	e.OnStopSending(42)
	code, pending := e.PendingReset()
	if !pending || code != 42 {
		t.Fatalf("expected peer-supplied reset code 42, got code=%d pending=%v", code, pending)
	}
}

func TestEngineSendResetAndRetransmitOnLoss(t *testing.T) {
	e, _ := newTestEngine([]byte("data"), false)
	pool := ackobserver.NewPool()
	out := make([]byte, 0, 64)
	w := packet.NewWriter(out, 64)

	e.RequestReset(7)
	sent, err := e.SendReset(w, pool)
	if err != nil {
		t.Fatal(err)
	}
	if !sent {
		t.Fatal("expected RESET_STREAM to be written")
	}
	if w.Len() == 0 {
		t.Fatal("expected bytes written for RESET_STREAM")
	}
	if sent, _ := e.SendReset(w, pool); sent {
		t.Fatal("expected SendReset to be a no-op once already sent")
	}

	if err := e.MaybeResetAcked(); err != nil {
		t.Fatal(err)
	}
	if e.Send != SendResetSent {
		t.Fatalf("expected SendResetSent while the registry still holds the fragment, got %v", e.Send)
	}

	e.resetResendReg.entries[0].observer.SetLost()
	w2 := packet.NewWriter(make([]byte, 0, 64), 64)
	if err := e.RetransmitReset(w2); err != nil {
		t.Fatal(err)
	}
	if w2.Len() == 0 {
		t.Fatal("expected RESET_STREAM to be re-emitted after loss")
	}

	e.resetResendReg.entries[0].observer.SetAcked()
	if err := e.RetransmitReset(packet.NewWriter(make([]byte, 0, 64), 64)); err != nil {
		t.Fatal(err)
	}
	if err := e.MaybeResetAcked(); err != nil {
		t.Fatal(err)
	}
	if e.Send != SendResetRecvd {
		t.Fatalf("expected SendResetRecvd once the registry drained, got %v", e.Send)
	}
}

func TestEngineSendStopSending(t *testing.T) {
	e, _ := newTestEngine(nil, false)
	pool := ackobserver.NewPool()
	w := packet.NewWriter(make([]byte, 0, 64), 64)

	e.RequestStopSending(13)
	sent, err := e.SendStopSending(w, pool)
	if err != nil {
		t.Fatal(err)
	}
	if !sent {
		t.Fatal("expected STOP_SENDING to be written")
	}
	if sent, _ := e.SendStopSending(w, pool); sent {
		t.Fatal("expected SendStopSending to be a no-op once already sent")
	}

	e.stopSendingResendReg.entries[0].observer.SetLost()
	w2 := packet.NewWriter(make([]byte, 0, 64), 64)
	if err := e.RetransmitStopSending(w2); err != nil {
		t.Fatal(err)
	}
	if w2.Len() == 0 {
		t.Fatal("expected STOP_SENDING to be re-emitted after loss")
	}
}

func TestEngineMaybeSendMaxStreamData(t *testing.T) {
	e, _ := newTestEngine(nil, false)
	e.recvLimit = NewLimiter(100)
	e.recvWindowAnchor = 100

	w := packet.NewWriter(make([]byte, 0, 64), 64)
	sent, err := e.MaybeSendMaxStreamData(w, 100)
	if err != nil {
		t.Fatal(err)
	}
	if sent {
		t.Fatal("expected no broadcast before half the window is used")
	}

	e.recvLimit.Charge(60)
	sent, err = e.MaybeSendMaxStreamData(w, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !sent {
		t.Fatal("expected a MAX_STREAM_DATA broadcast once used >= limit - initial/2")
	}
	if e.recvLimit.Limit() != 160 {
		t.Fatalf("expected limit advanced to used+windowSize=160, got %d", e.recvLimit.Limit())
	}
	if e.recvWindowAnchor != 160 {
		t.Fatalf("expected anchor advanced to 160, got %d", e.recvWindowAnchor)
	}
}

func TestEngineRecvMaxStreamData(t *testing.T) {
	e, _ := newTestEngine(nil, false)
	e.sendLimit = NewLimiter(10)
	e.RecvMaxStreamData(&frame.MaxStreamDataFrame{StreamID: e.ID, MaximumStreamData: 500})
	if e.sendLimit.Limit() != 500 {
		t.Fatalf("expected send limit advanced to 500, got %d", e.sendLimit.Limit())
	}
	e.RecvMaxStreamData(&frame.MaxStreamDataFrame{StreamID: e.ID, MaximumStreamData: 100})
	if e.sendLimit.Limit() != 500 {
		t.Fatalf("expected a lower, reordered limit to be ignored, got %d", e.sendLimit.Limit())
	}
}
