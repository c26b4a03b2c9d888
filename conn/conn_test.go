package conn

import (
	"context"
	"testing"
	"time"

	"github.com/luoxk/qcore/closer"
	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/internal/iface"
	"github.com/luoxk/qcore/packet"
	"github.com/luoxk/qcore/path"
	"github.com/luoxk/qcore/stream"
	"github.com/luoxk/qcore/transport"
	"github.com/luoxk/qcore/transporterror"
	"github.com/luoxk/qcore/transportparam"
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

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Time{} }
func (fakeClock) AfterFunc(time.Duration, func()) iface.Timer {
	return fakeTimer{}
}

type fakeTLS struct{ complete bool }

func (f *fakeTLS) ProvideData(level iface.EncLevel, data []byte) error { return nil }
func (f *fakeTLS) Accept(ctx context.Context) error                   { return nil }
func (f *fakeTLS) Connect(ctx context.Context) error                  { return nil }
func (f *fakeTLS) HandshakeComplete() bool                            { return f.complete }

type fakeLossRecovery struct {
	sentPNs []uint64
}

func (f *fakeLossRecovery) OnPacketSent(pn uint64, ackEliciting bool, sentBytes int) {
	f.sentPNs = append(f.sentPNs, pn)
}
func (f *fakeLossRecovery) OnAckReceived(largestAcked uint64, ackDelay time.Duration, ranges [][2]uint64) {
}
func (f *fakeLossRecovery) CongestionWindow() uint64 { return 1 << 20 }
func (f *fakeLossRecovery) BytesInFlight() uint64     { return 0 }

type fakeApp struct {
	delivered     [][]byte
	resets        []uint64
	datagrams     [][]byte
	closedErr     []error
	closedCount   int
}

func (a *fakeApp) OnStreamDataReceived(streamID uint64, data []byte, fin bool) {
	a.delivered = append(a.delivered, append([]byte(nil), data...))
}
func (a *fakeApp) OnStreamReset(streamID uint64, appErrorCode uint64) {
	a.resets = append(a.resets, appErrorCode)
}
func (a *fakeApp) OnDatagramReceived(data []byte) {
	a.datagrams = append(a.datagrams, append([]byte(nil), data...))
}
func (a *fakeApp) OnHandshakeConfirmed() {}
func (a *fakeApp) OnConnectionClosed(err error) {
	a.closedCount++
	a.closedErr = append(a.closedErr, err)
}

func testLocalParams() *transportparam.Set {
	local := transportparam.Default()
	local.InitialMaxData = 1 << 20
	local.InitialMaxStreamDataBidiLocal = 1 << 20
	local.InitialMaxStreamDataBidiRemote = 1 << 20
	return local
}

func newTestConn(app iface.Application, lr *fakeLossRecovery) *Conn {
	return New(Config{
		IsServer:              true,
		Rand:                  &seqRandom{},
		Clock:                 fakeClock{},
		TLS:                   &fakeTLS{},
		LossRecovery:          lr,
		App:                   app,
		Opts:                  transport.DefaultOptions(),
		Local:                 testLocalParams(),
		CIDLen:                8,
		DatagramPendingLimit:  2,
		MaxQueuedDatagrams:    1,
		PathProbeTimeout:      time.Second,
		ActivePath:            path.ID("primary"),
		StreamWindowIncrement: 1024,
	})
}

func TestConnRecvInOrderStreamDataDeliversToApplication(t *testing.T) {
	app := &fakeApp{}
	c := newTestConn(app, &fakeLossRecovery{})

	f := &frame.StreamFrame{StreamID: 4, Offset: 0, Data: []byte("hello")}
	if err := c.RecvFrame(context.Background(), PacketSummary{Path: path.ID("primary"), Level: iface.EncApplication}, f); err != nil {
		t.Fatal(err)
	}
	if len(app.delivered) != 1 || string(app.delivered[0]) != "hello" {
		t.Fatalf("expected \"hello\" delivered in order, got %+v", app.delivered)
	}
}

func TestConnRecvOutOfOrderStreamDataNotDeliveredUntilGapCloses(t *testing.T) {
	app := &fakeApp{}
	c := newTestConn(app, &fakeLossRecovery{})

	gapped := &frame.StreamFrame{StreamID: 4, Offset: 5, Data: []byte("world")}
	if err := c.RecvFrame(context.Background(), PacketSummary{Path: path.ID("primary"), Level: iface.EncApplication}, gapped); err != nil {
		t.Fatal(err)
	}
	if len(app.delivered) != 0 {
		t.Fatalf("expected no delivery while a gap remains, got %+v", app.delivered)
	}
}

func TestConnRecvResetStreamNotifiesApplication(t *testing.T) {
	app := &fakeApp{}
	c := newTestConn(app, &fakeLossRecovery{})

	f := &frame.ResetStreamFrame{StreamID: 8, ApplicationErrorCode: 42, FinalSize: 0}
	if err := c.RecvFrame(context.Background(), PacketSummary{Path: path.ID("primary"), Level: iface.EncApplication}, f); err != nil {
		t.Fatal(err)
	}
	if len(app.resets) != 1 || app.resets[0] != 42 {
		t.Fatalf("expected reset code 42 delivered, got %+v", app.resets)
	}
}

func TestConnRecvMaxDataAdvancesConnSendCredit(t *testing.T) {
	c := newTestConn(&fakeApp{}, &fakeLossRecovery{})
	c.RecvPeerTransportParams(transportparam.Default())

	before := c.connSend.Limit()
	f := &frame.MaxDataFrame{MaximumData: before + 1000}
	if err := c.RecvFrame(context.Background(), PacketSummary{Path: path.ID("primary"), Level: iface.EncApplication}, f); err != nil {
		t.Fatal(err)
	}
	if c.connSend.Limit() != before+1000 {
		t.Fatalf("expected connSend limit advanced, got %d", c.connSend.Limit())
	}
}

func TestConnSendTickEmitsQueuedStreamData(t *testing.T) {
	lr := &fakeLossRecovery{}
	c := newTestConn(&fakeApp{}, lr)
	peer := transportparam.Default()
	peer.InitialMaxData = 1 << 20
	peer.InitialMaxStreamDataBidiRemote = 1 << 20
	c.RecvPeerTransportParams(peer)

	buf := stream.NewFlatBuffer(0)
	buf.Append([]byte("payload"))
	buf.CloseWrite()
	c.OpenStream(0, buf)

	w := packet.NewWriter(make([]byte, 0, 256), 256)
	if err := c.SendTick(w, path.ID("primary"), 1, closer.PacketOneRTT); err != nil {
		t.Fatal(err)
	}
	if w.Len() == 0 {
		t.Fatal("expected queued stream data written into the packet")
	}
	if len(lr.sentPNs) != 1 || lr.sentPNs[0] != 1 {
		t.Fatalf("expected loss recovery notified of packet 1, got %+v", lr.sentPNs)
	}
}

func TestConnAddDatagramRespectsQueueCap(t *testing.T) {
	c := newTestConn(&fakeApp{}, &fakeLossRecovery{})
	if ok := c.AddDatagram([]byte("a")); !ok {
		t.Fatal("expected first datagram accepted")
	}
	if ok := c.AddDatagram([]byte("b")); ok {
		t.Fatal("expected second datagram rejected once queue cap of 1 is reached")
	}
}

func TestConnRecvConnectionCloseFromPeerNotifiesApplicationOnce(t *testing.T) {
	app := &fakeApp{}
	c := newTestConn(app, &fakeLossRecovery{})

	f := &frame.ConnectionCloseFrame{IsApp: true, ErrorCode: 7, ReasonPhrase: []byte("bye")}
	if err := c.RecvFrame(context.Background(), PacketSummary{Path: path.ID("primary"), Level: iface.EncApplication}, f); err != nil {
		t.Fatal(err)
	}
	if !c.Closing() {
		t.Fatal("expected connection to be closing after peer CONNECTION_CLOSE")
	}
	if app.closedCount != 1 {
		t.Fatalf("expected application notified exactly once, got %d", app.closedCount)
	}

	// A second explicit local Close must not notify the application
	// again (spec.md §7: "the application receives the terminal error
	// exactly once").
	c.Close(transporterror.New(transporterror.InternalError, "local"))
	if app.closedCount != 1 {
		t.Fatalf("expected no second notification, got %d", app.closedCount)
	}
}

func TestConnSendTickAfterCloseEmitsConnectionClose(t *testing.T) {
	lr := &fakeLossRecovery{}
	c := newTestConn(&fakeApp{}, lr)
	c.Close(transporterror.New(transporterror.FlowControlError, "x"))

	w := packet.NewWriter(make([]byte, 0, 256), 256)
	if err := c.SendTick(w, path.ID("primary"), 5, closer.PacketOneRTT); err != nil {
		t.Fatal(err)
	}
	if w.Len() == 0 {
		t.Fatal("expected a CONNECTION_CLOSE frame written")
	}
	if len(lr.sentPNs) != 1 || lr.sentPNs[0] != 5 {
		t.Fatalf("expected the close packet reported to loss recovery, got %+v", lr.sentPNs)
	}
}
