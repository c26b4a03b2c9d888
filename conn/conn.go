// Package conn implements the per-connection orchestration type of
// spec.md §5/§6: the single coarse lock guarding connection-level flow
// control, connection-ID bookkeeping, and the close state, tying
// stream.Engine, crypto.Handshaker, dgram.Manager, connid.{Issuer,
// Acceptor}, path.Verifier, and closer.Closer together behind the
// recv_frame/send_tick/close/add_datagram surface spec.md §6 names.
package conn

import (
	"context"
	"sync"
	"time"

	"github.com/luoxk/qcore/ackobserver"
	"github.com/luoxk/qcore/closer"
	"github.com/luoxk/qcore/connid"
	"github.com/luoxk/qcore/crypto"
	"github.com/luoxk/qcore/dgram"
	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/internal/iface"
	"github.com/luoxk/qcore/packet"
	"github.com/luoxk/qcore/path"
	"github.com/luoxk/qcore/stream"
	"github.com/luoxk/qcore/transport"
	"github.com/luoxk/qcore/transporterror"
	"github.com/luoxk/qcore/transportparam"
)

// levelForPacketType maps the packet number space a send_tick is
// building for to the CRYPTO encryption level driving it, since the
// handshaker keys its LevelStreams by iface.EncLevel while the closer
// keys sanitization by closer.PacketType.
func levelForPacketType(pt closer.PacketType) iface.EncLevel {
	switch pt {
	case closer.PacketInitial:
		return iface.EncInitial
	case closer.PacketHandshake:
		return iface.EncHandshake
	default:
		return iface.EncApplication
	}
}

// PacketSummary carries the per-packet metadata recv_frame needs
// alongside the frame itself: which path it arrived on and its
// encryption level (for CRYPTO and HANDSHAKE_DONE dispatch).
type PacketSummary struct {
	Path  path.ID
	Level iface.EncLevel
}

// Config bundles the collaborators and initial local limits a Conn
// needs at construction (spec.md §6 "collaborator APIs consumed").
type Config struct {
	IsServer bool

	Rand         iface.Random
	Clock        iface.Clock
	TLS          iface.TLSEngine
	LossRecovery iface.LossRecovery
	App          iface.Application
	Opts         *transport.Options

	// Local is this side's transport parameter set, supplying the
	// initial connection- and stream-level receive limits.
	Local *transportparam.Set

	CIDLen                int
	DatagramPendingLimit  int
	MaxQueuedDatagrams    int
	PathProbeTimeout      time.Duration
	ActivePath            path.ID
	StreamWindowIncrement uint64
}

// Conn is one QUIC connection's orchestration state. The zero value is
// not usable; construct with New.
type Conn struct {
	mu sync.Mutex

	opts     *transport.Options
	isServer bool

	rand  iface.Random
	clock iface.Clock
	lr    iface.LossRecovery
	app   iface.Application

	handshaker *crypto.Handshaker

	streams     map[uint64]*stream.Engine
	streamOrder []uint64

	connSend             *stream.Limiter
	connRecv             *stream.Limiter
	connRecvWindowAnchor uint64
	windowIncrement      uint64

	localStreamRecvLimit uint64
	peerStreamSendLimit  uint64

	cidIssuer   *connid.Issuer
	cidAcceptor *connid.Acceptor

	dgramMgr           *dgram.Manager
	maxQueuedDatagrams int

	pathVerifier *path.Verifier

	closer *closer.Closer

	pool *ackobserver.Pool
}

// New builds a Conn ready to drive one QUIC connection, with the local
// transport parameters in cfg.Local governing this side's initial
// receive limits.
func New(cfg Config) *Conn {
	local := cfg.Local
	if local == nil {
		local = transportparam.Default()
	}
	windowIncrement := cfg.StreamWindowIncrement
	if windowIncrement == 0 {
		windowIncrement = local.InitialMaxStreamDataBidiLocal
	}

	c := &Conn{
		opts:                 cfg.Opts,
		isServer:             cfg.IsServer,
		rand:                 cfg.Rand,
		clock:                cfg.Clock,
		lr:                   cfg.LossRecovery,
		app:                  cfg.App,
		handshaker:           crypto.NewHandshaker(cfg.TLS, cfg.IsServer),
		streams:              make(map[uint64]*stream.Engine),
		connSend:             stream.NewLimiter(0),
		connRecv:             stream.NewLimiter(local.InitialMaxData),
		connRecvWindowAnchor: local.InitialMaxData,
		windowIncrement:      windowIncrement,
		localStreamRecvLimit: local.InitialMaxStreamDataBidiLocal,
		cidIssuer:            connid.NewIssuer(cfg.Rand, cfg.CIDLen, local.ActiveConnectionIDLimit),
		cidAcceptor:          connid.NewAcceptor(cfg.Rand, 1000, 4000),
		pool:                 ackobserver.NewPool(),
		closer:               closer.New(),
		maxQueuedDatagrams:   cfg.MaxQueuedDatagrams,
	}
	c.dgramMgr = dgram.NewManager(cfg.DatagramPendingLimit, local.MaxDatagramFrameSize, c.onDatagramDropped)
	c.pathVerifier = path.NewVerifier(cfg.Rand, cfg.Clock, cfg.PathProbeTimeout, cfg.ActivePath)
	return c
}

func (c *Conn) onDatagramDropped(data []byte, pn uint64) {
	if pn == dgram.InfinitePacketNumber {
		c.opts.Debug("datagram dropped before transmission (%d bytes)", len(data))
		return
	}
	c.opts.Debug("datagram in packet %d declared lost, dropped (%d bytes)", pn, len(data))
}

// RecvPeerTransportParams folds the peer's transport parameters into
// connection-level send credit and per-stream defaults once the
// handshake delivers them.
func (c *Conn) RecvPeerTransportParams(peer *transportparam.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connSend.Advance(peer.InitialMaxData)
	c.peerStreamSendLimit = peer.InitialMaxStreamDataBidiRemote
	c.cidIssuer.SetLimit(peer.ActiveConnectionIDLimit)
}

// OpenStream registers a locally-initiated stream (spec.md §6's
// open_bidi()/open_uni()), using buf as its send-side data source. A
// nil buf defaults to an empty FlatBuffer, for streams opened purely
// to receive.
func (c *Conn) OpenStream(streamID uint64, buf stream.WriteBuffer) *stream.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engineLocked(streamID, buf)
}

func (c *Conn) engineLocked(streamID uint64, buf stream.WriteBuffer) *stream.Engine {
	if e, ok := c.streams[streamID]; ok {
		return e
	}
	if buf == nil {
		buf = stream.NewFlatBuffer(0)
	}
	e := stream.NewEngine(streamID, buf,
		stream.NewLimiter(c.peerStreamSendLimit), c.connSend,
		stream.NewLimiter(c.localStreamRecvLimit), c.connRecv)
	c.streams[streamID] = e
	c.streamOrder = append(c.streamOrder, streamID)
	return e
}

// Stream returns the Engine for streamID, if it has been opened
// (locally or by the peer) already.
func (c *Conn) Stream(streamID uint64) (*stream.Engine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.streams[streamID]
	return e, ok
}

// isProbingFrame reports whether f's frame type is one of the
// path-probing set (RFC 9000 §9.1): packets carrying only these never
// trigger migration or implicit path validation.
func isProbingFrame(f frame.Frame) bool {
	switch f.(type) {
	case *frame.PathChallengeFrame, *frame.PathResponseFrame,
		*frame.PaddingFrame, *frame.NewConnectionIDFrame:
		return true
	default:
		return false
	}
}

// RecvFrame processes one incoming frame, already parsed and
// associated with the packet summary it arrived in (spec.md §6
// "recv_frame(summary, frame)"). ctx is threaded through to the TLS
// engine for CRYPTO frames.
func (c *Conn) RecvFrame(ctx context.Context, summary PacketSummary, f frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closer.Closing() {
		if _, ok := f.(*frame.ConnectionCloseFrame); !ok {
			c.closer.OnPeerPacketReceived()
			return nil
		}
	}

	if !isProbingFrame(f) {
		if err := c.pathVerifier.OnNonProbePacketReceived(summary.Path, c.pool); err != nil {
			return err
		}
	}

	switch v := f.(type) {
	case *frame.CryptoFrame:
		return c.handshaker.RecvCrypto(ctx, summary.Level, v)
	case *frame.HandshakeDoneFrame:
		if summary.Level != iface.EncApplication {
			return transporterror.New(transporterror.ProtocolViolation, "HANDSHAKE_DONE outside the Application space")
		}
		return c.handshaker.RecvHandshakeDone()

	case *frame.StreamFrame:
		e := c.engineLocked(v.StreamID, nil)
		before := e.RecvCursor()
		if err := e.RecvStreamFrame(v); err != nil {
			return err
		}
		// The reassembler retains no bytes once its cursor passes them,
		// so only the in-order fast path (no gap, no overlap) hands the
		// frame's own payload straight to the application; an
		// out-of-order arrival that later closes a gap has nowhere to
		// recover the skipped bytes from in this data model.
		if c.app != nil && v.Offset == before && e.RecvCursor() == before+uint64(len(v.Data)) {
			c.app.OnStreamDataReceived(v.StreamID, v.Data, v.Fin)
		}
		return nil
	case *frame.ResetStreamFrame:
		e := c.engineLocked(v.StreamID, nil)
		if err := e.RecvResetStream(v); err != nil {
			return err
		}
		if c.app != nil {
			c.app.OnStreamReset(v.StreamID, v.ApplicationErrorCode)
		}
		return nil
	case *frame.StopSendingFrame:
		e := c.engineLocked(v.StreamID, nil)
		e.OnStopSending(v.ApplicationErrorCode)
		return nil
	case *frame.MaxStreamDataFrame:
		e := c.engineLocked(v.StreamID, nil)
		e.RecvMaxStreamData(v)
		return nil
	case *frame.StreamDataBlockedFrame:
		c.opts.Debug("peer stream %d blocked on flow control", v.StreamID)
		return nil

	case *frame.MaxDataFrame:
		c.connSend.Advance(v.MaximumData)
		return nil
	case *frame.DataBlockedFrame:
		c.opts.Debug("peer connection-level blocked on flow control")
		return nil

	case *frame.NewConnectionIDFrame:
		return c.cidAcceptor.RecvNewConnectionID(v)
	case *frame.RetireConnectionIDFrame:
		return c.cidIssuer.RecvRetireConnectionID(v)

	case *frame.PathChallengeFrame:
		c.pathVerifier.RecvPathChallenge(summary.Path, v)
		return nil
	case *frame.PathResponseFrame:
		c.pathVerifier.RecvPathResponse(summary.Path, v)
		return nil

	case *frame.DatagramFrame:
		data, err := c.dgramMgr.RecvDatagram(v)
		if err != nil {
			return err
		}
		if c.app != nil {
			c.app.OnDatagramReceived(data)
		}
		return nil

	case *frame.AckFrame:
		ranges := make([][2]uint64, len(v.Ranges))
		for i, r := range v.Ranges {
			ranges[i] = [2]uint64{r.Smallest, r.Largest}
		}
		c.lr.OnAckReceived(v.LargestAcked, time.Duration(v.AckDelay)*time.Microsecond, ranges)
		return nil

	case *frame.ConnectionCloseFrame:
		c.closer.OnError(transporterror.FromPeer(transporterror.Code(v.ErrorCode), v.IsApp, string(v.ReasonPhrase)))
		if c.app != nil {
			c.app.OnConnectionClosed(c.closer.Err())
		}
		return nil

	case *frame.PaddingFrame, *frame.PingFrame, *frame.NewTokenFrame:
		return nil
	default:
		return nil
	}
}

// SendTick assembles at most one packet's worth of frames into w for
// the given packet number space and active path, in the priority order
// spec.md §9 implies (close > path validation > handshake > flow
// control > connection-ID churn > stream data > datagrams), and
// reports the sent packet to the loss-recovery collaborator once built
// (spec.md §6 "send_tick(writer, path, budget)"; budget is expressed
// by the caller sizing w to the congestion window before calling in).
func (c *Conn) SendTick(w *packet.Writer, activePath path.ID, pn uint64, pt closer.PacketType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dgramMgr.PollLost(c.pool)

	if c.closer.Closing() {
		if c.closer.Send(w, pt) {
			c.closer.OnClosePacketSent(append([]byte(nil), w.Bytes()...))
			c.lr.OnPacketSent(pn, w.Categories()&packet.AckEliciting != 0, w.Len())
		}
		return nil
	}

	c.pathVerifier.SendNext(w, activePath)

	if f, ok := c.handshaker.Level(levelForPacketType(pt)).SendNext(uint64(w.Remain())); ok {
		w.Write(f)
	}

	if pt == closer.PacketOneRTT {
		if c.handshaker.PendingHandshakeDone() {
			if w.Write(&frame.HandshakeDoneFrame{}) {
				c.handshaker.OnHandshakeDoneSent()
			}
		}

		if c.connRecv.ShouldBroadcast(c.connRecvWindowAnchor) {
			newLimit := c.connRecv.Used() + c.windowIncrement
			if w.Write(&frame.MaxDataFrame{MaximumData: newLimit}) {
				c.connRecv.Advance(newLimit)
				c.connRecvWindowAnchor = newLimit
			}
		}

		if err := c.cidIssuer.RetransmitLost(w); err != nil {
			return err
		}
		fresh, err := c.cidIssuer.TopUp(c.pool)
		if err != nil {
			return err
		}
		for _, f := range fresh {
			if !w.Write(f) {
				break
			}
		}

		for _, id := range c.streamOrder {
			e := c.streams[id]
			if _, err := e.SendReset(w, c.pool); err != nil {
				return err
			}
			if err := e.RetransmitReset(w); err != nil {
				return err
			}
			if err := e.MaybeResetAcked(); err != nil {
				return err
			}

			if _, err := e.SendStopSending(w, c.pool); err != nil {
				return err
			}
			if err := e.RetransmitStopSending(w); err != nil {
				return err
			}

			if err := e.RetransmitLost(w, c.pool); err != nil {
				return err
			}
			if _, err := e.SendNext(w, c.pool); err != nil {
				return err
			}
			if err := e.MaybeAllAcked(); err != nil {
				return err
			}
			if _, err := e.MaybeSendMaxStreamData(w, c.windowIncrement); err != nil {
				return err
			}
		}

		c.dgramMgr.SendNext(w, c.pool, pn)
	}

	c.lr.OnPacketSent(pn, w.Categories()&packet.AckEliciting != 0, w.Len())
	return nil
}

// AddDatagram enqueues data for the DATAGRAM send path (spec.md §6
// "add_datagram(bytes) → bool"), refusing it once the queue already
// holds maxQueuedDatagrams entries so a stalled path can't grow the
// queue without bound.
func (c *Conn) AddDatagram(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxQueuedDatagrams > 0 && c.dgramMgr.Len() >= c.maxQueuedDatagrams {
		return false
	}
	c.dgramMgr.Enqueue(data)
	return true
}

// Close records err as the connection's terminating error, notifying
// the application exactly once (spec.md §7's "application receives the
// terminal error exactly once").
func (c *Conn) Close(err *transporterror.QUICError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	already := c.closer.Closing()
	c.closer.OnError(err)
	if !already && c.app != nil {
		c.app.OnConnectionClosed(c.closer.Err())
	}
}

// Closing reports whether the connection has begun closing.
func (c *Conn) Closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closer.Closing()
}

// HandshakeConfirmed reports whether spec.md §4.7's handshake_confirmed
// derivation is satisfied for this side.
func (c *Conn) HandshakeConfirmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshaker.HandshakeConfirmed()
}
