package http3

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/quic-go/qpack"
	"golang.org/x/net/http/httpguts"
	"golang.org/x/sync/errgroup"

	"github.com/luoxk/qcore/internal/qpackctx"
	"github.com/luoxk/qcore/transporterror"
	"github.com/luoxk/qcore/varint"
)

// Perspective distinguishes which endpoint a Conn is driving HTTP/3
// for, the way it changes which unidirectional stream types are legal
// to receive (only a server may receive a push stream request, and
// only a client may receive an actual push stream).
type Perspective int

const (
	PerspectiveClient Perspective = iota
	PerspectiveServer
)

// Conn is the per-QUIC-connection HTTP/3 driving state: singleton
// unidirectional stream enforcement in both directions, the local and
// peer control streams, push-ID bookkeeping, and the QPACK field
// context shared by every request stream on the connection. It is the
// generalization of the teacher's connection.HandleUnidirectionalStreams
// dispatch loop to this package's own ControlStream/PushController/
// singletons/qpackctx types.
type Conn struct {
	perspective Perspective

	localSingletons *singletons
	peerSingletons  *singletons

	push *PushController

	localControl *ControlStream
	peerControl  *ControlStream

	qpack *qpackctx.Context

	localSettings *Settings
}

// NewConn returns a Conn ready to drive one QUIC connection's HTTP/3
// layer. localSettings is this side's SETTINGS, sent on the local
// control stream once opened.
func NewConn(perspective Perspective, localSettings *Settings, qpackMaxCapacity uint64) *Conn {
	push := NewPushController()
	return &Conn{
		perspective:     perspective,
		localSingletons: newSingletons(),
		peerSingletons:  newSingletons(),
		push:            push,
		peerControl:     NewControlStream(push),
		qpack:           qpackctx.New(qpackMaxCapacity),
		localSettings:   localSettings,
	}
}

// OpenControlStream claims this connection's single outgoing control
// stream and renders the stream-type prefix followed by this side's
// SETTINGS frame, ready to write to a freshly opened unidirectional
// stream.
func (c *Conn) OpenControlStream() ([]byte, error) {
	if err := c.localSingletons.Claim(StreamTypeControl); err != nil {
		return nil, err
	}
	c.localControl = NewControlStream(c.push)
	b := varint.Append(nil, uint64(StreamTypeControl))
	b = AppendFrame(b, &SettingsFrame{Settings: c.localSettings})
	return b, nil
}

// OpenQPACKEncoderStream and OpenQPACKDecoderStream claim this
// connection's single outgoing QPACK encoder/decoder stream and render
// its stream-type prefix.
func (c *Conn) OpenQPACKEncoderStream() ([]byte, error) {
	if err := c.localSingletons.Claim(StreamTypeQPACKEncoder); err != nil {
		return nil, err
	}
	return varint.Append(nil, uint64(StreamTypeQPACKEncoder)), nil
}

func (c *Conn) OpenQPACKDecoderStream() ([]byte, error) {
	if err := c.localSingletons.Claim(StreamTypeQPACKDecoder); err != nil {
		return nil, err
	}
	return varint.Append(nil, uint64(StreamTypeQPACKDecoder)), nil
}

// HandleIncomingUnidirectionalStream reads the stream-type varint from
// r, claims any singleton slot it requires, and for the control stream
// parses and dispatches frames until r is exhausted.
func (c *Conn) HandleIncomingUnidirectionalStream(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	br := bytes.NewReader(data)
	typ, err := varint.Read(br)
	if err != nil {
		return err
	}
	switch StreamType(typ) {
	case StreamTypeControl:
		if err := c.peerSingletons.Claim(StreamTypeControl); err != nil {
			return err
		}
		return c.drainControlStream(br)
	case StreamTypeQPACKEncoder:
		// This context drives the encoder role for its own dynamic
		// table (internal/qpackctx.Context.EncodeFieldSection); it does
		// not implement a peer-encoder-driven decoder, so an incoming
		// encoder stream is claimed but its instruction bytes in br are
		// not interpreted.
		return c.peerSingletons.Claim(StreamTypeQPACKEncoder)
	case StreamTypeQPACKDecoder:
		return c.peerSingletons.Claim(StreamTypeQPACKDecoder)
	case StreamTypePush:
		if c.perspective == PerspectiveClient {
			return nil
		}
		return transporterror.New(H3StreamCreationError, "server may not receive a push stream")
	default:
		// Unknown unidirectional stream types may be safely ignored
		// (RFC 9114 §6.2); the receiver is not required to read
		// further from them.
		return nil
	}
}

func (c *Conn) drainControlStream(r *bytes.Reader) error {
	for r.Len() > 0 {
		f, err := ParseNext(r)
		if err != nil {
			return transporterror.New(H3FrameError, "malformed control-stream frame")
		}
		if err := c.peerControl.OnFrame(f.FrameType(), f.AppendPayload(nil)); err != nil {
			return err
		}
	}
	return nil
}

// PeerSettings returns the peer's SETTINGS once its control stream has
// delivered them, or nil.
func (c *Conn) PeerSettings() *Settings {
	if c.peerControl == nil {
		return nil
	}
	return c.peerControl.Settings()
}

// OpenRequest claims an outgoing request's send-state tracking and
// QPACK-encodes its header fields under the shared field context,
// returning the HEADERS frame ready to write to a freshly opened
// bidirectional stream.
func (c *Conn) OpenRequest(streamID uint64, fields []qpack.HeaderField) (*RequestStream, []byte, error) {
	if err := validateFieldSection(fields); err != nil {
		return nil, nil, err
	}
	rs := NewRequestStream()
	if err := rs.WriteHeader(); err != nil {
		return nil, nil, err
	}
	block, err := c.qpack.EncodeFieldSection(streamID, fields)
	if err != nil {
		return nil, nil, err
	}
	return rs, AppendFrame(nil, &HeadersFrame{EncodedFieldSection: block}), nil
}

// WriteData renders a DATA frame for an already-open request stream,
// advancing rs's send-state machine.
func (c *Conn) WriteData(rs *RequestStream, data []byte, fin bool) ([]byte, error) {
	if err := rs.WriteData(fin); err != nil {
		return nil, err
	}
	return AppendFrame(nil, &DataFrame{Data: data}), nil
}

// ReadRequestFrame parses one frame from an incoming request stream's
// buffered bytes and advances rs's receive-state machine, QPACK-
// decoding HEADERS frames under the shared field context.
func (c *Conn) ReadRequestFrame(rs *RequestStream, r *bytes.Reader) (Frame, []qpack.HeaderField, error) {
	f, err := ParseNext(r)
	if err != nil {
		return nil, nil, err
	}
	switch v := f.(type) {
	case *HeadersFrame:
		if err := rs.ReadHeader(); err != nil {
			return nil, nil, err
		}
		fields, err := c.qpack.DecodeFieldSection(v.EncodedFieldSection)
		if err != nil {
			return nil, nil, err
		}
		if err := validateFieldSection(fields); err != nil {
			return nil, nil, err
		}
		return f, fields, nil
	default:
		return f, nil, nil
	}
}

// validateFieldSection rejects a decoded or about-to-be-encoded HEADERS
// field section containing a malformed pseudo-header-stripped field
// name or value, the same httpguts.ValidHeaderFieldName/
// ValidHeaderFieldValue checks net/http itself runs on trailers and
// header lines, applied here to QPACK-decoded/encoded field sections
// since HEADERS carries HTTP semantics over a non-HTTP/1.1 wire form.
func validateFieldSection(fields []qpack.HeaderField) error {
	for _, f := range fields {
		name := f.Name
		if strings.HasPrefix(name, ":") {
			continue
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return transporterror.New(H3MessageError, "malformed header field name: "+name)
		}
		if !httpguts.ValidHeaderFieldValue(f.Value) {
			return transporterror.New(H3MessageError, "malformed header field value for "+name)
		}
	}
	return nil
}

// RunUnidirectionalStreams drives one goroutine per incoming
// unidirectional stream reader concurrently, the same
// errgroup.WithContext fan-out the teacher's pack uses for concurrent
// per-connection routines: the first stream to fail cancels the
// group's derived context, which the handlers do not receive, so every
// goroutine still runs to completion; the group returns that first
// failure once every goroutine has exited. ctx itself is not cancelled.
func (c *Conn) RunUnidirectionalStreams(ctx context.Context, readers []io.Reader) error {
	g, _ := errgroup.WithContext(ctx)
	for _, r := range readers {
		r := r
		g.Go(func() error {
			return c.HandleIncomingUnidirectionalStream(r)
		})
	}
	return g.Wait()
}

// CloseRequest releases streamID's QPACK dynamic-table reference and
// marks rs's receive track as ended.
func (c *Conn) CloseRequest(streamID uint64, rs *RequestStream) error {
	c.qpack.OnStreamClosed(streamID)
	return rs.OnEOS()
}
