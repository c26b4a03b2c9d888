// Package frame implements the wire encoding and decoding of QUIC v1
// frames (RFC 9000 section 19) and the DATAGRAM extension (RFC 9221).
//
// Every concrete frame type implements Frame. Parse consumes the
// frame's fields from the reader; on error the reader is left wherever
// the failing read stopped. Append renders the frame (type byte
// included) to the end of b. Len reports the wire length; the
// withLengthField argument selects, for frames with an optional length
// field (STREAM, DATAGRAM), whether that field's own encoded size
// should be included or whether the caller wants the "true payload
// size" instead. CRYPTO always carries its length field and always
// counts it.
package frame

import (
	"bytes"
	"fmt"

	"github.com/luoxk/qcore/varint"
)

// Type is the wire type of a QUIC frame.
type Type uint64

const (
	TypePadding          Type = 0x00
	TypePing             Type = 0x01
	TypeAck              Type = 0x02
	TypeAckECN           Type = 0x03
	TypeResetStream      Type = 0x04
	TypeStopSending      Type = 0x05
	TypeCrypto           Type = 0x06
	TypeNewToken         Type = 0x07
	TypeStreamBase       Type = 0x08 // 0x08-0x0f, bits OFF|LEN|FIN
	TypeStreamMax        Type = 0x0f
	TypeMaxData          Type = 0x10
	TypeMaxStreamData    Type = 0x11
	TypeMaxStreamsBidi   Type = 0x12
	TypeMaxStreamsUni    Type = 0x13
	TypeDataBlocked      Type = 0x14
	TypeStreamDataBlocked Type = 0x15
	TypeStreamsBlockedBidi Type = 0x16
	TypeStreamsBlockedUni  Type = 0x17
	TypeNewConnectionID  Type = 0x18
	TypeRetireConnectionID Type = 0x19
	TypePathChallenge    Type = 0x1a
	TypePathResponse     Type = 0x1b
	TypeConnectionCloseTransport Type = 0x1c
	TypeConnectionCloseApp       Type = 0x1d
	TypeHandshakeDone    Type = 0x1e
	TypeDatagram         Type = 0x30
	TypeDatagramLen      Type = 0x31
)

// IsStream reports whether t is one of the 8 STREAM frame wire types.
func (t Type) IsStream() bool { return t >= TypeStreamBase && t <= TypeStreamMax }

// IsDatagram reports whether t is DATAGRAM or DATAGRAM_LEN.
func (t Type) IsDatagram() bool { return t == TypeDatagram || t == TypeDatagramLen }

// Frame is the common interface implemented by every QUIC frame.
type Frame interface {
	// Parse decodes the frame's fields from r. The type byte/varint
	// has already been consumed by the dispatcher; Parse reads
	// whatever follows it. r is only advanced on success.
	Parse(r *bytes.Reader) error
	// Append renders the complete frame, including its type field, to
	// the end of b and returns the extended slice.
	Append(b []byte) []byte
	// Len reports the wire length of the frame as Append would render
	// it. withLengthField only affects STREAM/CRYPTO/DATAGRAM: when
	// false it reports the length as if the internal length field
	// were omitted (i.e. the no-length wire form).
	Len(withLengthField bool) uint64
}

// RVecVisitor is implemented by frames that hold a byte-slice payload
// whose backing array the packetizer may need to relocate (e.g. when
// compacting a resend registry). VisitRVec calls cb with the current
// slice and replaces it with cb's return value.
type RVecVisitor interface {
	VisitRVec(cb func([]byte) []byte)
}

// ErrUnknownFrameType is returned by Parse for a leading varint this
// package does not recognize as a defined frame type. Unknown H3-layer
// frame types are a different (non-fatal) concept handled in package
// http3; at the QUIC frame layer an unrecognized type is always a
// FRAME_ENCODING_ERROR.
var ErrUnknownFrameType = fmt.Errorf("frame: unknown frame type")

// ParseNext reads the next frame's type and dispatches to the
// corresponding concrete decoder, returning the decoded Frame. On any
// error the reader position is unspecified for the type varint itself
// having been consumed; callers that need exact resumability should
// snapshot the reader (e.g. via bytes.NewReader on a sub-slice) before
// calling ParseNext.
func ParseNext(r *bytes.Reader) (Frame, error) {
	typ, err := varint.Read(r)
	if err != nil {
		return nil, err
	}
	t := Type(typ)
	var f Frame
	switch {
	case t == TypePadding:
		f = &PaddingFrame{}
	case t == TypePing:
		f = &PingFrame{}
	case t == TypeHandshakeDone:
		f = &HandshakeDoneFrame{}
	case t == TypeMaxData:
		f = &MaxDataFrame{}
	case t == TypeDataBlocked:
		f = &DataBlockedFrame{}
	case t == TypeMaxStreamsBidi:
		f = &MaxStreamsFrame{Bidi: true}
	case t == TypeMaxStreamsUni:
		f = &MaxStreamsFrame{Bidi: false}
	case t == TypeStreamsBlockedBidi:
		f = &StreamsBlockedFrame{Bidi: true}
	case t == TypeStreamsBlockedUni:
		f = &StreamsBlockedFrame{Bidi: false}
	case t.IsStream():
		sf := &StreamFrame{}
		sf.setTypeBits(t)
		f = sf
	case t == TypeCrypto:
		f = &CryptoFrame{}
	case t == TypeResetStream:
		f = &ResetStreamFrame{}
	case t == TypeStopSending:
		f = &StopSendingFrame{}
	case t == TypeMaxStreamData:
		f = &MaxStreamDataFrame{}
	case t == TypeStreamDataBlocked:
		f = &StreamDataBlockedFrame{}
	case t.IsDatagram():
		df := &DatagramFrame{HasLength: t == TypeDatagramLen}
		f = df
	case t == TypeNewToken:
		f = &NewTokenFrame{}
	case t == TypeNewConnectionID:
		f = &NewConnectionIDFrame{}
	case t == TypeRetireConnectionID:
		f = &RetireConnectionIDFrame{}
	case t == TypePathChallenge:
		f = &PathChallengeFrame{}
	case t == TypePathResponse:
		f = &PathResponseFrame{}
	case t == TypeAck:
		f = &AckFrame{}
	case t == TypeAckECN:
		f = &AckFrame{ECN: true}
	case t == TypeConnectionCloseTransport:
		f = &ConnectionCloseFrame{IsApp: false}
	case t == TypeConnectionCloseApp:
		f = &ConnectionCloseFrame{IsApp: true}
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownFrameType, typ)
	}
	if err := f.Parse(r); err != nil {
		return nil, err
	}
	return f, nil
}
