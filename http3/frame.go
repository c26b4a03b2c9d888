package http3

import (
	"bytes"
	"fmt"

	"github.com/luoxk/qcore/varint"
)

// Frame is the common interface implemented by every HTTP/3 frame
// (RFC 9114 §7.2). Unlike QUIC frames, every H3 frame shares the same
// outer envelope — type varint, length varint, payload — so Frame only
// needs to describe the payload; ParseNext/AppendFrame handle the
// envelope once for all types.
type Frame interface {
	// FrameType reports this frame's wire type.
	FrameType() FrameType
	// AppendPayload renders the frame's payload (not including the
	// leading type/length fields) to the end of b.
	AppendPayload(b []byte) []byte
}

// ErrUnknownFrameType mirrors package frame's sentinel: a type this
// package doesn't have a concrete decoder for. At the H3 framing layer,
// unlike the QUIC frame layer, an unknown type is not fatal — RFC 9114
// §9 reserves the right to define new frame types that must be
// skipped, not rejected.
var ErrUnknownFrameType = fmt.Errorf("http3: unknown frame type")

// RawFrame carries the payload of a frame type this package does not
// decode further, so callers can still see its length and bytes.
type RawFrame struct {
	Type    FrameType
	Payload []byte
}

func (f *RawFrame) FrameType() FrameType { return f.Type }
func (f *RawFrame) AppendPayload(b []byte) []byte {
	return append(b, f.Payload...)
}

// DataFrame carries one DATA frame's raw application payload.
type DataFrame struct {
	Data []byte
}

func (f *DataFrame) FrameType() FrameType { return FrameData }
func (f *DataFrame) AppendPayload(b []byte) []byte {
	return append(b, f.Data...)
}

// HeadersFrame carries one HEADERS frame's already-QPACK-encoded field
// section block (encoding/decoding the field section itself is
// internal/qpackctx's job, not this package's).
type HeadersFrame struct {
	EncodedFieldSection []byte
}

func (f *HeadersFrame) FrameType() FrameType { return FrameHeaders }
func (f *HeadersFrame) AppendPayload(b []byte) []byte {
	return append(b, f.EncodedFieldSection...)
}

// PushPromiseFrame carries a push ID followed by its encoded field
// section (RFC 9114 §7.2.5).
type PushPromiseFrame struct {
	PushID              uint64
	EncodedFieldSection []byte
}

func (f *PushPromiseFrame) FrameType() FrameType { return FramePushPromise }
func (f *PushPromiseFrame) AppendPayload(b []byte) []byte {
	b = varint.Append(b, f.PushID)
	return append(b, f.EncodedFieldSection...)
}

// CancelPushFrame identifies a push ID the sender will not fulfill (or
// no longer wants fulfilled).
type CancelPushFrame struct {
	PushID uint64
}

func (f *CancelPushFrame) FrameType() FrameType { return FrameCancelPush }
func (f *CancelPushFrame) AppendPayload(b []byte) []byte {
	return varint.Append(b, f.PushID)
}

// MaxPushIDFrame advertises the largest push ID the server may use.
type MaxPushIDFrame struct {
	PushID uint64
}

func (f *MaxPushIDFrame) FrameType() FrameType { return FrameMaxPushID }
func (f *MaxPushIDFrame) AppendPayload(b []byte) []byte {
	return varint.Append(b, f.PushID)
}

// GoawayFrame signals the sender will no longer accept new requests or
// pushes at or above the carried ID.
type GoawayFrame struct {
	StreamOrPushID uint64
}

func (f *GoawayFrame) FrameType() FrameType { return FrameGoaway }
func (f *GoawayFrame) AppendPayload(b []byte) []byte {
	return varint.Append(b, f.StreamOrPushID)
}

// SettingsFrame renders a SETTINGS frame from a Settings value.
type SettingsFrame struct {
	Settings *Settings
}

func (f *SettingsFrame) FrameType() FrameType { return FrameSettings }
func (f *SettingsFrame) AppendPayload(b []byte) []byte {
	if f.Settings.MaxFieldSectionSize > 0 {
		b = varint.Append(b, SettingMaxFieldSectionSize)
		b = varint.Append(b, f.Settings.MaxFieldSectionSize)
	}
	for id, val := range f.Settings.Other {
		b = varint.Append(b, id)
		b = varint.Append(b, val)
	}
	return b
}

// AppendFrame renders f's full wire form (type, length, payload) to
// the end of b.
func AppendFrame(b []byte, f Frame) []byte {
	b = varint.Append(b, uint64(f.FrameType()))
	payload := f.AppendPayload(nil)
	b = varint.Append(b, uint64(len(payload)))
	return append(b, payload...)
}

// ParseNext reads one frame's type, length and payload from r and
// decodes the payload into a concrete Frame. Frame types this package
// does not have a concrete decoder for are returned as *RawFrame
// rather than rejected, per RFC 9114 §9's forward-compatibility rule.
func ParseNext(r *bytes.Reader) (Frame, error) {
	typ, err := varint.Read(r)
	if err != nil {
		return nil, err
	}
	length, err := varint.Read(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := r.Read(payload); err != nil {
			return nil, err
		}
	}
	t := FrameType(typ)
	pr := bytes.NewReader(payload)
	switch t {
	case FrameData:
		return &DataFrame{Data: payload}, nil
	case FrameHeaders:
		return &HeadersFrame{EncodedFieldSection: payload}, nil
	case FramePushPromise:
		id, err := varint.Read(pr)
		if err != nil {
			return nil, err
		}
		rest := make([]byte, pr.Len())
		pr.Read(rest)
		return &PushPromiseFrame{PushID: id, EncodedFieldSection: rest}, nil
	case FrameCancelPush:
		id, err := varint.Read(pr)
		if err != nil {
			return nil, err
		}
		return &CancelPushFrame{PushID: id}, nil
	case FrameMaxPushID:
		id, err := varint.Read(pr)
		if err != nil {
			return nil, err
		}
		return &MaxPushIDFrame{PushID: id}, nil
	case FrameGoaway:
		id, err := varint.Read(pr)
		if err != nil {
			return nil, err
		}
		return &GoawayFrame{StreamOrPushID: id}, nil
	case FrameSettings:
		return &SettingsFrame{Settings: parseSettings(payload)}, nil
	default:
		return &RawFrame{Type: t, Payload: payload}, nil
	}
}
