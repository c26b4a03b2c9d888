// Package http3 implements the HTTP/3 stream layer of spec.md C13:
// unidirectional control/push/QPACK streams with singleton
// enforcement, the request-stream state machine, and push-ID
// bookkeeping.
package http3

import (
	"bytes"
	"sync/atomic"

	"github.com/luoxk/qcore/transporterror"
	"github.com/luoxk/qcore/varint"
)

// StreamType identifies a unidirectional HTTP/3 stream by its leading
// type-identifier varint (RFC 9114 §3.2).
type StreamType uint64

const (
	StreamTypeControl      StreamType = 0x00
	StreamTypePush         StreamType = 0x01
	StreamTypeQPACKEncoder StreamType = 0x02
	StreamTypeQPACKDecoder StreamType = 0x03
)

// singletons tracks, per StreamType that must appear at most once per
// direction, whether one has already been claimed — mirroring the
// teacher's atomic.Bool-per-type + CompareAndSwap pattern generalized
// to an arbitrary set of singleton types via a map of atomic flags.
type singletons struct {
	claimed map[StreamType]*atomic.Bool
}

func newSingletons() *singletons {
	s := &singletons{claimed: make(map[StreamType]*atomic.Bool)}
	for _, t := range []StreamType{StreamTypeControl, StreamTypeQPACKEncoder, StreamTypeQPACKDecoder} {
		s.claimed[t] = &atomic.Bool{}
	}
	return s
}

// Claim reports whether this is the first stream of type t seen on
// this connection (in this direction); a second claim for a singleton
// type is H3_STREAM_CREATION_ERROR.
func (s *singletons) Claim(t StreamType) error {
	flag, tracked := s.claimed[t]
	if !tracked {
		// Push streams and any extension type are not singletons.
		return nil
	}
	if !flag.CompareAndSwap(false, true) {
		return transporterror.New(H3StreamCreationError, "duplicate singleton stream type")
	}
	return nil
}

// H3 error codes (RFC 9114 §8.1), carried as application error codes.
const (
	H3NoError              = transporterror.Code(0x0100)
	H3GeneralProtocolError = transporterror.Code(0x0101)
	H3InternalError        = transporterror.Code(0x0102)
	H3StreamCreationError  = transporterror.Code(0x0103)
	H3ClosedCriticalStream = transporterror.Code(0x0104)
	H3FrameUnexpected      = transporterror.Code(0x0105)
	H3FrameError           = transporterror.Code(0x0106)
	H3ExcessiveLoad        = transporterror.Code(0x0107)
	H3IDError              = transporterror.Code(0x0108)
	H3SettingsError        = transporterror.Code(0x0109)
	H3MissingSettings      = transporterror.Code(0x010a)
	H3RequestRejected      = transporterror.Code(0x010b)
	H3RequestCancelled     = transporterror.Code(0x010c)
	H3RequestIncomplete    = transporterror.Code(0x010d)
	H3MessageError         = transporterror.Code(0x010e)
	H3ConnectError         = transporterror.Code(0x010f)
	H3VersionFallback      = transporterror.Code(0x0110)
)

// FrameType is an HTTP/3 frame type (RFC 9114 §7.2).
type FrameType uint64

const (
	FrameData        FrameType = 0x00
	FrameHeaders     FrameType = 0x01
	FrameCancelPush  FrameType = 0x03
	FrameSettings    FrameType = 0x04
	FramePushPromise FrameType = 0x05
	FrameGoaway      FrameType = 0x07
	FrameMaxPushID   FrameType = 0x0d
)

// Settings holds the HTTP/3 SETTINGS parameters this implementation
// recognizes; unknown settings are preserved in Other so they can be
// echoed or inspected without being silently dropped.
type Settings struct {
	MaxFieldSectionSize uint64
	Other               map[uint64]uint64
}

// ControlStream owns one direction's control-stream protocol state:
// the first frame must be SETTINGS, and subsequent frames are limited
// to MAX_PUSH_ID / CANCEL_PUSH (unknown non-reserved types ignored).
type ControlStream struct {
	gotSettings bool
	settings    *Settings
	push        *PushController
}

// NewControlStream returns a ControlStream bound to a PushController
// for MAX_PUSH_ID/CANCEL_PUSH bookkeeping.
func NewControlStream(push *PushController) *ControlStream {
	return &ControlStream{push: push}
}

// OnFrame processes one frame read from the control stream in order.
func (cs *ControlStream) OnFrame(t FrameType, payload []byte) error {
	if !cs.gotSettings {
		if t != FrameSettings {
			return transporterror.New(H3MissingSettings, "first control-stream frame was not SETTINGS")
		}
		cs.gotSettings = true
		cs.settings = parseSettings(payload)
		return nil
	}
	switch t {
	case FrameMaxPushID:
		id, err := readVarintPayload(payload)
		if err != nil {
			return transporterror.New(H3FrameError, "malformed MAX_PUSH_ID")
		}
		return cs.push.OnMaxPushID(id)
	case FrameCancelPush:
		id, err := readVarintPayload(payload)
		if err != nil {
			return transporterror.New(H3FrameError, "malformed CANCEL_PUSH")
		}
		cs.push.OnCancelPush(id)
		return nil
	case FrameSettings:
		return transporterror.New(H3FrameUnexpected, "duplicate SETTINGS frame")
	default:
		// Unknown H3 frame types on the control stream are ignored if
		// non-reserved (RFC 9114 §7.2.8); this implementation treats
		// every type it doesn't recognize as non-reserved.
		return nil
	}
}

// Settings returns the peer's SETTINGS once received, or nil.
func (cs *ControlStream) Settings() *Settings { return cs.settings }

// SettingMaxFieldSectionSize is the one SETTINGS identifier this
// implementation interprets natively (RFC 9114 §7.2.4.1); every other
// identifier is preserved verbatim in Settings.Other.
const SettingMaxFieldSectionSize = 0x06

func parseSettings(payload []byte) *Settings {
	s := &Settings{Other: make(map[uint64]uint64)}
	r := bytes.NewReader(payload)
	for r.Len() > 0 {
		id, err := varint.Read(r)
		if err != nil {
			break
		}
		val, err := varint.Read(r)
		if err != nil {
			break
		}
		if id == SettingMaxFieldSectionSize {
			s.MaxFieldSectionSize = val
		} else {
			s.Other[id] = val
		}
	}
	return s
}

func readVarintPayload(payload []byte) (uint64, error) {
	v, err := varint.Read(bytes.NewReader(payload))
	if err != nil {
		return 0, transporterror.New(H3FrameError, "truncated varint")
	}
	return v, nil
}
