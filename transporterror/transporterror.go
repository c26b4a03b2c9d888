// Package transporterror holds the RFC 9000 transport error code table
// and the QUICError record that qcore's detection sites construct
// before handing off to the closer state machine (spec.md C11); some
// frame decode failures are reported as plain errors instead.
package transporterror

import "fmt"

// Code is a QUIC transport error code (RFC 9000 section 20.1) or an
// application-defined code when carried in an application-close frame.
type Code uint64

const (
	NoError                  Code = 0x00
	InternalError            Code = 0x01
	ConnectionRefused        Code = 0x02
	FlowControlError         Code = 0x03
	StreamLimitError         Code = 0x04
	StreamStateError         Code = 0x05
	FinalSizeError           Code = 0x06
	FrameEncodingError       Code = 0x07
	TransportParameterError  Code = 0x08
	ConnectionIDLimitError   Code = 0x09
	ProtocolViolation        Code = 0x0a
	InvalidToken             Code = 0x0b
	ApplicationError         Code = 0x0c
	CryptoBufferExceeded     Code = 0x0d
	KeyUpdateError           Code = 0x0e
	AEADLimitReached         Code = 0x0f
	NoViablePath             Code = 0x10
	// CryptoError covers the 0x0100-0x01ff range reserved for TLS
	// alert codes; CryptoError(alert) adds the base offset.
	cryptoErrorBase Code = 0x0100
)

// CryptoError returns the transport error code for a TLS alert.
func CryptoError(alert uint8) Code { return cryptoErrorBase + Code(alert) }

func (c Code) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case FlowControlError:
		return "FLOW_CONTROL_ERROR"
	case StreamLimitError:
		return "STREAM_LIMIT_ERROR"
	case StreamStateError:
		return "STREAM_STATE_ERROR"
	case FinalSizeError:
		return "FINAL_SIZE_ERROR"
	case FrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case TransportParameterError:
		return "TRANSPORT_PARAMETER_ERROR"
	case ConnectionIDLimitError:
		return "CONNECTION_ID_LIMIT_ERROR"
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case InvalidToken:
		return "INVALID_TOKEN"
	case ApplicationError:
		return "APPLICATION_ERROR"
	case CryptoBufferExceeded:
		return "CRYPTO_BUFFER_EXCEEDED"
	case KeyUpdateError:
		return "KEY_UPDATE_ERROR"
	case AEADLimitReached:
		return "AEAD_LIMIT_REACHED"
	case NoViablePath:
		return "NO_VIABLE_PATH"
	default:
		if c >= cryptoErrorBase && c < cryptoErrorBase+0x100 {
			return fmt.Sprintf("CRYPTO_ERROR(%d)", c-cryptoErrorBase)
		}
		return fmt.Sprintf("UNKNOWN_ERROR(%#x)", uint64(c))
	}
}

// Source distinguishes who initiated a QUICError.
type Source int

const (
	Runtime Source = iota
	App
	Peer
)

func (s Source) String() string {
	switch s {
	case Runtime:
		return "runtime"
	case App:
		return "app"
	case Peer:
		return "peer"
	default:
		return "unknown"
	}
}

// QUICError is the record a detection site builds before calling
// closer.Closer.OnError.
type QUICError struct {
	Code      Code
	Message   string
	IsApp     bool
	ByPeer    bool
	Source    Source
	FrameType uint64 // 0 if not applicable
}

func (e *QUICError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs a QUICError originated locally (Source=Runtime).
func New(code Code, message string) *QUICError {
	return &QUICError{Code: code, Message: message, Source: Runtime}
}

// FromPeer constructs a QUICError reporting a code/reason the peer
// supplied in a CONNECTION_CLOSE frame.
func FromPeer(code Code, isApp bool, reason string) *QUICError {
	return &QUICError{Code: code, Message: reason, IsApp: isApp, ByPeer: true, Source: Peer}
}
