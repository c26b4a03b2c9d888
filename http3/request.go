package http3

import "github.com/luoxk/qcore/transporterror"

// RequestState is the HTTP/3 request-stream state machine of
// spec.md §4.13, mirroring §4.5's shape at HTTP/3 granularity.
type RequestState int

const (
	ClientHeaderSend RequestState = iota
	ClientDataSend
	ClientEnd
	ClientHeaderRecv
	ClientDataRecv
)

func (s RequestState) String() string {
	switch s {
	case ClientHeaderSend:
		return "client_header_send"
	case ClientDataSend:
		return "client_data_send"
	case ClientEnd:
		return "client_end"
	case ClientHeaderRecv:
		return "client_header_recv"
	case ClientDataRecv:
		return "client_data_recv"
	default:
		return "unknown"
	}
}

// RequestStream drives one request's HTTP/3 stream state independent
// send and receive tracks.
type RequestStream struct {
	Send RequestState
	Recv RequestState
}

// NewRequestStream returns a RequestStream ready for a client-issued
// request.
func NewRequestStream() *RequestStream {
	return &RequestStream{Send: ClientHeaderSend, Recv: ClientHeaderRecv}
}

// WriteHeader transitions ClientHeaderSend -> ClientDataSend. Any
// other send state is H3_INTERNAL_ERROR.
func (r *RequestStream) WriteHeader() error {
	if r.Send != ClientHeaderSend {
		return transporterror.New(H3InternalError, "write_header out of order")
	}
	r.Send = ClientDataSend
	return nil
}

// WriteData processes a data write. When fin is true it transitions
// ClientDataSend -> ClientEnd; otherwise the stream stays in
// ClientDataSend. Writing before headers is H3_INTERNAL_ERROR.
func (r *RequestStream) WriteData(fin bool) error {
	if r.Send != ClientDataSend {
		return transporterror.New(H3InternalError, "write before header")
	}
	if fin {
		r.Send = ClientEnd
	}
	return nil
}

// ReadHeader transitions ClientHeaderRecv -> ClientDataRecv.
func (r *RequestStream) ReadHeader() error {
	if r.Recv != ClientHeaderRecv {
		return transporterror.New(H3FrameUnexpected, "unexpected HEADERS frame")
	}
	r.Recv = ClientDataRecv
	return nil
}

// OnEOS transitions ClientDataRecv -> ClientEnd on end-of-stream.
func (r *RequestStream) OnEOS() error {
	if r.Recv != ClientDataRecv {
		return transporterror.New(H3FrameUnexpected, "EOS before headers received")
	}
	r.Recv = ClientEnd
	return nil
}
