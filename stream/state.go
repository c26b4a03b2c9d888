// Package stream implements the per-stream send/receive state
// machines, flow-control limiter, segmentation/reassembly engine, and
// write-buffer abstraction described in spec.md C5/C6.
package stream

import (
	"fmt"

	"github.com/luoxk/qcore/transporterror"
)

// SendState is the send-side lifecycle of a stream (spec.md §4.5).
type SendState int

const (
	SendReady SendState = iota
	SendSend
	SendDataSent
	SendDataRecvd
	SendResetSent
	SendResetRecvd
)

func (s SendState) String() string {
	switch s {
	case SendReady:
		return "ready"
	case SendSend:
		return "send"
	case SendDataSent:
		return "data_sent"
	case SendDataRecvd:
		return "data_recvd"
	case SendResetSent:
		return "reset_sent"
	case SendResetRecvd:
		return "reset_recvd"
	default:
		return "unknown"
	}
}

// FirstByteWritten transitions Ready -> Send; a no-op otherwise.
func (s *SendState) FirstByteWritten() {
	if *s == SendReady {
		*s = SendSend
	}
}

// FinEmitted transitions Send -> DataSent.
func (s *SendState) FinEmitted() error {
	switch *s {
	case SendSend:
		*s = SendDataSent
		return nil
	case SendDataSent:
		return nil
	default:
		return transporterror.New(transporterror.StreamStateError, fmt.Sprintf("FIN emitted from state %s", *s))
	}
}

// AllFramesAcked transitions DataSent -> DataRecvd.
func (s *SendState) AllFramesAcked() error {
	switch *s {
	case SendDataSent:
		*s = SendDataRecvd
		return nil
	case SendDataRecvd:
		return nil
	default:
		return transporterror.New(transporterror.StreamStateError, fmt.Sprintf("all-acked from state %s", *s))
	}
}

// AppRequestsReset transitions Send/DataSent -> ResetSent. Valid from
// any state prior to ResetRecvd; callers from Ready are expected (an
// app may reset a stream it never wrote to).
func (s *SendState) AppRequestsReset() {
	if *s != SendResetSent && *s != SendResetRecvd {
		*s = SendResetSent
	}
}

// ResetAcked transitions ResetSent -> ResetRecvd.
func (s *SendState) ResetAcked() error {
	switch *s {
	case SendResetSent:
		*s = SendResetRecvd
		return nil
	case SendResetRecvd:
		return nil
	default:
		return transporterror.New(transporterror.StreamStateError, fmt.Sprintf("reset-acked from state %s", *s))
	}
}

// IsReset reports whether the send side has been (or is being) reset.
func (s SendState) IsReset() bool { return s == SendResetSent || s == SendResetRecvd }

// RecvState is the receive-side lifecycle of a stream (spec.md §4.5).
type RecvState int

const (
	RecvRecv RecvState = iota
	RecvSizeKnown
	RecvDataRecvd
	RecvDataRead
	RecvResetRecvd
	RecvResetRead
)

func (s RecvState) String() string {
	switch s {
	case RecvRecv:
		return "recv"
	case RecvSizeKnown:
		return "size_known"
	case RecvDataRecvd:
		return "data_recvd"
	case RecvDataRead:
		return "data_read"
	case RecvResetRecvd:
		return "reset_recvd"
	case RecvResetRead:
		return "reset_read"
	default:
		return "unknown"
	}
}

// FrameWithFinArrives transitions Recv -> SizeKnown.
func (s *RecvState) FrameWithFinArrives() {
	if *s == RecvRecv {
		*s = RecvSizeKnown
	}
}

// ContiguousDelivered transitions SizeKnown -> DataRecvd.
func (s *RecvState) ContiguousDelivered() error {
	switch *s {
	case RecvSizeKnown:
		*s = RecvDataRecvd
		return nil
	case RecvDataRecvd:
		return nil
	default:
		return transporterror.New(transporterror.StreamStateError, fmt.Sprintf("contiguous-delivered from state %s", *s))
	}
}

// ConsumerReadAll transitions DataRecvd -> DataRead.
func (s *RecvState) ConsumerReadAll() error {
	switch *s {
	case RecvDataRecvd:
		*s = RecvDataRead
		return nil
	case RecvDataRead:
		return nil
	default:
		return transporterror.New(transporterror.StreamStateError, fmt.Sprintf("consumer-read-all from state %s", *s))
	}
}

// ResetStreamArrives transitions Recv/SizeKnown -> ResetRecvd.
func (s *RecvState) ResetStreamArrives() {
	if *s != RecvResetRecvd && *s != RecvResetRead {
		*s = RecvResetRecvd
	}
}

// ConsumerNotified transitions ResetRecvd -> ResetRead.
func (s *RecvState) ConsumerNotified() error {
	switch *s {
	case RecvResetRecvd:
		*s = RecvResetRead
		return nil
	case RecvResetRead:
		return nil
	default:
		return transporterror.New(transporterror.StreamStateError, fmt.Sprintf("consumer-notified from state %s", *s))
	}
}

// IsReset reports whether the receive side has observed a RESET_STREAM.
func (s RecvState) IsReset() bool { return s == RecvResetRecvd || s == RecvResetRead }
