package frame

import (
	"bytes"

	"github.com/luoxk/qcore/varint"
)

const (
	streamBitOff = 0x04
	streamBitLen = 0x02
	streamBitFin = 0x01
)

// StreamFrame carries a contiguous run of application data for one
// stream. LenPresent and Fin mirror the LEN and FIN bits of the wire
// type; the OFF bit is derived from Offset != 0 on Append. Offset and
// Length are only rendered/parsed when the corresponding bit is set
// (Offset implicitly 0 when OFF is clear, Length implicit as "rest of
// packet" when !LenPresent).
type StreamFrame struct {
	StreamID   uint64
	Offset     uint64
	LenPresent bool
	Fin        bool
	Data       []byte

	// hadOff records the OFF bit decoded from the wire type so Parse
	// knows whether to read an Offset field; set by setTypeBits for
	// incoming frames, cleared again by Parse once consumed, and
	// irrelevant for outgoing ones (Append derives the bit fresh from
	// Offset != 0).
	hadOff bool
}

func (f *StreamFrame) setTypeBits(t Type) {
	bits := byte(t - TypeStreamBase)
	f.LenPresent = bits&streamBitLen != 0
	f.Fin = bits&streamBitFin != 0
	f.hadOff = bits&streamBitOff != 0
}

func (f *StreamFrame) Parse(r *bytes.Reader) error {
	var err error
	if f.hadOff {
		if f.StreamID, err = varint.Read(r); err != nil {
			return err
		}
		if f.Offset, err = varint.Read(r); err != nil {
			return err
		}
		f.hadOff = false
	} else {
		if f.StreamID, err = varint.Read(r); err != nil {
			return err
		}
		f.Offset = 0
	}
	if f.LenPresent {
		l, err := varint.Read(r)
		if err != nil {
			return err
		}
		data := make([]byte, l)
		if _, err := readFull(r, data); err != nil {
			return err
		}
		f.Data = data
	} else {
		// No-length form: the rest of the packet is this frame's
		// payload. The dispatcher hands us the packet's own reader,
		// so "rest of the reader" is correct here.
		data := make([]byte, r.Len())
		if _, err := readFull(r, data); err != nil {
			return err
		}
		f.Data = data
	}
	return nil
}

func (f *StreamFrame) typeByte() Type {
	var bits byte
	if f.Offset != 0 {
		bits |= streamBitOff
	}
	if f.LenPresent {
		bits |= streamBitLen
	}
	if f.Fin {
		bits |= streamBitFin
	}
	return TypeStreamBase + Type(bits)
}

func (f *StreamFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(f.typeByte()))
	b = varint.Append(b, f.StreamID)
	if f.Offset != 0 {
		b = varint.Append(b, f.Offset)
	}
	if f.LenPresent {
		b = varint.Append(b, uint64(len(f.Data)))
	}
	return append(b, f.Data...)
}

func (f *StreamFrame) Len(withLengthField bool) uint64 {
	n := uint64(1) + uint64(varint.Len(f.StreamID))
	if f.Offset != 0 {
		n += uint64(varint.Len(f.Offset))
	}
	if withLengthField && f.LenPresent {
		n += uint64(varint.Len(uint64(len(f.Data))))
	}
	return n + uint64(len(f.Data))
}

func (f *StreamFrame) VisitRVec(cb func([]byte) []byte) { f.Data = cb(f.Data) }

// ResetStreamFrame abruptly terminates the send side of a stream.
type ResetStreamFrame struct {
	StreamID           uint64
	ApplicationErrorCode uint64
	FinalSize          uint64
}

func (f *ResetStreamFrame) Parse(r *bytes.Reader) error {
	var err error
	if f.StreamID, err = varint.Read(r); err != nil {
		return err
	}
	if f.ApplicationErrorCode, err = varint.Read(r); err != nil {
		return err
	}
	if f.FinalSize, err = varint.Read(r); err != nil {
		return err
	}
	return nil
}
func (f *ResetStreamFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypeResetStream))
	b = varint.Append(b, f.StreamID)
	b = varint.Append(b, f.ApplicationErrorCode)
	return varint.Append(b, f.FinalSize)
}
func (f *ResetStreamFrame) Len(bool) uint64 {
	return 1 + uint64(varint.Len(f.StreamID)) + uint64(varint.Len(f.ApplicationErrorCode)) + uint64(varint.Len(f.FinalSize))
}

// StopSendingFrame asks the peer to stop sending on a stream.
type StopSendingFrame struct {
	StreamID           uint64
	ApplicationErrorCode uint64
}

func (f *StopSendingFrame) Parse(r *bytes.Reader) error {
	var err error
	if f.StreamID, err = varint.Read(r); err != nil {
		return err
	}
	if f.ApplicationErrorCode, err = varint.Read(r); err != nil {
		return err
	}
	return nil
}
func (f *StopSendingFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypeStopSending))
	b = varint.Append(b, f.StreamID)
	return varint.Append(b, f.ApplicationErrorCode)
}
func (f *StopSendingFrame) Len(bool) uint64 {
	return 1 + uint64(varint.Len(f.StreamID)) + uint64(varint.Len(f.ApplicationErrorCode))
}

// MaxStreamDataFrame raises the per-stream send limit.
type MaxStreamDataFrame struct {
	StreamID       uint64
	MaximumStreamData uint64
}

func (f *MaxStreamDataFrame) Parse(r *bytes.Reader) error {
	var err error
	if f.StreamID, err = varint.Read(r); err != nil {
		return err
	}
	if f.MaximumStreamData, err = varint.Read(r); err != nil {
		return err
	}
	return nil
}
func (f *MaxStreamDataFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypeMaxStreamData))
	b = varint.Append(b, f.StreamID)
	return varint.Append(b, f.MaximumStreamData)
}
func (f *MaxStreamDataFrame) Len(bool) uint64 {
	return 1 + uint64(varint.Len(f.StreamID)) + uint64(varint.Len(f.MaximumStreamData))
}

// StreamDataBlockedFrame signals the sender was blocked by the
// stream-level flow-control limit.
type StreamDataBlockedFrame struct {
	StreamID      uint64
	MaximumStreamData uint64
}

func (f *StreamDataBlockedFrame) Parse(r *bytes.Reader) error {
	var err error
	if f.StreamID, err = varint.Read(r); err != nil {
		return err
	}
	if f.MaximumStreamData, err = varint.Read(r); err != nil {
		return err
	}
	return nil
}
func (f *StreamDataBlockedFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypeStreamDataBlocked))
	b = varint.Append(b, f.StreamID)
	return varint.Append(b, f.MaximumStreamData)
}
func (f *StreamDataBlockedFrame) Len(bool) uint64 {
	return 1 + uint64(varint.Len(f.StreamID)) + uint64(varint.Len(f.MaximumStreamData))
}
