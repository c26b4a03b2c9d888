package frame

import (
	"bytes"

	"github.com/luoxk/qcore/varint"
)

// DatagramFrame carries one unreliable, unordered application message
// (RFC 9221). HasLength selects the DATAGRAM_LEN wire type; without
// it, the frame must be the last one in the packet, and its payload is
// implicitly the remainder of the packet.
type DatagramFrame struct {
	HasLength bool
	Data      []byte
}

func (f *DatagramFrame) Parse(r *bytes.Reader) error {
	if f.HasLength {
		l, err := varint.Read(r)
		if err != nil {
			return err
		}
		data := make([]byte, l)
		if _, err := readFull(r, data); err != nil {
			return err
		}
		f.Data = data
		return nil
	}
	data := make([]byte, r.Len())
	_, err := readFull(r, data)
	f.Data = data
	return err
}

func (f *DatagramFrame) Append(b []byte) []byte {
	t := TypeDatagram
	if f.HasLength {
		t = TypeDatagramLen
	}
	b = varint.Append(b, uint64(t))
	if f.HasLength {
		b = varint.Append(b, uint64(len(f.Data)))
	}
	return append(b, f.Data...)
}

func (f *DatagramFrame) Len(withLengthField bool) uint64 {
	n := uint64(1)
	if withLengthField && f.HasLength {
		n += uint64(varint.Len(uint64(len(f.Data))))
	}
	return n + uint64(len(f.Data))
}

func (f *DatagramFrame) VisitRVec(cb func([]byte) []byte) { f.Data = cb(f.Data) }
