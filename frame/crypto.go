package frame

import (
	"bytes"

	"github.com/luoxk/qcore/varint"
)

// CryptoFrame carries a contiguous run of the TLS handshake byte
// stream for one encryption level. Unlike STREAM, the length field is
// always present and there is no stream id or FIN bit: the encryption
// level is implicit from the packet space the frame arrived in.
type CryptoFrame struct {
	Offset uint64
	Data   []byte
}

func (f *CryptoFrame) Parse(r *bytes.Reader) error {
	var err error
	if f.Offset, err = varint.Read(r); err != nil {
		return err
	}
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

func (f *CryptoFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypeCrypto))
	b = varint.Append(b, f.Offset)
	b = varint.Append(b, uint64(len(f.Data)))
	return append(b, f.Data...)
}

func (f *CryptoFrame) Len(bool) uint64 {
	return 1 + uint64(varint.Len(f.Offset)) + uint64(varint.Len(uint64(len(f.Data)))) + uint64(len(f.Data))
}

func (f *CryptoFrame) VisitRVec(cb func([]byte) []byte) { f.Data = cb(f.Data) }
