// Package varint implements the QUIC variable-length integer encoding
// (RFC 9000 section 16): a 2-bit length prefix selecting a 1, 2, 4, or
// 8 byte encoding of values in [0, 2^62-1].
package varint

import (
	"bytes"
	"errors"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Max is the largest value a QUIC varint can encode.
const Max = uint64(1)<<62 - 1

// ErrValueTooLarge is returned when a caller attempts to encode a value
// that doesn't fit in 62 bits.
var ErrValueTooLarge = errors.New("varint: value exceeds 2^62-1")

// Len returns the number of bytes the minimal encoding of v occupies.
func Len(v uint64) int {
	return int(quicvarint.Len(v))
}

// Append writes the minimal-length encoding of v to b and returns the
// extended slice. It panics if v > Max, matching the teacher's
// convention of treating an over-large varint as a programmer error
// rather than a recoverable one (callers validate user-controlled
// values before this point).
func Append(b []byte, v uint64) []byte {
	if v > Max {
		panic(ErrValueTooLarge)
	}
	return quicvarint.Append(b, v)
}

// Read decodes one varint from r, advancing it past the encoding only
// on success.
func Read(r *bytes.Reader) (uint64, error) {
	before := r.Len()
	v, err := quicvarint.Read(r)
	if err != nil {
		// quicvarint.Read may partially advance the reader on a short
		// read; undo that so callers can retry once more data arrives.
		consumed := before - r.Len()
		if consumed > 0 {
			r.Seek(-int64(consumed), io.SeekCurrent)
		}
		return 0, err
	}
	return v, nil
}

// PrefixLen reports the byte length the 2-bit prefix of an encoding
// claims, decoded from the first byte only.
func PrefixLen(first byte) int {
	switch first >> 6 {
	case 0:
		return 1
	case 1:
		return 2
	case 2:
		return 4
	default:
		return 8
	}
}
