package frame

import "github.com/luoxk/qcore/varint"

// CalcStreamOverhead returns the fixed overhead (type byte + stream_id
// varint + optional offset varint) of a STREAM frame for the given
// stream id and offset, excluding any length field — grounded on
// original_source's frame/calc_data.h calc_stream_overhead.
func CalcStreamOverhead(streamID, offset uint64) uint64 {
	n := uint64(1) + uint64(varint.Len(streamID))
	if offset != 0 {
		n += uint64(varint.Len(offset))
	}
	return n
}

// FitStreamNoLength builds the largest STREAM frame that exactly
// consumes toFit bytes without an explicit length field — the "rest of
// the packet" wire form. It only succeeds when the payload it can
// carry exactly fills the remaining budget; otherwise the caller must
// fall back to FitStreamWithLength, since a short no-length frame would
// leave trailing bytes of the packet with no defined meaning.
func FitStreamNoLength(toFit, streamID, offset uint64, data []byte, fin bool) (*StreamFrame, bool) {
	overhead := CalcStreamOverhead(streamID, offset)
	if toFit < overhead {
		return nil, false
	}
	payloadCap := toFit - overhead
	if uint64(len(data)) < payloadCap {
		return nil, false
	}
	payload := data[:payloadCap]
	return &StreamFrame{
		StreamID:   streamID,
		Offset:     offset,
		LenPresent: false,
		Fin:        fin && payloadCap == uint64(len(data)),
		Data:       payload,
	}, true
}

// FitStreamWithLength builds the largest STREAM frame (with an
// explicit length field) that fits within toFit, running the
// fixed-point correction described in spec.md section 4.1: shrinking
// the payload can shrink the length varint's own encoded width, which
// in turn frees a byte for more payload. minLength enforces a
// non-zero-length constraint (used by callers that must carry at
// least one byte or a FIN to make progress); it fails if no byte can
// be carried and minLength > 0.
func FitStreamWithLength(toFit, streamID, offset uint64, data []byte, fin bool, minLength uint64) (*StreamFrame, bool) {
	overhead := CalcStreamOverhead(streamID, offset)
	if toFit < overhead+1 {
		return nil, false
	}
	candidate := uint64(len(data))
	if avail := toFit - overhead - 1; candidate > avail {
		candidate = avail
	}
	for i := 0; i < 4; i++ {
		lenFieldLen := uint64(varint.Len(candidate))
		if overhead+lenFieldLen > toFit {
			candidate = 0
			break
		}
		avail := toFit - overhead - lenFieldLen
		next := avail
		if uint64(len(data)) < next {
			next = uint64(len(data))
		}
		if next == candidate {
			break
		}
		candidate = next
	}
	for candidate > 0 && overhead+uint64(varint.Len(candidate))+candidate > toFit {
		candidate--
	}
	if minLength > 0 && candidate < minLength {
		return nil, false
	}
	payload := data[:candidate]
	return &StreamFrame{
		StreamID:   streamID,
		Offset:     offset,
		LenPresent: true,
		Fin:        fin && candidate == uint64(len(data)),
		Data:       payload,
	}, true
}

// FitDatagram picks between the no-length and DATAGRAM_LEN wire forms
// per spec.md section 4.1: prefer the no-length form when it exactly
// fills toFit, else fall back to the length-prefixed form if that
// fits, else fail.
func FitDatagram(toFit uint64, data []byte) (*DatagramFrame, bool) {
	if uint64(len(data))+1 == toFit {
		return &DatagramFrame{HasLength: false, Data: data}, true
	}
	lenFieldLen := uint64(varint.Len(uint64(len(data))))
	total := 1 + lenFieldLen + uint64(len(data))
	if total <= toFit {
		return &DatagramFrame{HasLength: true, Data: data}, true
	}
	return nil, false
}
