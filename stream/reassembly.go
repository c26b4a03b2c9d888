package stream

import (
	"bytes"
	"sort"

	"github.com/luoxk/qcore/transporterror"
)

// fragment is one received, offset-addressed span of stream data.
type fragment struct {
	offset uint64
	data   []byte
}

func (f fragment) end() uint64 { return f.offset + uint64(len(f.data)) }

// Reassembler implements the offset-ordered reassembly queue of
// spec.md §4.6: an ordered slice of non-overlapping fragments, a
// cursor marking the next byte the consumer has not yet read, and the
// five overlap cases incoming frames must be reconciled against.
//
// Stream counts per connection are small enough that insertion-sort by
// offset is the right data structure (no skip-list), matching the
// original implementation's intrusive sorted list.
type Reassembler struct {
	frags       []fragment
	cursor      uint64 // bytes [0, cursor) are contiguous and delivered
	finalSize   uint64
	sizeKnown   bool
	delivered   bool // "data fully received" has fired exactly once
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Cursor reports the offset of the next undelivered byte.
func (r *Reassembler) Cursor() uint64 { return r.cursor }

// SetFinalSize records the stream's final size once a FIN arrives.
// Returns FINAL_SIZE_ERROR if a different final size was already
// recorded, or if already-received bytes extend past it.
func (r *Reassembler) SetFinalSize(size uint64) error {
	if r.sizeKnown {
		if r.finalSize != size {
			return transporterror.New(transporterror.FinalSizeError, "final size changed")
		}
		return nil
	}
	for _, f := range r.frags {
		if f.end() > size {
			return transporterror.New(transporterror.FinalSizeError, "received data past final size")
		}
	}
	if r.cursor > size {
		return transporterror.New(transporterror.FinalSizeError, "delivered data past final size")
	}
	r.finalSize = size
	r.sizeKnown = true
	return nil
}

// FinalSize and SizeKnown report the recorded final size, if any.
func (r *Reassembler) FinalSize() (uint64, bool) { return r.finalSize, r.sizeKnown }

// Insert reconciles an incoming fragment at [offset, offset+len(data))
// against the five overlap cases from spec.md §4.6. It returns
// STREAM_STATE_ERROR if a duplicated region doesn't match byte-for-
// byte, or FINAL_SIZE_ERROR if it extends past a known final size.
func (r *Reassembler) Insert(offset uint64, data []byte) error {
	end := offset + uint64(len(data))
	if r.sizeKnown && end > r.finalSize {
		return transporterror.New(transporterror.FinalSizeError, "received data past final size")
	}
	if end <= r.cursor {
		// Entirely before the cursor: already delivered, ignore.
		return nil
	}
	if offset < r.cursor {
		// Left part already delivered; nothing to verify against (we
		// don't retain delivered bytes), keep only the tail.
		data = data[r.cursor-offset:]
		offset = r.cursor
	}
	if len(data) == 0 {
		return nil
	}

	// Locate insertion point: first fragment whose offset is >= ours.
	i := sort.Search(len(r.frags), func(i int) bool { return r.frags[i].offset >= offset })

	// Check overlap with the fragment immediately before i (it may
	// start before offset and reach into/past our range).
	if i > 0 {
		prev := r.frags[i-1]
		if prev.end() >= offset+uint64(len(data)) {
			// Entirely duplicated by prev: verify byte-identical.
			overlapStart := offset - prev.offset
			if !bytes.Equal(prev.data[overlapStart:overlapStart+uint64(len(data))], data) {
				return transporterror.New(transporterror.StreamStateError, "duplicate region mismatch")
			}
			return nil
		}
		if prev.end() > offset {
			// Left-overlap: verify the overlapping bytes, append tail.
			overlapLen := prev.end() - offset
			overlapStart := offset - prev.offset
			if !bytes.Equal(prev.data[overlapStart:overlapStart+overlapLen], data[:overlapLen]) {
				return transporterror.New(transporterror.StreamStateError, "overlap region mismatch")
			}
			tail := data[overlapLen:]
			r.frags[i-1].data = append(prev.data, tail...)
			offset = r.frags[i-1].offset
			data = r.frags[i-1].data
			r.frags = append(r.frags[:i-1], r.frags[i:]...)
			i--
			return r.mergeForward(i, offset, data)
		}
	}

	return r.mergeForward(i, offset, data)
}

// mergeForward inserts (offset, data) at position i, coalescing with
// however many immediately-following fragments it now fills the gap
// to or overlaps (a single incoming fragment may span several small
// existing ones).
func (r *Reassembler) mergeForward(i int, offset uint64, data []byte) error {
	newEnd := offset + uint64(len(data))
	consumed := 0
	for i+consumed < len(r.frags) {
		next := r.frags[i+consumed]
		if next.offset > newEnd {
			break
		}
		if next.offset < newEnd {
			overlapLen := newEnd - next.offset
			if overlapLen > uint64(len(next.data)) {
				overlapLen = uint64(len(next.data))
			}
			if !bytes.Equal(data[uint64(len(data))-overlapLen:], next.data[:overlapLen]) {
				return transporterror.New(transporterror.StreamStateError, "overlap region mismatch")
			}
			if uint64(len(next.data)) > overlapLen {
				data = append(data, next.data[overlapLen:]...)
			}
		} else {
			data = append(data, next.data...)
		}
		newEnd = offset + uint64(len(data))
		consumed++
	}
	merged := fragment{offset: offset, data: data}
	r.frags = append(r.frags[:i], append([]fragment{merged}, r.frags[i+consumed:]...)...)
	return r.absorbCursor()
}

// absorbCursor advances cursor (and drops fragments) while the front
// of the queue is contiguous with what's already delivered.
func (r *Reassembler) absorbCursor() error {
	for len(r.frags) > 0 && r.frags[0].offset <= r.cursor {
		f := r.frags[0]
		if f.end() > r.cursor {
			r.cursor = f.end()
		}
		r.frags = r.frags[1:]
	}
	return nil
}

// ReadyToDeliver reports whether [0, final_size) is now contiguously
// covered and the one-shot "data fully received" signal has not yet
// fired; callers that observe true should notify the consumer and then
// call MarkDelivered.
func (r *Reassembler) ReadyToDeliver() bool {
	return r.sizeKnown && !r.delivered && r.cursor >= r.finalSize
}

// MarkDelivered records that "data fully received" has been signalled.
func (r *Reassembler) MarkDelivered() { r.delivered = true }
