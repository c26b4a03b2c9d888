// Package qpackctx implements the QPACK field context described in
// spec.md §3: two tracks (encoder stream instructions / decoder
// stream acknowledgements), an insertion-indexed deque of dynamic
// table entries, per-stream referenced-index bookkeeping, per-entry
// reference counts, known_received_count/known_insert_count, and a
// capacity/max_capacity pair. It wraps quic-go/qpack's Encoder/Decoder
// for the actual Huffman/byte-level codec, exactly as spec.md's
// collaborator boundary places QPACK's wire-level coding out of scope
// for this package to reimplement.
package qpackctx

import (
	"bytes"
	"strings"
	"sync"

	"github.com/quic-go/qpack"

	"github.com/luoxk/qcore/varint"
)

// entry is one dynamic table slot, addressed by absolute insertion
// count (never reused, unlike a ring index). refCount counts
// outstanding field sections (encoded but not yet acknowledged or
// closed) that reference this entry; it must be zero before the
// entry is evictable.
type entry struct {
	name, value string
	refCount    int
}

// entryOverhead is RFC 9204 §3.2.2's fixed per-entry accounting
// overhead added to name+value length when charging table capacity.
const entryOverhead = 32

func entrySize(name, value string) uint64 {
	return entryOverhead + uint64(len(name)) + uint64(len(value))
}

// insertWithLiteralNameOpcode tags this package's own encoder-stream
// insert instruction. It follows RFC 9204 §4.3.3's "Insert With
// Literal Name" pattern (opcode bit plus length-prefixed name/value)
// but without the Huffman option: the wrapped quic-go/qpack library
// doesn't expose a Huffman-capable raw string writer, and reimplementing
// Huffman coding here is out of scope for this layer, which otherwise
// delegates all wire-level string coding to that library.
const insertWithLiteralNameOpcode byte = 0x40

func encodeInsertWithLiteralName(name, value string) []byte {
	b := []byte{insertWithLiteralNameOpcode}
	b = varint.Append(b, uint64(len(name)))
	b = append(b, name...)
	b = varint.Append(b, uint64(len(value)))
	b = append(b, value...)
	return b
}

// Context is the per-connection QPACK state: the encoder and decoder
// drive their respective unidirectional streams through this type
// under a single lock, matching spec.md §4.13's "under a lock when
// producing HEADERS and PUSH_PROMISE".
type Context struct {
	mu sync.Mutex

	enc *qpack.Encoder
	dec *qpack.Decoder

	encBuf bytes.Buffer

	table       []*entry
	insertCount uint64
	usedSize    uint64

	knownReceivedCount uint64
	knownInsertCount   uint64

	capacity    uint64
	maxCapacity uint64

	// referenced tracks, per request stream, the required insert count
	// of that stream's most recently emitted field section (the
	// smallest knownInsertCount a decoder needs before it can process
	// that section without blocking).
	referenced map[uint64]uint64

	// referencedIndices tracks, per request stream, the absolute
	// indices of dynamic table entries its most recent field section
	// actually referenced — each holds that entry's refCount up until
	// OnSectionAcknowledgement or OnStreamClosed releases it.
	referencedIndices map[uint64][]uint64

	// pendingEncoderBytes/pendingDecoderBytes are queued instruction
	// bytes not yet flushed to the wire.
	pendingEncoderBytes []byte
	pendingDecoderBytes []byte
}

// New returns a Context with the given maximum dynamic table capacity.
func New(maxCapacity uint64) *Context {
	c := &Context{
		maxCapacity:       maxCapacity,
		capacity:          maxCapacity,
		referenced:        make(map[uint64]uint64),
		referencedIndices: make(map[uint64][]uint64),
	}
	c.enc = qpack.NewEncoder(&c.encBuf)
	c.dec = qpack.NewDecoder(func(qpack.HeaderField) {})
	return c
}

// EncodeFieldSection encodes fields for streamID's HEADERS or
// PUSH_PROMISE frame under the context lock, returning the encoded
// field-section block. The block's own bytes still come from the
// wrapped quic-go/qpack encoder (static table plus literal strings,
// its only representations); separately, every non-pseudo-header field
// not already resident is inserted into this context's own dynamic
// table (capacity permitting), queuing an Insert With Literal Name
// encoder-stream instruction available via DrainEncoderBytes, and
// streamID's required insert count is recorded so a later Section
// Acknowledgement can advance knownReceivedCount and unblock eviction.
func (c *Context) EncodeFieldSection(streamID uint64, fields []qpack.HeaderField) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A stream's previous field section (if any) is no longer
	// outstanding once it re-encodes a new one; release its references
	// before computing the new set.
	c.releaseReferencesLocked(streamID)

	c.encBuf.Reset()
	requiredInsertCount := uint64(0)
	var refs []uint64
	for _, f := range fields {
		if err := c.enc.WriteField(f); err != nil {
			return nil, err
		}
		if strings.HasPrefix(f.Name, ":") {
			continue
		}
		idx, ok := c.findEntryLocked(f.Name, f.Value)
		if !ok {
			idx, ok = c.insertEntryLocked(f.Name, f.Value)
		}
		if !ok {
			continue
		}
		c.table[idx-c.headAbsIndex()].refCount++
		refs = append(refs, idx)
		if idx+1 > requiredInsertCount {
			requiredInsertCount = idx + 1
		}
	}
	block := append([]byte(nil), c.encBuf.Bytes()...)

	if requiredInsertCount > 0 {
		c.referenced[streamID] = requiredInsertCount
		c.referencedIndices[streamID] = refs
	}

	return block, nil
}

// headAbsIndex is the absolute insertion index of table[0] (the oldest
// entry still resident), derived from the cumulative insert count and
// how many entries have since been evicted.
func (c *Context) headAbsIndex() uint64 {
	return c.insertCount - uint64(len(c.table))
}

// findEntryLocked returns the absolute index of a resident entry
// matching name and value exactly, if any. Caller holds c.mu.
func (c *Context) findEntryLocked(name, value string) (absIdx uint64, ok bool) {
	for i, e := range c.table {
		if e.name == name && e.value == value {
			return c.headAbsIndex() + uint64(i), true
		}
	}
	return 0, false
}

// releaseReferencesLocked drops streamID's outstanding entry
// references (decrementing each referenced entry's refCount), called
// once that stream's field section has been acknowledged, superseded,
// or the stream has closed. Caller holds c.mu.
func (c *Context) releaseReferencesLocked(streamID uint64) {
	head := c.headAbsIndex()
	for _, absIdx := range c.referencedIndices[streamID] {
		if absIdx < head {
			continue // already evicted
		}
		if i := absIdx - head; i < uint64(len(c.table)) {
			c.table[i].refCount--
		}
	}
	delete(c.referencedIndices, streamID)
	delete(c.referenced, streamID)
}

// evictLocked evicts entries from the head of the table while doing so
// is safe (the peer has acknowledged the insert, per
// knownReceivedCount, and no outstanding field section still
// references the entry) and necessary to fit need more bytes under
// capacity. Caller holds c.mu.
func (c *Context) evictLocked(need uint64) {
	for c.usedSize+need > c.capacity && len(c.table) > 0 {
		headIdx := c.headAbsIndex()
		if headIdx >= c.knownReceivedCount {
			break
		}
		head := c.table[0]
		if head.refCount > 0 {
			break
		}
		c.usedSize -= entrySize(head.name, head.value)
		c.table = c.table[1:]
	}
}

// insertEntryLocked inserts (name, value) as a new dynamic table entry,
// evicting older acknowledged entries first if needed to fit, and
// queues the corresponding encoder-stream instruction. It reports
// ok=false if the entry can never fit even after evicting everything
// evictable. Caller holds c.mu.
func (c *Context) insertEntryLocked(name, value string) (absIdx uint64, ok bool) {
	sz := entrySize(name, value)
	if sz > c.capacity {
		return 0, false
	}
	c.evictLocked(sz)
	if c.usedSize+sz > c.capacity {
		return 0, false
	}
	c.table = append(c.table, &entry{name: name, value: value})
	c.usedSize += sz
	absIdx = c.insertCount
	c.insertCount++
	c.pendingEncoderBytes = append(c.pendingEncoderBytes, encodeInsertWithLiteralName(name, value)...)
	return absIdx, true
}

// DecodeFieldSection decodes an incoming field-section block. The
// wrapped decoder only understands static-table and literal
// representations, so it never itself blocks on this context's
// dynamic table state; a peer encoder that actually emits dynamic
// table references would need a decoder built against the same
// table this context now maintains, which is out of scope here (this
// context drives the QPACK encoder role, not a full peer decoder).
func (c *Context) DecodeFieldSection(block []byte) ([]qpack.HeaderField, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dec.DecodeFull(block)
}

// OnStreamClosed releases a request stream's dynamic-table references,
// allowing the entries it pinned to become evictable once also
// acknowledged.
func (c *Context) OnStreamClosed(streamID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseReferencesLocked(streamID)
}

// QueueEncoderInstruction appends raw bytes to the outbound QPACK
// encoder stream (insert-with-name-reference, insert-with-literal-
// name, set-dynamic-table-capacity, duplicate).
func (c *Context) QueueEncoderInstruction(b []byte) {
	c.pendingEncoderBytes = append(c.pendingEncoderBytes, b...)
}

// QueueDecoderInstruction appends raw bytes to the outbound QPACK
// decoder stream (section-acknowledgement, stream-cancellation,
// insert-count-increment).
func (c *Context) QueueDecoderInstruction(b []byte) {
	c.pendingDecoderBytes = append(c.pendingDecoderBytes, b...)
}

// DrainEncoderBytes returns and clears bytes queued for the encoder
// stream. Per spec.md §4.13, callers flush these to the wire after
// every field-section write.
func (c *Context) DrainEncoderBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.pendingEncoderBytes
	c.pendingEncoderBytes = nil
	return b
}

// DrainDecoderBytes returns and clears bytes queued for the decoder
// stream.
func (c *Context) DrainDecoderBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.pendingDecoderBytes
	c.pendingDecoderBytes = nil
	return b
}

// OnSectionAcknowledgement processes a decoder-stream Section
// Acknowledgement instruction, advancing knownReceivedCount to at
// least the acknowledging stream's required insert count and
// releasing the entry references that section held, making them
// evictable once unreferenced by anything else outstanding.
func (c *Context) OnSectionAcknowledgement(streamID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref, ok := c.referenced[streamID]; ok && ref > c.knownReceivedCount {
		c.knownReceivedCount = ref
	}
	c.releaseReferencesLocked(streamID)
}

// OnInsertCountIncrement processes a decoder-stream Insert Count
// Increment instruction.
func (c *Context) OnInsertCountIncrement(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.knownInsertCount += n
}

// DynamicTableLen and UsedSize expose the dynamic table's current
// resident-entry count and byte usage, for tests and diagnostics.
func (c *Context) DynamicTableLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}
func (c *Context) UsedSize() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedSize
}

// KnownReceivedCount and KnownInsertCount expose the two counters
// tracked for encoder-side blocked-stream accounting.
func (c *Context) KnownReceivedCount() uint64 { return c.knownReceivedCount }
func (c *Context) KnownInsertCount() uint64   { return c.knownInsertCount }

// Capacity and MaxCapacity expose the dynamic table's current and
// negotiated-maximum capacity.
func (c *Context) Capacity() uint64    { return c.capacity }
func (c *Context) MaxCapacity() uint64 { return c.maxCapacity }

// SetCapacity adjusts the dynamic table's usable capacity (never above
// MaxCapacity) and evicts whatever entries it safely can to fit under
// it. It queues no Set Dynamic Table Capacity encoder instruction.
func (c *Context) SetCapacity(newCapacity uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if newCapacity > c.maxCapacity {
		newCapacity = c.maxCapacity
	}
	c.capacity = newCapacity
	c.evictLocked(0)
}
