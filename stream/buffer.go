package stream

// WriteBuffer is the capability-set polymorphic send-side data source
// an Engine pulls from when sizing a STREAM frame (spec.md section 9
// design notes; its methods are Remain/Peek/ShiftFront/FairnessLimit/
// FinQueued). Two implementations are provided: FlatBuffer, a
// simple copy-on-append growing slice, and UserBuffer, a thin wrapper
// around a caller-owned byte source that avoids the copy at the cost
// of requiring the caller to keep the bytes stable until ShiftFront
// consumes them.
type WriteBuffer interface {
	// Remain reports bytes available to send but not yet shifted out.
	Remain() uint64
	// Peek returns up to n bytes starting at the current front without
	// consuming them. The returned slice may alias internal storage
	// and is only valid until the next mutating call.
	Peek(n uint64) []byte
	// ShiftFront consumes n bytes from the front (they have been
	// written into a STREAM frame and handed to the resend registry).
	ShiftFront(n uint64)
	// FairnessLimit returns the maximum this stream may contribute to
	// a single packet, so one greedy stream can't starve its siblings.
	FairnessLimit() uint64
	// FinQueued reports whether the caller has marked end-of-stream.
	FinQueued() bool
}

// FlatBuffer is a copy-on-append WriteBuffer: Append copies the
// caller's bytes into an internally owned, growing []byte. This is
// the safe default — callers may reuse or discard their slice the
// instant Append returns.
type FlatBuffer struct {
	data    []byte
	off     uint64
	fin     bool
	fairCap uint64
}

// NewFlatBuffer returns an empty FlatBuffer with the given per-packet
// fairness cap (0 means "no cap beyond what the packet/limiter allow").
func NewFlatBuffer(fairnessCap uint64) *FlatBuffer {
	return &FlatBuffer{fairCap: fairnessCap}
}

// Append copies p onto the end of the buffer.
func (b *FlatBuffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// CloseWrite marks that no more bytes will be appended; the engine
// must emit FIN once the buffer drains to empty.
func (b *FlatBuffer) CloseWrite() { b.fin = true }

func (b *FlatBuffer) Remain() uint64 { return uint64(len(b.data)) - b.off }

func (b *FlatBuffer) Peek(n uint64) []byte {
	avail := b.Remain()
	if n > avail {
		n = avail
	}
	return b.data[b.off : b.off+n]
}

func (b *FlatBuffer) ShiftFront(n uint64) {
	b.off += n
	if b.off == uint64(len(b.data)) {
		b.data = b.data[:0]
		b.off = 0
	}
}

func (b *FlatBuffer) FairnessLimit() uint64 { return b.fairCap }
func (b *FlatBuffer) FinQueued() bool       { return b.fin }

// UserSource is the minimal contract UserBuffer needs from a
// caller-owned byte source: a stable window of bytes the caller
// promises not to mutate until told the bytes were consumed.
type UserSource interface {
	// Remain reports bytes still available from the source.
	Remain() uint64
	// Window returns a view of up to n bytes starting at the current
	// front. The caller must keep the backing memory unchanged until
	// Consume is called for at least that many bytes — UserBuffer
	// performs no copy, trading that pointer-stability obligation for
	// avoiding the copy FlatBuffer pays on every Append.
	Window(n uint64) []byte
	// Consume advances the source's front by n bytes.
	Consume(n uint64)
}

// UserBuffer adapts a UserSource to WriteBuffer without copying,
// unlike FlatBuffer. Callers choosing UserBuffer accept the pointer-
// stability obligation documented on UserSource.Window.
type UserBuffer struct {
	src     UserSource
	fin     bool
	fairCap uint64
}

// NewUserBuffer wraps src as a WriteBuffer with the given fairness cap.
func NewUserBuffer(src UserSource, fairnessCap uint64) *UserBuffer {
	return &UserBuffer{src: src, fairCap: fairnessCap}
}

// CloseWrite marks that no further bytes will appear on the source.
func (b *UserBuffer) CloseWrite() { b.fin = true }

func (b *UserBuffer) Remain() uint64        { return b.src.Remain() }
func (b *UserBuffer) Peek(n uint64) []byte  { return b.src.Window(n) }
func (b *UserBuffer) ShiftFront(n uint64)   { b.src.Consume(n) }
func (b *UserBuffer) FairnessLimit() uint64 { return b.fairCap }
func (b *UserBuffer) FinQueued() bool       { return b.fin }
