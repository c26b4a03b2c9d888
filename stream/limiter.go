package stream

import "github.com/luoxk/qcore/transporterror"

// Limiter tracks a send or receive flow-control credit: a monotonic
// "used" counter bounded by a peer- or locally-advertised limit, used
// both at per-stream scope and per-connection scope (spec.md §4.6's
// "stream_send_limit" / "connection_send_limit").
type Limiter struct {
	used  uint64
	limit uint64
}

// NewLimiter returns a Limiter with the given initial limit.
func NewLimiter(initialLimit uint64) *Limiter {
	return &Limiter{limit: initialLimit}
}

// Used reports bytes charged so far.
func (l *Limiter) Used() uint64 { return l.used }

// Limit reports the current credit ceiling.
func (l *Limiter) Limit() uint64 { return l.limit }

// Avail reports remaining credit (0 if already exhausted).
func (l *Limiter) Avail() uint64 {
	if l.used >= l.limit {
		return 0
	}
	return l.limit - l.used
}

// Charge consumes n bytes of credit. It is the caller's responsibility
// to have checked Avail() >= n first (Engine.SendNext never overcharges).
func (l *Limiter) Charge(n uint64) {
	l.used += n
}

// Advance raises the limit, e.g. on receipt of MAX_STREAM_DATA /
// MAX_DATA. A lower or equal newLimit is ignored (frames may arrive
// reordered).
func (l *Limiter) Advance(newLimit uint64) {
	if newLimit > l.limit {
		l.limit = newLimit
	}
}

// CheckReceive validates that receiving up to absoluteOffset bytes
// does not exceed the limit, returning FLOW_CONTROL_ERROR otherwise.
// It does not itself advance Used; callers track the receive
// high-water mark separately via reassembly.
func (l *Limiter) CheckReceive(absoluteOffset uint64) error {
	if absoluteOffset > l.limit {
		return transporterror.New(transporterror.FlowControlError, "received bytes exceed advertised limit")
	}
	return nil
}

// ShouldBroadcast implements spec.md's policy: "schedule when used >=
// limit - initial/2". initialLimit is the limit value last
// broadcast (the window anchor); it schedules a MAX_*-family frame
// once the consumer has used at least half of the window since then.
func (l *Limiter) ShouldBroadcast(initialLimit uint64) bool {
	half := initialLimit / 2
	return l.used+half >= l.limit
}
