// Package dgram implements the bounded QUIC DATAGRAM (RFC 9221) send
// queue and receive-side size enforcement described in spec.md C8.
package dgram

import (
	"github.com/luoxk/qcore/ackobserver"
	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/packet"
	"github.com/luoxk/qcore/transporterror"
)

// InfinitePacketNumber is the sentinel DropCallback receives when an
// entry is dropped before ever reaching the wire (spec.md C8: "the
// entry was never on the wire").
const InfinitePacketNumber = ^uint64(0)

// DropCallback is invoked when a queued datagram is dropped, either
// because it exceeded pending_limit without fitting in a packet, or
// because loss detection declared its packet Lost. pn is
// InfinitePacketNumber in the former case, the real packet number in
// the latter.
type DropCallback func(data []byte, pn uint64)

type entry struct {
	data    []byte
	pending int
	obs     *ackobserver.Observer
	pn      uint64
}

// Manager is the per-connection datagram send/receive state.
type Manager struct {
	queue        []entry
	pendingLimit int
	onDrop       DropCallback

	// inFlight holds entries already written to the wire, keyed by the
	// packet number they went out in, so PollLost can find the real pn
	// to hand the drop callback once loss detection reports Lost.
	inFlight []entry

	maxRecvSize uint64
}

// NewManager returns a Manager with the given pending-attempt limit
// (spec.md C8's pending_limit) before an unsent entry is dropped, and
// the max_datagram_frame_size this side advertised, governing
// receive-side validation.
func NewManager(pendingLimit int, maxRecvSize uint64, onDrop DropCallback) *Manager {
	return &Manager{pendingLimit: pendingLimit, maxRecvSize: maxRecvSize, onDrop: onDrop}
}

// Enqueue adds data to the send FIFO.
func (m *Manager) Enqueue(data []byte) {
	m.queue = append(m.queue, entry{data: data})
}

// SendNext scans the FIFO once, trying each entry in order until one
// fits in w or the queue is exhausted; entries that don't fit have
// their pending counter incremented and are dropped once it exceeds
// pendingLimit. pn is the packet number the caller is about to send w
// as (owned by the loss-recovery collaborator, outside this package);
// a successfully written entry moves to the in-flight set keyed by pn
// so PollLost can later report its real packet number on loss.
func (m *Manager) SendNext(w *packet.Writer, pool *ackobserver.Pool, pn uint64) bool {
	for i := 0; i < len(m.queue); {
		e := &m.queue[i]
		f, ok := frame.FitDatagram(uint64(w.Remain()), e.data)
		if !ok {
			e.pending++
			if e.pending > m.pendingLimit {
				dropped := e.data
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				if m.onDrop != nil {
					m.onDrop(dropped, InfinitePacketNumber)
				}
				continue
			}
			i++
			continue
		}
		if !w.Write(f) {
			return false
		}
		e.obs = pool.Get()
		e.pn = pn
		m.inFlight = append(m.inFlight, *e)
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		return true
	}
	return false
}

// PollLost sweeps the in-flight set, invoking onDrop with the real
// packet number for any entry whose ACK observer reports Lost
// (spec.md C8's loss-detection drop path), and recycling the observer
// of any entry reports Acked. Entries still Wait-ing stay in flight.
func (m *Manager) PollLost(pool *ackobserver.Pool) {
	kept := m.inFlight[:0]
	for _, e := range m.inFlight {
		switch {
		case e.obs.IsLost():
			if m.onDrop != nil {
				m.onDrop(e.data, e.pn)
			}
			pool.Put(e.obs)
		case e.obs.IsAcked():
			pool.Put(e.obs)
		default:
			kept = append(kept, e)
		}
	}
	m.inFlight = kept
}

// InFlightLen reports the number of datagrams written to the wire
// whose ACK outcome is still pending.
func (m *Manager) InFlightLen() int { return len(m.inFlight) }

// RecvDatagram validates and returns the payload of an incoming
// DATAGRAM frame, enforcing max_datagram_frame_size.
func (m *Manager) RecvDatagram(f *frame.DatagramFrame) ([]byte, error) {
	if uint64(len(f.Data)) > m.maxRecvSize {
		return nil, transporterror.New(transporterror.ProtocolViolation, "DATAGRAM exceeds max_datagram_frame_size")
	}
	return f.Data, nil
}

// Len reports the number of datagrams still queued for send.
func (m *Manager) Len() int { return len(m.queue) }
