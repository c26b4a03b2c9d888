package frame

import (
	"bytes"
	"fmt"

	"github.com/luoxk/qcore/transporterror"
	"github.com/luoxk/qcore/varint"
)

// maxStreamsBound is 2^60, the limit RFC 9000 section 4.6 places on
// MAX_STREAMS / STREAMS_BLOCKED values; Parse rejects any value of 2^60
// or more as a FRAME_ENCODING_ERROR.
const maxStreamsBound = uint64(1) << 60

// MaxDataFrame raises the connection-level send limit.
type MaxDataFrame struct {
	MaximumData uint64
}

func (f *MaxDataFrame) Parse(r *bytes.Reader) error {
	v, err := varint.Read(r)
	if err != nil {
		return err
	}
	f.MaximumData = v
	return nil
}
func (f *MaxDataFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypeMaxData))
	return varint.Append(b, f.MaximumData)
}
func (f *MaxDataFrame) Len(bool) uint64 { return 1 + uint64(varint.Len(f.MaximumData)) }

// DataBlockedFrame signals the sender was blocked by the connection
// flow-control limit.
type DataBlockedFrame struct {
	MaximumData uint64
}

func (f *DataBlockedFrame) Parse(r *bytes.Reader) error {
	v, err := varint.Read(r)
	if err != nil {
		return err
	}
	f.MaximumData = v
	return nil
}
func (f *DataBlockedFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypeDataBlocked))
	return varint.Append(b, f.MaximumData)
}
func (f *DataBlockedFrame) Len(bool) uint64 { return 1 + uint64(varint.Len(f.MaximumData)) }

// MaxStreamsFrame raises the stream-count limit for one of the two
// (bidi, uni) directions.
type MaxStreamsFrame struct {
	Bidi          bool
	MaximumStreams uint64
}

func (f *MaxStreamsFrame) Parse(r *bytes.Reader) error {
	v, err := varint.Read(r)
	if err != nil {
		return err
	}
	if v >= maxStreamsBound {
		return transporterror.New(transporterror.FrameEncodingError, "MAX_STREAMS: value >= 2^60")
	}
	f.MaximumStreams = v
	return nil
}
func (f *MaxStreamsFrame) Append(b []byte) []byte {
	t := TypeMaxStreamsUni
	if f.Bidi {
		t = TypeMaxStreamsBidi
	}
	b = varint.Append(b, uint64(t))
	return varint.Append(b, f.MaximumStreams)
}
func (f *MaxStreamsFrame) Len(bool) uint64 { return 1 + uint64(varint.Len(f.MaximumStreams)) }

// StreamsBlockedFrame signals the sender wanted to open a stream past
// its peer-advertised count limit.
type StreamsBlockedFrame struct {
	Bidi          bool
	MaximumStreams uint64
}

func (f *StreamsBlockedFrame) Parse(r *bytes.Reader) error {
	v, err := varint.Read(r)
	if err != nil {
		return err
	}
	if v >= maxStreamsBound {
		return transporterror.New(transporterror.FrameEncodingError, "STREAMS_BLOCKED: value >= 2^60")
	}
	f.MaximumStreams = v
	return nil
}
func (f *StreamsBlockedFrame) Append(b []byte) []byte {
	t := TypeStreamsBlockedUni
	if f.Bidi {
		t = TypeStreamsBlockedBidi
	}
	b = varint.Append(b, uint64(t))
	return varint.Append(b, f.MaximumStreams)
}
func (f *StreamsBlockedFrame) Len(bool) uint64 { return 1 + uint64(varint.Len(f.MaximumStreams)) }

// NewTokenFrame carries an address-validation token for future
// connection attempts.
type NewTokenFrame struct {
	Token []byte
}

func (f *NewTokenFrame) Parse(r *bytes.Reader) error {
	l, err := varint.Read(r)
	if err != nil {
		return err
	}
	tok := make([]byte, l)
	if _, err := readFull(r, tok); err != nil {
		return err
	}
	f.Token = tok
	return nil
}
func (f *NewTokenFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypeNewToken))
	b = varint.Append(b, uint64(len(f.Token)))
	return append(b, f.Token...)
}
func (f *NewTokenFrame) Len(bool) uint64 {
	return 1 + uint64(varint.Len(uint64(len(f.Token)))) + uint64(len(f.Token))
}
func (f *NewTokenFrame) VisitRVec(cb func([]byte) []byte) { f.Token = cb(f.Token) }

// NewConnectionIDFrame issues a CID the peer may start using, along
// with its stateless reset token.
type NewConnectionIDFrame struct {
	SequenceNumber      uint64
	RetirePriorTo       uint64
	ConnectionID        []byte
	StatelessResetToken [16]byte
}

func (f *NewConnectionIDFrame) Parse(r *bytes.Reader) error {
	var err error
	if f.SequenceNumber, err = varint.Read(r); err != nil {
		return err
	}
	if f.RetirePriorTo, err = varint.Read(r); err != nil {
		return err
	}
	if f.RetirePriorTo > f.SequenceNumber {
		return fmt.Errorf("NEW_CONNECTION_ID: retire_prior_to %d > sequence_number %d", f.RetirePriorTo, f.SequenceNumber)
	}
	l, err := r.ReadByte()
	if err != nil {
		return err
	}
	cid := make([]byte, l)
	if _, err := readFull(r, cid); err != nil {
		return err
	}
	f.ConnectionID = cid
	if _, err := readFull(r, f.StatelessResetToken[:]); err != nil {
		return err
	}
	return nil
}
func (f *NewConnectionIDFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypeNewConnectionID))
	b = varint.Append(b, f.SequenceNumber)
	b = varint.Append(b, f.RetirePriorTo)
	b = append(b, byte(len(f.ConnectionID)))
	b = append(b, f.ConnectionID...)
	return append(b, f.StatelessResetToken[:]...)
}
func (f *NewConnectionIDFrame) Len(bool) uint64 {
	return 1 + uint64(varint.Len(f.SequenceNumber)) + uint64(varint.Len(f.RetirePriorTo)) + 1 + uint64(len(f.ConnectionID)) + 16
}

// RetireConnectionIDFrame asks the peer to stop using the CID with the
// given sequence number.
type RetireConnectionIDFrame struct {
	SequenceNumber uint64
}

func (f *RetireConnectionIDFrame) Parse(r *bytes.Reader) error {
	v, err := varint.Read(r)
	if err != nil {
		return err
	}
	f.SequenceNumber = v
	return nil
}
func (f *RetireConnectionIDFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypeRetireConnectionID))
	return varint.Append(b, f.SequenceNumber)
}
func (f *RetireConnectionIDFrame) Len(bool) uint64 { return 1 + uint64(varint.Len(f.SequenceNumber)) }

// PathChallengeFrame carries 8 bytes of random data the peer must echo
// back in a PathResponseFrame.
type PathChallengeFrame struct {
	Data [8]byte
}

func (f *PathChallengeFrame) Parse(r *bytes.Reader) error {
	_, err := readFull(r, f.Data[:])
	return err
}
func (f *PathChallengeFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypePathChallenge))
	return append(b, f.Data[:]...)
}
func (f *PathChallengeFrame) Len(bool) uint64 { return 1 + 8 }

// PathResponseFrame echoes a PathChallengeFrame's data.
type PathResponseFrame struct {
	Data [8]byte
}

func (f *PathResponseFrame) Parse(r *bytes.Reader) error {
	_, err := readFull(r, f.Data[:])
	return err
}
func (f *PathResponseFrame) Append(b []byte) []byte {
	b = varint.Append(b, uint64(TypePathResponse))
	return append(b, f.Data[:]...)
}
func (f *PathResponseFrame) Len(bool) uint64 { return 1 + 8 }

// AckRange is one (largest, smallest) inclusive range of acknowledged
// packet numbers within an AckFrame.
type AckRange struct {
	Smallest, Largest uint64
}

// AckFrame acknowledges receipt of a contiguous-or-gapped set of packet
// numbers. ECN is true for the ACK_ECN variant, which additionally
// carries three ECN counts.
type AckFrame struct {
	ECN          bool
	LargestAcked uint64
	AckDelay     uint64
	Ranges       []AckRange // Ranges[0] is the range containing LargestAcked
	ECT0, ECT1, ECNCE uint64
}

func (f *AckFrame) Parse(r *bytes.Reader) error {
	var err error
	if f.LargestAcked, err = varint.Read(r); err != nil {
		return err
	}
	if f.AckDelay, err = varint.Read(r); err != nil {
		return err
	}
	rangeCount, err := varint.Read(r)
	if err != nil {
		return err
	}
	firstRange, err := varint.Read(r)
	if err != nil {
		return err
	}
	if firstRange > f.LargestAcked {
		return fmt.Errorf("ACK: first ack range %d larger than largest acked %d", firstRange, f.LargestAcked)
	}
	smallest := f.LargestAcked - firstRange
	f.Ranges = append(f.Ranges[:0], AckRange{Smallest: smallest, Largest: f.LargestAcked})
	largest := smallest
	for i := uint64(0); i < rangeCount; i++ {
		gap, err := varint.Read(r)
		if err != nil {
			return err
		}
		if gap+2 > largest {
			return fmt.Errorf("ACK: gap underflows remaining packet number space")
		}
		newLargest := largest - gap - 2
		rangeLen, err := varint.Read(r)
		if err != nil {
			return err
		}
		if rangeLen > newLargest {
			return fmt.Errorf("ACK: ack range len underflows")
		}
		newSmallest := newLargest - rangeLen
		f.Ranges = append(f.Ranges, AckRange{Smallest: newSmallest, Largest: newLargest})
		largest = newSmallest
	}
	if f.ECN {
		if f.ECT0, err = varint.Read(r); err != nil {
			return err
		}
		if f.ECT1, err = varint.Read(r); err != nil {
			return err
		}
		if f.ECNCE, err = varint.Read(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *AckFrame) Append(b []byte) []byte {
	t := TypeAck
	if f.ECN {
		t = TypeAckECN
	}
	b = varint.Append(b, uint64(t))
	b = varint.Append(b, f.LargestAcked)
	b = varint.Append(b, f.AckDelay)
	b = varint.Append(b, uint64(len(f.Ranges)-1))
	first := f.Ranges[0]
	b = varint.Append(b, first.Largest-first.Smallest)
	largest := first.Smallest
	for _, rg := range f.Ranges[1:] {
		gap := largest - rg.Largest - 2
		b = varint.Append(b, gap)
		b = varint.Append(b, rg.Largest-rg.Smallest)
		largest = rg.Smallest
	}
	if f.ECN {
		b = varint.Append(b, f.ECT0)
		b = varint.Append(b, f.ECT1)
		b = varint.Append(b, f.ECNCE)
	}
	return b
}

func (f *AckFrame) Len(bool) uint64 {
	n := uint64(1) + uint64(varint.Len(f.LargestAcked)) + uint64(varint.Len(f.AckDelay)) + uint64(varint.Len(uint64(len(f.Ranges)-1)))
	first := f.Ranges[0]
	n += uint64(varint.Len(first.Largest - first.Smallest))
	largest := first.Smallest
	for _, rg := range f.Ranges[1:] {
		gap := largest - rg.Largest - 2
		n += uint64(varint.Len(gap))
		n += uint64(varint.Len(rg.Largest - rg.Smallest))
		largest = rg.Smallest
	}
	if f.ECN {
		n += uint64(varint.Len(f.ECT0)) + uint64(varint.Len(f.ECT1)) + uint64(varint.Len(f.ECNCE))
	}
	return n
}

// ConnectionCloseFrame terminates the connection. IsApp selects
// between the transport and application-level wire variants; the
// application variant omits the FrameType field.
type ConnectionCloseFrame struct {
	IsApp        bool
	ErrorCode    uint64
	FrameType    uint64 // only meaningful when !IsApp
	ReasonPhrase []byte
}

func (f *ConnectionCloseFrame) Parse(r *bytes.Reader) error {
	var err error
	if f.ErrorCode, err = varint.Read(r); err != nil {
		return err
	}
	if !f.IsApp {
		if f.FrameType, err = varint.Read(r); err != nil {
			return err
		}
	}
	l, err := varint.Read(r)
	if err != nil {
		return err
	}
	var reason []byte
	if l > 0 {
		reason = make([]byte, l)
		if _, err := readFull(r, reason); err != nil {
			return err
		}
	}
	f.ReasonPhrase = reason
	return nil
}
func (f *ConnectionCloseFrame) Append(b []byte) []byte {
	t := TypeConnectionCloseApp
	if !f.IsApp {
		t = TypeConnectionCloseTransport
	}
	b = varint.Append(b, uint64(t))
	b = varint.Append(b, f.ErrorCode)
	if !f.IsApp {
		b = varint.Append(b, f.FrameType)
	}
	b = varint.Append(b, uint64(len(f.ReasonPhrase)))
	return append(b, f.ReasonPhrase...)
}
func (f *ConnectionCloseFrame) Len(bool) uint64 {
	n := uint64(1) + uint64(varint.Len(f.ErrorCode))
	if !f.IsApp {
		n += uint64(varint.Len(f.FrameType))
	}
	n += uint64(varint.Len(uint64(len(f.ReasonPhrase)))) + uint64(len(f.ReasonPhrase))
	return n
}
func (f *ConnectionCloseFrame) VisitRVec(cb func([]byte) []byte) { f.ReasonPhrase = cb(f.ReasonPhrase) }

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, fmt.Errorf("frame: short read")
		}
	}
	return n, nil
}
