package frame

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/luoxk/qcore/transporterror"
)

func roundtrip(t *testing.T, f Frame) Frame {
	t.Helper()
	b := f.Append(nil)
	got, err := ParseNext(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("ParseNext: %v", err)
	}
	return got
}

func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		&PaddingFrame{},
		&PingFrame{},
		&HandshakeDoneFrame{},
		&MaxDataFrame{MaximumData: 1000},
		&DataBlockedFrame{MaximumData: 42},
		&MaxStreamsFrame{Bidi: true, MaximumStreams: 10},
		&MaxStreamsFrame{Bidi: false, MaximumStreams: 99999},
		&StreamsBlockedFrame{Bidi: true, MaximumStreams: 3},
		&StreamFrame{StreamID: 0, Offset: 0, LenPresent: true, Fin: true, Data: []byte("Hello")},
		&StreamFrame{StreamID: 4, Offset: 128, LenPresent: true, Fin: false, Data: []byte{1, 2, 3}},
		&CryptoFrame{Offset: 16, Data: []byte("client hello")},
		&ResetStreamFrame{StreamID: 4, ApplicationErrorCode: 7, FinalSize: 512},
		&StopSendingFrame{StreamID: 8, ApplicationErrorCode: 1},
		&MaxStreamDataFrame{StreamID: 4, MaximumStreamData: 65536},
		&StreamDataBlockedFrame{StreamID: 4, MaximumStreamData: 1024},
		&NewTokenFrame{Token: []byte("opaque-token")},
		&NewConnectionIDFrame{SequenceNumber: 1, RetirePriorTo: 0, ConnectionID: []byte{1, 2, 3, 4}},
		&RetireConnectionIDFrame{SequenceNumber: 0},
		&PathChallengeFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		&PathResponseFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		&ConnectionCloseFrame{IsApp: false, ErrorCode: 3, FrameType: 0x08, ReasonPhrase: []byte("x")},
		&ConnectionCloseFrame{IsApp: true, ErrorCode: 0, ReasonPhrase: nil},
		&DatagramFrame{HasLength: true, Data: []byte("dgram")},
		&AckFrame{LargestAcked: 10, AckDelay: 5, Ranges: []AckRange{{Smallest: 8, Largest: 10}, {Smallest: 0, Largest: 2}}},
	}
	for i, c := range cases {
		got := roundtrip(t, c)
		if !reflect.DeepEqual(got, c) {
			t.Errorf("case %d: roundtrip mismatch:\n got  %#v\n want %#v", i, got, c)
		}
	}
}

// TestScenario1SingleBidiStream implements spec.md section 8 scenario 1:
// client opens bidi stream 0 and writes "Hello" with FIN.
func TestScenario1SingleBidiStream(t *testing.T) {
	f, ok := FitStreamWithLength(64, 0, 0, []byte("Hello"), true, 0)
	if !ok {
		t.Fatal("expected fit to succeed")
	}
	if f.typeByte() != 0x0f {
		t.Errorf("type byte = %#x, want 0x0f", f.typeByte())
	}
	if f.StreamID != 0 || f.Offset != 0 || !f.Fin || string(f.Data) != "Hello" {
		t.Errorf("unexpected frame: %+v", f)
	}
	b := f.Append(nil)
	// type(1) + stream_id varint(1) + length varint(1) + 5 bytes = 8
	if len(b) != 8 {
		t.Errorf("encoded length = %d, want 8", len(b))
	}
}

// TestScenario2TightBudget implements the first half of spec.md section 8
// scenario 2: to_fit=7, 10 bytes of data, offset 0.
func TestScenario2TightBudget(t *testing.T) {
	f, ok := FitStreamWithLength(7, 0, 0, make([]byte, 10), false, 0)
	if !ok {
		t.Fatal("expected fit to succeed")
	}
	if f.typeByte() != 0x0a {
		t.Errorf("type byte = %#x, want 0x0a", f.typeByte())
	}
	if len(f.Data) != 4 {
		t.Errorf("payload len = %d, want 4", len(f.Data))
	}
	if f.Len(true) != 7 {
		t.Errorf("Len(true) = %d, want 7 (exactly fills budget)", f.Len(true))
	}
}

func TestFitDatagramTieBreak(t *testing.T) {
	data := make([]byte, 5)
	// exact fit: no-length form
	f, ok := FitDatagram(6, data)
	if !ok || f.HasLength {
		t.Fatalf("expected exact-fit no-length form, got %+v ok=%v", f, ok)
	}
	// loose fit: length-prefixed form
	f, ok = FitDatagram(10, data)
	if !ok || !f.HasLength {
		t.Fatalf("expected DATAGRAM_LEN fallback, got %+v ok=%v", f, ok)
	}
	// too small: fail
	if _, ok := FitDatagram(3, data); ok {
		t.Fatal("expected failure when nothing fits")
	}
}

func TestZeroLengthFinStream(t *testing.T) {
	f, ok := FitStreamWithLength(8, 4, 100, nil, true, 0)
	if !ok {
		t.Fatal("zero-length FIN stream frame must be representable")
	}
	if !f.Fin || len(f.Data) != 0 {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestMaxStreamsOverflowRejected(t *testing.T) {
	big := &MaxStreamsFrame{Bidi: true, MaximumStreams: uint64(1) << 60}
	b := big.Append(nil)
	_, err := ParseNext(bytes.NewReader(b))
	if err == nil {
		t.Fatal("expected FRAME_ENCODING_ERROR parse failure for value >= 2^60")
	}
	qerr, ok := err.(*transporterror.QUICError)
	if !ok || qerr.Code != transporterror.FrameEncodingError {
		t.Fatalf("expected *transporterror.QUICError{Code: FrameEncodingError}, got %#v", err)
	}
}

func TestStreamsBlockedOverflowRejected(t *testing.T) {
	big := &StreamsBlockedFrame{Bidi: true, MaximumStreams: uint64(1) << 60}
	b := big.Append(nil)
	_, err := ParseNext(bytes.NewReader(b))
	if err == nil {
		t.Fatal("expected FRAME_ENCODING_ERROR parse failure for value >= 2^60")
	}
	qerr, ok := err.(*transporterror.QUICError)
	if !ok || qerr.Code != transporterror.FrameEncodingError {
		t.Fatalf("expected *transporterror.QUICError{Code: FrameEncodingError}, got %#v", err)
	}
}
