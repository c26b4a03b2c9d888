package http3

import (
	"bytes"
	"reflect"
	"testing"
)

func TestAppendParseDataFrameRoundTrip(t *testing.T) {
	f := &DataFrame{Data: []byte("hello")}
	b := AppendFrame(nil, f)

	got, err := ParseNext(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	df, ok := got.(*DataFrame)
	if !ok {
		t.Fatalf("expected *DataFrame, got %T", got)
	}
	if !bytes.Equal(df.Data, f.Data) {
		t.Fatalf("data mismatch: %q vs %q", df.Data, f.Data)
	}
}

func TestAppendParseHeadersFrameRoundTrip(t *testing.T) {
	f := &HeadersFrame{EncodedFieldSection: []byte{0x01, 0x02, 0x03}}
	b := AppendFrame(nil, f)

	got, err := ParseNext(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	hf, ok := got.(*HeadersFrame)
	if !ok {
		t.Fatalf("expected *HeadersFrame, got %T", got)
	}
	if !bytes.Equal(hf.EncodedFieldSection, f.EncodedFieldSection) {
		t.Fatal("field section mismatch")
	}
}

func TestAppendParsePushPromiseRoundTrip(t *testing.T) {
	f := &PushPromiseFrame{PushID: 7, EncodedFieldSection: []byte{0xaa, 0xbb}}
	b := AppendFrame(nil, f)

	got, err := ParseNext(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	pf, ok := got.(*PushPromiseFrame)
	if !ok {
		t.Fatalf("expected *PushPromiseFrame, got %T", got)
	}
	if pf.PushID != 7 || !bytes.Equal(pf.EncodedFieldSection, f.EncodedFieldSection) {
		t.Fatalf("mismatch: %+v", pf)
	}
}

func TestAppendParseMaxPushIDRoundTrip(t *testing.T) {
	f := &MaxPushIDFrame{PushID: 42}
	b := AppendFrame(nil, f)

	got, err := ParseNext(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	mf, ok := got.(*MaxPushIDFrame)
	if !ok || mf.PushID != 42 {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestAppendParseSettingsRoundTrip(t *testing.T) {
	f := &SettingsFrame{Settings: &Settings{
		MaxFieldSectionSize: 1024,
		Other:               map[uint64]uint64{0x1234: 7},
	}}
	b := AppendFrame(nil, f)

	got, err := ParseNext(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	sf, ok := got.(*SettingsFrame)
	if !ok {
		t.Fatalf("expected *SettingsFrame, got %T", got)
	}
	if sf.Settings.MaxFieldSectionSize != 1024 {
		t.Fatalf("max field section size mismatch: %+v", sf.Settings)
	}
	if !reflect.DeepEqual(sf.Settings.Other, map[uint64]uint64{0x1234: 7}) {
		t.Fatalf("other settings mismatch: %+v", sf.Settings.Other)
	}
}

func TestParseNextUnknownTypeReturnsRawFrame(t *testing.T) {
	var b []byte
	b = append(b, 0x21) // a reserved/grease-range type, not one we decode
	b = append(b, 0x02) // length = 2
	b = append(b, 0xde, 0xad)

	got, err := ParseNext(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	rf, ok := got.(*RawFrame)
	if !ok {
		t.Fatalf("expected *RawFrame, got %T", got)
	}
	if !bytes.Equal(rf.Payload, []byte{0xde, 0xad}) {
		t.Fatalf("payload mismatch: %x", rf.Payload)
	}
}
