package http3

import "testing"

func TestSingletonsRejectDuplicateControlStream(t *testing.T) {
	s := newSingletons()
	if err := s.Claim(StreamTypeControl); err != nil {
		t.Fatal(err)
	}
	if err := s.Claim(StreamTypeControl); err == nil {
		t.Fatal("expected H3_STREAM_CREATION_ERROR on duplicate control stream")
	}
}

func TestSingletonsPushStreamsNotLimited(t *testing.T) {
	s := newSingletons()
	if err := s.Claim(StreamTypePush); err != nil {
		t.Fatal(err)
	}
	if err := s.Claim(StreamTypePush); err != nil {
		t.Fatal("push streams are not singleton, expected no error")
	}
}

func TestControlStreamRequiresSettingsFirst(t *testing.T) {
	cs := NewControlStream(NewPushController())
	if err := cs.OnFrame(FrameMaxPushID, []byte{0x05}); err == nil {
		t.Fatal("expected H3_MISSING_SETTINGS when first frame isn't SETTINGS")
	}
}

func TestControlStreamAcceptsSettingsThenMaxPushID(t *testing.T) {
	push := NewPushController()
	cs := NewControlStream(push)
	if err := cs.OnFrame(FrameSettings, nil); err != nil {
		t.Fatal(err)
	}
	if err := cs.OnFrame(FrameMaxPushID, []byte{0x05}); err != nil {
		t.Fatal(err)
	}
	id, err := push.AllocatePushID()
	if err != nil {
		t.Fatal(err)
	}
	if id != 0 {
		t.Fatalf("expected first allocated push id 0, got %d", id)
	}
}

func TestPushControllerRejectsOverLimit(t *testing.T) {
	push := NewPushController()
	if err := push.OnMaxPushID(0); err != nil {
		t.Fatal(err)
	}
	if _, err := push.AllocatePushID(); err != nil {
		t.Fatal(err)
	}
	if _, err := push.AllocatePushID(); err == nil {
		t.Fatal("expected H3_ID_ERROR once push ids exceed MAX_PUSH_ID")
	}
}

func TestRequestStreamTransitions(t *testing.T) {
	r := NewRequestStream()
	if err := r.WriteHeader(); err != nil {
		t.Fatal(err)
	}
	if r.Send != ClientDataSend {
		t.Fatalf("expected ClientDataSend, got %v", r.Send)
	}
	if err := r.WriteData(true); err != nil {
		t.Fatal(err)
	}
	if r.Send != ClientEnd {
		t.Fatalf("expected ClientEnd, got %v", r.Send)
	}

	if err := r.ReadHeader(); err != nil {
		t.Fatal(err)
	}
	if err := r.OnEOS(); err != nil {
		t.Fatal(err)
	}
	if r.Recv != ClientEnd {
		t.Fatalf("expected ClientEnd, got %v", r.Recv)
	}
}

func TestRequestStreamWriteBeforeHeaderRejected(t *testing.T) {
	r := NewRequestStream()
	if err := r.WriteData(false); err == nil {
		t.Fatal("expected H3_INTERNAL_ERROR writing data before header")
	}
}
