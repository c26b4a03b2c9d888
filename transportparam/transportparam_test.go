package transportparam

import "testing"

func TestRenderParseRoundTrip(t *testing.T) {
	s := Default()
	s.InitialMaxData = 1000
	s.InitialMaxStreamDataBidiLocal = 500
	s.InitialMaxStreamsBidi = 10
	s.InitialSourceConnectionID = []byte{1, 2, 3, 4}

	encoded := s.Render()
	parsed, err := Parse(encoded, false)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.InitialMaxData != 1000 {
		t.Fatalf("expected InitialMaxData 1000, got %d", parsed.InitialMaxData)
	}
	if parsed.InitialMaxStreamsBidi != 10 {
		t.Fatalf("expected InitialMaxStreamsBidi 10, got %d", parsed.InitialMaxStreamsBidi)
	}
	if string(parsed.InitialSourceConnectionID) != "\x01\x02\x03\x04" {
		t.Fatalf("expected source CID round-tripped, got %v", parsed.InitialSourceConnectionID)
	}
}

func TestParseRejectsDuplicateID(t *testing.T) {
	var b []byte
	b = putVarintParam(b, IDInitialMaxData, 10)
	b = putVarintParam(b, IDInitialMaxData, 20)
	if _, err := Parse(b, false); err == nil {
		t.Fatal("expected TRANSPORT_PARAMETER_ERROR on duplicate id")
	}
}

func TestParseRejectsServerOnlyFromClient(t *testing.T) {
	var b []byte
	b = putBytesParam(b, IDOriginalDestinationConnectionID, []byte{1, 2, 3})
	if _, err := Parse(b, true); err == nil {
		t.Fatal("expected rejection of server-only parameter from client")
	}
	if _, err := Parse(b, false); err != nil {
		t.Fatalf("expected success when not from client, got %v", err)
	}
}

func TestValidateAckDelayExponent(t *testing.T) {
	s := Default()
	s.AckDelayExponent = 21
	if err := s.Validate(); err == nil {
		t.Fatal("expected rejection for ack_delay_exponent > 20")
	}
}

func TestValidateActiveConnectionIDLimit(t *testing.T) {
	s := Default()
	s.ActiveConnectionIDLimit = 1
	if err := s.Validate(); err == nil {
		t.Fatal("expected rejection for active_connection_id_limit < 2")
	}
}

func TestValidateMaxStreamsBound(t *testing.T) {
	s := Default()
	s.InitialMaxStreamsBidi = maxStreamsBound
	if err := s.Validate(); err == nil {
		t.Fatal("expected rejection for initial_max_streams_bidi >= 2^60")
	}
}

func TestSessionTicketRoundTrip(t *testing.T) {
	s := Default()
	s.InitialMaxData = 1000
	s.InitialMaxStreamDataBidiLocal = 500
	s.InitialMaxStreamDataBidiRemote = 600
	s.InitialMaxStreamDataUni = 700
	s.InitialMaxStreamsBidi = 10
	s.InitialMaxStreamsUni = 5
	cache := FromSet(s)

	ticket := cache.RenderSessionTicket()
	parsed, err := ParseSessionTicket(ticket)
	if err != nil {
		t.Fatal(err)
	}
	if *parsed != *cache {
		t.Fatalf("expected round-tripped cache %+v, got %+v", cache, parsed)
	}
}

func TestParseSessionTicketRejectsForeignParameter(t *testing.T) {
	var b []byte
	b = putBytesParam(b, IDInitialSourceConnectionID, []byte{1, 2, 3})
	if _, err := ParseSessionTicket(b); err == nil {
		t.Fatal("expected rejection of a parameter outside the session-ticket subset")
	}
}

func TestParseSessionTicketRejectsDuplicateID(t *testing.T) {
	var b []byte
	b = putVarintParam(b, IDInitialMaxData, 10)
	b = putVarintParam(b, IDInitialMaxData, 20)
	if _, err := ParseSessionTicket(b); err == nil {
		t.Fatal("expected rejection of duplicate id in session ticket")
	}
}

func TestZeroRTTCacheRejectsShrink(t *testing.T) {
	s := Default()
	s.InitialMaxData = 1000
	cache := FromSet(s)

	smaller := Default()
	smaller.InitialMaxData = 500
	if err := cache.CheckAccept(smaller); err == nil {
		t.Fatal("expected rejection of shrunk 0-RTT limit")
	}

	larger := Default()
	larger.InitialMaxData = 2000
	if err := cache.CheckAccept(larger); err != nil {
		t.Fatalf("expected acceptance of grown limit, got %v", err)
	}
}
