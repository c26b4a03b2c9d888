// Package transportparam implements the typed QUIC transport
// parameter set, its wire codec, post-parse validators, and the 0-RTT
// monotonic-limit cache described in spec.md C12.
package transportparam

import (
	"bytes"

	"github.com/luoxk/qcore/transporterror"
	"github.com/luoxk/qcore/varint"
)

// ID is a transport parameter identifier (RFC 9000 §18.2).
type ID uint64

const (
	IDOriginalDestinationConnectionID ID = 0x00
	IDMaxIdleTimeout                  ID = 0x01
	IDStatelessResetToken             ID = 0x02
	IDMaxUDPPayloadSize                ID = 0x03
	IDInitialMaxData                  ID = 0x04
	IDInitialMaxStreamDataBidiLocal   ID = 0x05
	IDInitialMaxStreamDataBidiRemote  ID = 0x06
	IDInitialMaxStreamDataUni         ID = 0x07
	IDInitialMaxStreamsBidi           ID = 0x08
	IDInitialMaxStreamsUni            ID = 0x09
	IDAckDelayExponent                ID = 0x0a
	IDMaxAckDelay                      ID = 0x0b
	IDDisableActiveMigration          ID = 0x0c
	IDPreferredAddress                ID = 0x0d
	IDActiveConnectionIDLimit         ID = 0x0e
	IDInitialSourceConnectionID       ID = 0x0f
	IDRetrySourceConnectionID         ID = 0x10
	IDMaxDatagramFrameSize            ID = 0x20
	IDGreaseQUICBit                   ID = 0x2ab2
)

// PreferredAddress carries the optional preferred_address parameter.
type PreferredAddress struct {
	IPv4                [4]byte
	Port4               uint16
	IPv6                [16]byte
	Port6               uint16
	ConnectionID        []byte
	StatelessResetToken [16]byte
}

// Set is the typed struct holding every RFC-defined transport
// parameter (spec.md C12).
type Set struct {
	OriginalDestinationConnectionID []byte
	MaxIdleTimeout                  uint64
	StatelessResetToken             *[16]byte
	MaxUDPPayloadSize               uint64
	InitialMaxData                  uint64
	InitialMaxStreamDataBidiLocal   uint64
	InitialMaxStreamDataBidiRemote  uint64
	InitialMaxStreamDataUni         uint64
	InitialMaxStreamsBidi           uint64
	InitialMaxStreamsUni            uint64
	AckDelayExponent                uint64
	MaxAckDelay                     uint64
	DisableActiveMigration          bool
	PreferredAddress                *PreferredAddress
	ActiveConnectionIDLimit         uint64
	InitialSourceConnectionID       []byte
	RetrySourceConnectionID         []byte
	MaxDatagramFrameSize            uint64
	GreaseQUICBit                   bool
}

// Default returns a Set with RFC 9000's documented default values for
// parameters that have one (max_udp_payload_size=65527,
// ack_delay_exponent=3, max_ack_delay=25ms expressed in the spec's
// millisecond units, active_connection_id_limit=2).
func Default() *Set {
	return &Set{
		MaxUDPPayloadSize:       65527,
		AckDelayExponent:        3,
		MaxAckDelay:             25,
		ActiveConnectionIDLimit: 2,
	}
}

func putVarintParam(b []byte, id ID, v uint64) []byte {
	b = varint.Append(b, uint64(id))
	b = varint.Append(b, uint64(varint.Len(v)))
	return varint.Append(b, v)
}

func putBytesParam(b []byte, id ID, v []byte) []byte {
	b = varint.Append(b, uint64(id))
	b = varint.Append(b, uint64(len(v)))
	return append(b, v...)
}

func putEmptyParam(b []byte, id ID) []byte {
	b = varint.Append(b, uint64(id))
	return varint.Append(b, 0)
}

// Render encodes s as the (id, length, value) triples RFC 9000
// transports in the quic_transport_parameters TLS extension.
func (s *Set) Render() []byte {
	var b []byte
	if s.OriginalDestinationConnectionID != nil {
		b = putBytesParam(b, IDOriginalDestinationConnectionID, s.OriginalDestinationConnectionID)
	}
	if s.MaxIdleTimeout != 0 {
		b = putVarintParam(b, IDMaxIdleTimeout, s.MaxIdleTimeout)
	}
	if s.StatelessResetToken != nil {
		b = putBytesParam(b, IDStatelessResetToken, s.StatelessResetToken[:])
	}
	b = putVarintParam(b, IDMaxUDPPayloadSize, s.MaxUDPPayloadSize)
	b = putVarintParam(b, IDInitialMaxData, s.InitialMaxData)
	b = putVarintParam(b, IDInitialMaxStreamDataBidiLocal, s.InitialMaxStreamDataBidiLocal)
	b = putVarintParam(b, IDInitialMaxStreamDataBidiRemote, s.InitialMaxStreamDataBidiRemote)
	b = putVarintParam(b, IDInitialMaxStreamDataUni, s.InitialMaxStreamDataUni)
	b = putVarintParam(b, IDInitialMaxStreamsBidi, s.InitialMaxStreamsBidi)
	b = putVarintParam(b, IDInitialMaxStreamsUni, s.InitialMaxStreamsUni)
	b = putVarintParam(b, IDAckDelayExponent, s.AckDelayExponent)
	b = putVarintParam(b, IDMaxAckDelay, s.MaxAckDelay)
	if s.DisableActiveMigration {
		b = putEmptyParam(b, IDDisableActiveMigration)
	}
	b = putVarintParam(b, IDActiveConnectionIDLimit, s.ActiveConnectionIDLimit)
	if s.InitialSourceConnectionID != nil {
		b = putBytesParam(b, IDInitialSourceConnectionID, s.InitialSourceConnectionID)
	}
	if s.RetrySourceConnectionID != nil {
		b = putBytesParam(b, IDRetrySourceConnectionID, s.RetrySourceConnectionID)
	}
	if s.MaxDatagramFrameSize != 0 {
		b = putVarintParam(b, IDMaxDatagramFrameSize, s.MaxDatagramFrameSize)
	}
	if s.GreaseQUICBit {
		b = putEmptyParam(b, IDGreaseQUICBit)
	}
	return b
}

// Parse decodes a peer's quic_transport_parameters extension body into
// a fresh Set, enforcing the loop-level invariant "duplicate IDs ->
// TRANSPORT_PARAMETER_ERROR" and then running Validate.
// fromClient, if true, rejects server-only parameters
// (original_destination_connection_id, preferred_address,
// retry_source_connection_id, stateless_reset_token) received from a
// client, per spec.md C12.
func Parse(data []byte, fromClient bool) (*Set, error) {
	r := bytes.NewReader(data)
	s := &Set{}
	seen := make(map[ID]bool)
	for r.Len() > 0 {
		idv, err := varint.Read(r)
		if err != nil {
			return nil, transporterror.New(transporterror.TransportParameterError, "malformed parameter id")
		}
		id := ID(idv)
		length, err := varint.Read(r)
		if err != nil {
			return nil, transporterror.New(transporterror.TransportParameterError, "malformed parameter length")
		}
		if seen[id] {
			return nil, transporterror.New(transporterror.TransportParameterError, "duplicate transport parameter")
		}
		seen[id] = true

		val := make([]byte, length)
		if n, err := r.Read(val); err != nil || uint64(n) != length {
			return nil, transporterror.New(transporterror.TransportParameterError, "truncated parameter value")
		}

		if fromClient && isServerOnly(id) {
			return nil, transporterror.New(transporterror.TransportParameterError, "server-only parameter from client")
		}

		if err := s.applyParam(id, val); err != nil {
			return nil, err
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func isServerOnly(id ID) bool {
	switch id {
	case IDOriginalDestinationConnectionID, IDPreferredAddress, IDRetrySourceConnectionID, IDStatelessResetToken:
		return true
	default:
		return false
	}
}

func (s *Set) applyParam(id ID, val []byte) error {
	readVarint := func() (uint64, error) {
		vr := bytes.NewReader(val)
		v, err := varint.Read(vr)
		if err != nil {
			return 0, transporterror.New(transporterror.TransportParameterError, "malformed varint value")
		}
		return v, nil
	}
	switch id {
	case IDOriginalDestinationConnectionID:
		s.OriginalDestinationConnectionID = val
	case IDMaxIdleTimeout:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.MaxIdleTimeout = v
	case IDStatelessResetToken:
		if len(val) != 16 {
			return transporterror.New(transporterror.TransportParameterError, "stateless_reset_token must be 16 bytes")
		}
		var tok [16]byte
		copy(tok[:], val)
		s.StatelessResetToken = &tok
	case IDMaxUDPPayloadSize:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.MaxUDPPayloadSize = v
	case IDInitialMaxData:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.InitialMaxData = v
	case IDInitialMaxStreamDataBidiLocal:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.InitialMaxStreamDataBidiLocal = v
	case IDInitialMaxStreamDataBidiRemote:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.InitialMaxStreamDataBidiRemote = v
	case IDInitialMaxStreamDataUni:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.InitialMaxStreamDataUni = v
	case IDInitialMaxStreamsBidi:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.InitialMaxStreamsBidi = v
	case IDInitialMaxStreamsUni:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.InitialMaxStreamsUni = v
	case IDAckDelayExponent:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.AckDelayExponent = v
	case IDMaxAckDelay:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.MaxAckDelay = v
	case IDDisableActiveMigration:
		s.DisableActiveMigration = true
	case IDActiveConnectionIDLimit:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.ActiveConnectionIDLimit = v
	case IDInitialSourceConnectionID:
		s.InitialSourceConnectionID = val
	case IDRetrySourceConnectionID:
		s.RetrySourceConnectionID = val
	case IDMaxDatagramFrameSize:
		v, err := readVarint()
		if err != nil {
			return err
		}
		s.MaxDatagramFrameSize = v
	case IDGreaseQUICBit:
		s.GreaseQUICBit = true
	case IDPreferredAddress:
		pa, err := parsePreferredAddress(val)
		if err != nil {
			return err
		}
		s.PreferredAddress = pa
	default:
		// Unknown/grease parameter: ignore per RFC 9000 §7.4.1.
	}
	return nil
}

func parsePreferredAddress(val []byte) (*PreferredAddress, error) {
	r := bytes.NewReader(val)
	pa := &PreferredAddress{}
	if _, err := r.Read(pa.IPv4[:]); err != nil {
		return nil, transporterror.New(transporterror.TransportParameterError, "malformed preferred_address")
	}
	var p4 [2]byte
	if _, err := r.Read(p4[:]); err != nil {
		return nil, transporterror.New(transporterror.TransportParameterError, "malformed preferred_address")
	}
	pa.Port4 = uint16(p4[0])<<8 | uint16(p4[1])
	if _, err := r.Read(pa.IPv6[:]); err != nil {
		return nil, transporterror.New(transporterror.TransportParameterError, "malformed preferred_address")
	}
	var p6 [2]byte
	if _, err := r.Read(p6[:]); err != nil {
		return nil, transporterror.New(transporterror.TransportParameterError, "malformed preferred_address")
	}
	pa.Port6 = uint16(p6[0])<<8 | uint16(p6[1])
	cidLen, err := r.ReadByte()
	if err != nil {
		return nil, transporterror.New(transporterror.TransportParameterError, "malformed preferred_address")
	}
	cid := make([]byte, cidLen)
	if _, err := r.Read(cid); err != nil {
		return nil, transporterror.New(transporterror.TransportParameterError, "malformed preferred_address connection id")
	}
	pa.ConnectionID = cid
	if _, err := r.Read(pa.StatelessResetToken[:]); err != nil {
		return nil, transporterror.New(transporterror.TransportParameterError, "malformed preferred_address reset token")
	}
	return pa, nil
}

const maxStreamsBound = uint64(1) << 60

// Validate runs the post-parse validators of spec.md C12.
func (s *Set) Validate() error {
	if s.AckDelayExponent > 20 {
		return transporterror.New(transporterror.TransportParameterError, "ack_delay_exponent > 20")
	}
	if s.ActiveConnectionIDLimit != 0 && s.ActiveConnectionIDLimit < 2 {
		return transporterror.New(transporterror.TransportParameterError, "active_connection_id_limit < 2")
	}
	if s.MaxUDPPayloadSize != 0 && s.MaxUDPPayloadSize < 1200 {
		return transporterror.New(transporterror.TransportParameterError, "max_udp_payload_size < 1200")
	}
	if s.MaxAckDelay > 1<<14 {
		return transporterror.New(transporterror.TransportParameterError, "max_ack_delay > 2^14")
	}
	if s.InitialMaxStreamsBidi >= maxStreamsBound || s.InitialMaxStreamsUni >= maxStreamsBound {
		return transporterror.New(transporterror.TransportParameterError, "initial_max_streams_* >= 2^60")
	}
	if s.PreferredAddress != nil && len(s.PreferredAddress.ConnectionID) == 0 {
		return transporterror.New(transporterror.TransportParameterError, "preferred_address.connection_id empty")
	}
	return nil
}

// ZeroRTTCache stores the subset of limits that must monotonically
// grow across a 0-RTT resumption (spec.md C12): new_value <
// cached_value is rejected.
type ZeroRTTCache struct {
	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi          uint64
	InitialMaxStreamsUni           uint64
}

// FromSet snapshots the monotonic-limit subset of s for caching ahead
// of a future resumption attempt.
func FromSet(s *Set) *ZeroRTTCache {
	return &ZeroRTTCache{
		InitialMaxData:                 s.InitialMaxData,
		InitialMaxStreamDataBidiLocal:  s.InitialMaxStreamDataBidiLocal,
		InitialMaxStreamDataBidiRemote: s.InitialMaxStreamDataBidiRemote,
		InitialMaxStreamDataUni:        s.InitialMaxStreamDataUni,
		InitialMaxStreamsBidi:          s.InitialMaxStreamsBidi,
		InitialMaxStreamsUni:           s.InitialMaxStreamsUni,
	}
}

// CheckAccept validates that newSet's limits have not shrunk relative
// to the cache; the caller must reject 0-RTT (but may still continue
// the handshake as 1-RTT-only) if this returns an error.
func (c *ZeroRTTCache) CheckAccept(newSet *Set) error {
	if newSet.InitialMaxData < c.InitialMaxData ||
		newSet.InitialMaxStreamDataBidiLocal < c.InitialMaxStreamDataBidiLocal ||
		newSet.InitialMaxStreamDataBidiRemote < c.InitialMaxStreamDataBidiRemote ||
		newSet.InitialMaxStreamDataUni < c.InitialMaxStreamDataUni ||
		newSet.InitialMaxStreamsBidi < c.InitialMaxStreamsBidi ||
		newSet.InitialMaxStreamsUni < c.InitialMaxStreamsUni {
		return transporterror.New(transporterror.ProtocolViolation, "0-RTT limits shrunk on resumption")
	}
	return nil
}

// RenderSessionTicket encodes c using the identical (id, length, value)
// wire grammar Render uses for the full parameter set, so the
// 0-RTT-safe monotonic-limit subset can be persisted alongside a TLS
// session ticket and later restored via ParseSessionTicket ahead of a
// resumption attempt, without carrying the rest of the parameter set.
func (c *ZeroRTTCache) RenderSessionTicket() []byte {
	var b []byte
	b = putVarintParam(b, IDInitialMaxData, c.InitialMaxData)
	b = putVarintParam(b, IDInitialMaxStreamDataBidiLocal, c.InitialMaxStreamDataBidiLocal)
	b = putVarintParam(b, IDInitialMaxStreamDataBidiRemote, c.InitialMaxStreamDataBidiRemote)
	b = putVarintParam(b, IDInitialMaxStreamDataUni, c.InitialMaxStreamDataUni)
	b = putVarintParam(b, IDInitialMaxStreamsBidi, c.InitialMaxStreamsBidi)
	b = putVarintParam(b, IDInitialMaxStreamsUni, c.InitialMaxStreamsUni)
	return b
}

// ParseSessionTicket decodes a RenderSessionTicket blob back into a
// ZeroRTTCache. Unlike Parse, any parameter ID outside the six this
// persists is rejected outright (a session ticket only ever carries
// this subset; anything else means a corrupted or foreign ticket).
func ParseSessionTicket(data []byte) (*ZeroRTTCache, error) {
	r := bytes.NewReader(data)
	c := &ZeroRTTCache{}
	seen := make(map[ID]bool)
	for r.Len() > 0 {
		idv, err := varint.Read(r)
		if err != nil {
			return nil, transporterror.New(transporterror.TransportParameterError, "malformed session ticket parameter id")
		}
		id := ID(idv)
		length, err := varint.Read(r)
		if err != nil {
			return nil, transporterror.New(transporterror.TransportParameterError, "malformed session ticket parameter length")
		}
		if seen[id] {
			return nil, transporterror.New(transporterror.TransportParameterError, "duplicate session ticket parameter")
		}
		seen[id] = true

		val := make([]byte, length)
		if n, err := r.Read(val); err != nil || uint64(n) != length {
			return nil, transporterror.New(transporterror.TransportParameterError, "truncated session ticket parameter value")
		}
		vr := bytes.NewReader(val)
		v, err := varint.Read(vr)
		if err != nil {
			return nil, transporterror.New(transporterror.TransportParameterError, "malformed session ticket varint value")
		}

		switch id {
		case IDInitialMaxData:
			c.InitialMaxData = v
		case IDInitialMaxStreamDataBidiLocal:
			c.InitialMaxStreamDataBidiLocal = v
		case IDInitialMaxStreamDataBidiRemote:
			c.InitialMaxStreamDataBidiRemote = v
		case IDInitialMaxStreamDataUni:
			c.InitialMaxStreamDataUni = v
		case IDInitialMaxStreamsBidi:
			c.InitialMaxStreamsBidi = v
		case IDInitialMaxStreamsUni:
			c.InitialMaxStreamsUni = v
		default:
			return nil, transporterror.New(transporterror.TransportParameterError, "unexpected parameter in session ticket")
		}
	}
	return c, nil
}
