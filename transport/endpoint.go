// Package transport holds the ambient configuration shared across a
// QUIC endpoint's collaborating components, generalizing the
// teacher's transport.Options (referenced by its internal/http3
// package as *transport.Options embedded into the connection type).
package transport

import "time"

// Options is embeddable configuration carried by every top-level
// component that needs to log or consult endpoint-wide limits, the
// same shape the teacher embeds into its HTTP/3 connection type.
type Options struct {
	// Debugf receives low-frequency diagnostic lines; package conn
	// reports datagram drops and peer flow-control blocking through
	// it. Nil disables
	// logging entirely; this mirrors the teacher's nil-checked
	// function-field logging rather than pulling in a logging
	// library, since every log call site here is a single formatted
	// line with no structured fields to justify one.
	Debugf func(format string, args ...any)

	// IdleTimeout holds an idle-period length (30s in DefaultOptions).
	// No package in this module reads it; connections are not closed
	// on idleness through it.
	IdleTimeout time.Duration

	// MaxHeaderBytes holds a HEADERS field-section size bound (16 KiB
	// in DefaultOptions). No package in this module reads it; decoded
	// field sections are not size-checked against it.
	MaxHeaderBytes uint64

	// EnableDatagrams names the QUIC DATAGRAM extension (RFC 9221). No
	// package in this module reads it; whether datagrams are sent or
	// accepted does not depend on it.
	EnableDatagrams bool
}

// Debug calls o.Debugf if set, a nil-safe convenience matching the
// teacher's `if c.Debugf != nil { c.Debugf(...) }` call sites.
func (o *Options) Debug(format string, args ...any) {
	if o == nil || o.Debugf == nil {
		return
	}
	o.Debugf(format, args...)
}

// DefaultOptions returns the RFC-recommended defaults used when an
// endpoint is constructed without explicit overrides.
func DefaultOptions() *Options {
	return &Options{
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 16 * 1024,
	}
}
