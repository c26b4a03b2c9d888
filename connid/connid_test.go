package connid

import (
	"testing"

	"github.com/luoxk/qcore/ackobserver"
	"github.com/luoxk/qcore/frame"
)

type seqRandom struct{ n byte }

func (r *seqRandom) GenRandom(purpose string, b []byte) error {
	for i := range b {
		b[i] = r.n
	}
	r.n++
	return nil
}

func TestIssuerIssueAndTopUp(t *testing.T) {
	is := NewIssuer(&seqRandom{}, 8, 4)
	pool := ackobserver.NewPool()

	frames, err := is.TopUp(pool)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames issued to reach limit 4, got %d", len(frames))
	}
	if is.activeCount() != 4 {
		t.Fatalf("expected 4 active CIDs, got %d", is.activeCount())
	}
}

func TestIssuerRetireUnknownSequenceRejected(t *testing.T) {
	is := NewIssuer(&seqRandom{}, 8, 2)
	pool := ackobserver.NewPool()
	if _, err := is.TopUp(pool); err != nil {
		t.Fatal(err)
	}
	if err := is.RecvRetireConnectionID(&frame.RetireConnectionIDFrame{SequenceNumber: 99}); err == nil {
		t.Fatal("expected error for unknown sequence")
	}
}

func TestAcceptorPruneRejectsZeroUsable(t *testing.T) {
	a := NewAcceptor(&seqRandom{}, 10, 20)
	if err := a.RecvNewConnectionID(&frame.NewConnectionIDFrame{SequenceNumber: 0, ConnectionID: []byte{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}
	if err := a.RecvNewConnectionID(&frame.NewConnectionIDFrame{SequenceNumber: 1, RetirePriorTo: 2, ConnectionID: []byte{4, 5, 6}}); err == nil {
		t.Fatal("expected rejection: retire_prior_to would leave zero usable CIDs")
	}
}

func TestAcceptorRotation(t *testing.T) {
	a := NewAcceptor(&seqRandom{}, 2, 2)
	if err := a.RecvNewConnectionID(&frame.NewConnectionIDFrame{SequenceNumber: 0, ConnectionID: []byte{1}}); err != nil {
		t.Fatal(err)
	}
	if err := a.RecvNewConnectionID(&frame.NewConnectionIDFrame{SequenceNumber: 1, ConnectionID: []byte{2}}); err != nil {
		t.Fatal(err)
	}
	c, err := a.Current()
	if err != nil {
		t.Fatal(err)
	}
	a.OnPacketSent(c)
	a.OnPacketSent(c)
	rotated, err := a.Current()
	if err != nil {
		t.Fatal(err)
	}
	if rotated.Seq == c.Seq {
		t.Fatal("expected rotation to a different CID after exceeding packetPerID")
	}
}
