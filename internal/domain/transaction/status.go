package transaction

import "fmt"

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusPending             Status = "pending"
	StatusSent                Status = "sent"
	StatusQueued              Status = "queued"
	StatusScattered           Status = "scattered"
	StatusReturned            Status = "returned"
	StatusCanceled            Status = "canceled"
	StatusFailed              Status = "failed"
)

// Type is the direction of a money movement relative to the owning CLABE account.
type Type string

const (
	TypeIncoming Type = "incoming"
	TypeOutgoing Type = "outgoing"
)

// Source records which channel requested a status change.
type Source string

const (
	SourceAPI     Source = "api"
	SourceWebhook Source = "webhook"
	SourceCron    Source = "cron"
	SourceManual  Source = "manual"
)

// Actors used when no user is behind a change.
const (
	ActorSystem  = "system"
	ActorWebhook = "webhook"
	ActorCron    = "cron"
)

// transitions lists the legal destinations for every source status.
// Self-transitions are handled separately and are always legal.
var transitions = map[Status][]Status{
	StatusPendingConfirmation: {StatusCanceled, StatusPending, StatusSent, StatusFailed},
	StatusPending:             {StatusSent, StatusFailed, StatusCanceled},
	StatusSent:                {StatusScattered, StatusReturned, StatusFailed},
	StatusQueued:              {StatusSent, StatusScattered, StatusFailed, StatusCanceled},
	StatusScattered:           {StatusReturned},
	StatusCanceled:            {},
	StatusReturned:            {},
	StatusFailed:              {StatusPending},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// InTransit reports whether an outgoing transfer in s has been accepted
// locally but not yet handed to the rail.
func (s Status) InTransit() bool {
	return s == StatusPendingConfirmation || s == StatusPending || s == StatusQueued
}

// ParseStatus converts a raw value into a known Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown transaction status %q", raw)
	}
	return s, nil
}

// Valid reports whether t is a known direction.
func (t Type) Valid() bool {
	return t == TypeIncoming || t == TypeOutgoing
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceAPI, SourceWebhook, SourceCron, SourceManual:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition is a checked status change. The zero value is not a valid
// transition; the only way to obtain one is NewTransition.
type Transition struct {
	from  Status
	to    Status
	valid bool
}

// NewTransition returns a Transition if moving from -> to is legal.
func NewTransition(from, to Status) (Transition, error) {
	if !CanTransition(from, to) {
		return Transition{}, ErrIllegalTransition{From: from, To: to}
	}
	return Transition{from: from, to: to, valid: true}, nil
}

func (t Transition) From() Status { return t.from }
func (t Transition) To() Status   { return t.to }

// Valid reports whether t was produced by NewTransition and is still legal.
func (t Transition) Valid() bool {
	return t.valid && CanTransition(t.from, t.to)
}

// RemoteFlags are the boolean status flags the processor reports per order.
type RemoteFlags struct {
	Sent      bool
	Scattered bool
	Returned  bool
	Canceled  bool
}

// flagPrecedence is evaluated in order; the first matching flag wins.
var flagPrecedence = []struct {
	matches func(RemoteFlags) bool
	status  Status
}{
	{func(f RemoteFlags) bool { return f.Canceled }, StatusCanceled},
	{func(f RemoteFlags) bool { return f.Returned }, StatusReturned},
	{func(f RemoteFlags) bool { return f.Scattered }, StatusScattered},
	{func(f RemoteFlags) bool { return f.Sent }, StatusSent},
}

// StatusFromFlags resolves the processor's flags into a single status,
// falling back to pending when no flag is set.
func StatusFromFlags(f RemoteFlags) Status {
	for _, rule := range flagPrecedence {
		if rule.matches(f) {
			return rule.status
		}
	}
	return StatusPending
}

// StatusFromFlagsFor resolves flags for an order in the given direction. An
// incoming order with no flag set has already settled, so it resolves to
// scattered; outgoing orders follow StatusFromFlags.
func StatusFromFlagsFor(direction Type, f RemoteFlags) Status {
	if direction == TypeIncoming && f == (RemoteFlags{}) {
		return StatusScattered
	}
	return StatusFromFlags(f)
}
