/*
Package generic provides the domain-agnostic building blocks of the rewards engine.

PURPOSE:
  This package contains the types and helpers that do not know anything
  about contributors, points or reserves: identities, the append-only event
  ledger, checked fixed-width arithmetic, accrual rules, period schedules,
  the clock collaborator and the error taxonomy. The rewards package builds
  the points accrual and distribution engine on top of them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identity: An account key or authority (opaque string, usually a 0x address)
  - Event: An immutable audit record emitted by every successful operation
  - EventKind: The kind of operation that produced an event

DESIGN PRINCIPLES:
  1. Immutability: Events are never modified, only appended
  2. Precision: Counters are fixed-width uint64, overflow is an error (math.go)
  3. Type Safety: Strong typing for identities and event kinds
  4. Auditability: Every event has actor, account, period and idempotency key

USAGE:
  evt := generic.Event{
      Kind:    "contribution_recorded",
      Account: "contrib-1",
      Actor:   "0xabc...",
      Period:  3,
      Attributes: map[string]string{"points_awarded": "400"},
  }

SEE ALSO:
  - ledger.go: Append-only event ledger
  - errors.go: Error taxonomy
  - math.go: Checked arithmetic
*/
package generic

import (
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// Identity identifies an account or the authority that owns it.
// Records reference each other only through identities, never by pointer.
type Identity string

func (id Identity) String() string { return string(id) }
func (id Identity) IsZero() bool   { return strings.TrimSpace(string(id)) == "" }

// Matches compares identities. Hex addresses are compared case-insensitively
// so checksummed and lowercase forms of the same key are equal.
func (id Identity) Matches(other Identity) bool {
	if id.IsZero() || other.IsZero() {
		return false
	}
	if strings.HasPrefix(string(id), "0x") || strings.HasPrefix(string(id), "0X") {
		return strings.EqualFold(string(id), string(other))
	}
	return id == other
}

type EventID string

// =============================================================================
// EVENT - Immutable audit record
// =============================================================================

type EventKind string

type Event struct {
	ID             EventID
	Kind           EventKind
	Account        Identity // Account the event is about (contributor or program)
	Actor          Identity // Identity that performed the operation
	Period         uint64
	Attributes     map[string]string
	IdempotencyKey string
	CreatedAt      time.Time
}

// EventFilter narrows a ledger query. Zero values match everything.
type EventFilter struct {
	Account *Identity
	Kinds   []EventKind
	Period  *uint64
	Limit   int
}

// Match reports whether the event passes the filter (Limit is ignored).
func (f EventFilter) Match(e Event) bool {
	if f.Account != nil && e.Account != *f.Account {
		return false
	}
	if f.Period != nil && e.Period != *f.Period {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// FormatUint is shorthand used when building event attributes.
func FormatUint(v uint64) string { return strconv.FormatUint(v, 10) }
