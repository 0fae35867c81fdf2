/*
ledger.go - Append-only event log

PURPOSE:
  The Ledger is the audit trail of the engine. Every successful operation
  (contribution recorded, period advanced, reserve updated, tokens
  distributed) appends its events inside the same atomic unit as the state
  change they describe. A rollover that applies staged caps writes two
  events with AppendBatch.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, events cannot be modified
  3. AUDITABLE: Every state change is traceable to an actor and period
  4. IDEMPOTENT: Same idempotency key = rejected as a duplicate

SEE ALSO:
  - store.go: Low-level persistence interface
  - rewards/engine.go: Emits events inside store transactions
*/
package generic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER - Append-only event log
// =============================================================================

// Ledger is the source of truth for what happened and who did it.
type Ledger interface {
	// Append adds an event. Fails if the idempotency key exists.
	Append(ctx context.Context, evt Event) error

	// AppendBatch adds multiple events atomically.
	AppendBatch(ctx context.Context, evts []Event) error

	// Events returns matching events in append order. Read-only.
	Events(ctx context.Context, filter EventFilter) ([]Event, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using EventStore
// =============================================================================

type DefaultLedger struct {
	Store EventStore
	Now   func() time.Time
}

func NewLedger(store EventStore) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

func (l *DefaultLedger) Append(ctx context.Context, evt Event) error {
	if evt.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, evt.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, l.Stamp(evt))
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, evts []Event) error {
	seen := make(map[string]bool)
	stamped := make([]Event, 0, len(evts))
	for _, evt := range evts {
		if evt.IdempotencyKey != "" {
			if seen[evt.IdempotencyKey] {
				return ErrDuplicateIdempotencyKey
			}
			seen[evt.IdempotencyKey] = true
			exists, err := l.Store.Exists(ctx, evt.IdempotencyKey)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateIdempotencyKey
			}
		}
		stamped = append(stamped, l.Stamp(evt))
	}
	return l.Store.AppendBatch(ctx, stamped)
}

func (l *DefaultLedger) Events(ctx context.Context, filter EventFilter) ([]Event, error) {
	return l.Store.Query(ctx, filter)
}

// Stamp fills the ID and creation time when the caller left them empty.
func (l *DefaultLedger) Stamp(evt Event) Event {
	if evt.ID == "" {
		evt.ID = EventID(uuid.NewString())
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = l.Now()
	}
	return evt
}
