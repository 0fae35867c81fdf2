/*
store.go - Persistence interface for audit events

PURPOSE:
  Defines the interface between the event ledger and the database.
  The EventStore is append-only. Different implementations use SQLite
  or in-memory storage.

APPEND-ONLY CONTRACT:
  - Append(): Single event write
  - AppendBatch(): Atomic multi-event write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  An event may carry an idempotency key. If the key already exists,
  the write is rejected with ErrDuplicateIdempotencyKey. This makes
  client retries of the same logical operation safe.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/memory/memory.go: In-memory for tests and development

SEE ALSO:
  - ledger.go: Higher-level interface using EventStore
  - rewards/store.go: Account persistence, which embeds an EventStore
*/
package generic

import "context"

// =============================================================================
// EVENT STORE - Interface for event persistence (append-only)
// =============================================================================

// EventStore handles persistence of events.
// IMPORTANT: EventStore is APPEND-ONLY. No Update, No Delete. Ever.
type EventStore interface {
	// Append persists an event. Returns ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, evt Event) error

	// AppendBatch persists multiple events atomically.
	AppendBatch(ctx context.Context, evts []Event) error

	// Query returns matching events in append order.
	Query(ctx context.Context, filter EventFilter) ([]Event, error)

	// Exists checks if an idempotency key has already been used.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
