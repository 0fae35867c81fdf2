package generic_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/warp/contributor-rewards/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// sliceStore is a minimal EventStore for exercising the ledger on its own.
type sliceStore struct {
	events []generic.Event
	keys   map[string]bool
}

func newSliceStore() *sliceStore {
	return &sliceStore{keys: make(map[string]bool)}
}

func (s *sliceStore) Append(_ context.Context, evt generic.Event) error {
	if evt.IdempotencyKey != "" {
		if s.keys[evt.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		s.keys[evt.IdempotencyKey] = true
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *sliceStore) AppendBatch(ctx context.Context, evts []generic.Event) error {
	for _, evt := range evts {
		if err := s.Append(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sliceStore) Query(_ context.Context, filter generic.EventFilter) ([]generic.Event, error) {
	var out []generic.Event
	for _, evt := range s.events {
		if filter.Match(evt) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (s *sliceStore) Exists(_ context.Context, key string) (bool, error) {
	return s.keys[key], nil
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestLedger_StampsIDAndTime(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ledger := generic.NewLedger(newSliceStore())
	ledger.Now = func() time.Time { return at }

	if err := ledger.Append(ctx, generic.Event{Kind: "contribution_recorded", Account: "alice"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	evts, _ := ledger.Events(ctx, generic.EventFilter{})
	if len(evts) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evts))
	}
	if evts[0].ID == "" {
		t.Error("event ID should be assigned")
	}
	if !evts[0].CreatedAt.Equal(at) {
		t.Errorf("expected CreatedAt %v, got %v", at, evts[0].CreatedAt)
	}
}

func TestLedger_RejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	ledger := generic.NewLedger(newSliceStore())

	first := generic.Event{Kind: "contribution_recorded", IdempotencyKey: "pr-42"}
	if err := ledger.Append(ctx, first); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := ledger.Append(ctx, first); !errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		t.Errorf("expected duplicate key error, got %v", err)
	}
}

func TestLedger_AppendBatchChecksKeysUpFront(t *testing.T) {
	ctx := context.Background()
	store := newSliceStore()
	ledger := generic.NewLedger(store)

	err := ledger.AppendBatch(ctx, []generic.Event{
		{Kind: "a", IdempotencyKey: "k"},
		{Kind: "b", IdempotencyKey: "k"},
	})

	if !errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
	if len(store.events) != 0 {
		t.Errorf("no event should be written, got %d", len(store.events))
	}
}

func TestEventFilter_Match(t *testing.T) {
	alice := generic.Identity("alice")
	period := uint64(2)
	evt := generic.Event{Kind: "tokens_distributed", Account: "alice", Period: 2}

	if !(generic.EventFilter{}).Match(evt) {
		t.Error("empty filter should match everything")
	}
	if !(generic.EventFilter{Account: &alice, Period: &period, Kinds: []generic.EventKind{"x", "tokens_distributed"}}).Match(evt) {
		t.Error("filter on account, period and kind should match")
	}
	if (generic.EventFilter{Kinds: []generic.EventKind{"period_advanced"}}).Match(evt) {
		t.Error("kind filter should not match")
	}
}

func TestIdentity_Matches(t *testing.T) {
	if !generic.Identity("0xAbC").Matches("0xabc") {
		t.Error("hex addresses should compare case-insensitively")
	}
	if generic.Identity("Alice").Matches("alice") {
		t.Error("non-hex identities are case-sensitive")
	}
	if generic.Identity("").Matches("") {
		t.Error("empty identities never match")
	}
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestOperationError_WrapsSentinel(t *testing.T) {
	err := generic.NewOperationError("distribute", generic.ErrNotVerified, "carol", "")

	if !errors.Is(err, generic.ErrNotVerified) {
		t.Error("operation error should unwrap to its sentinel")
	}
	if got := err.Error(); got != "distribute: contributor not verified (accounts: carol)" {
		t.Errorf("unexpected message %q", got)
	}

	// The innermost operation name wins
	outer := generic.NewOperationError("outer", fmt.Errorf("ctx: %w", err))
	var opErr *generic.OperationError
	if !errors.As(outer, &opErr) || opErr.Op != "distribute" {
		t.Errorf("expected op distribute, got %v", outer)
	}
	if generic.NewOperationError("noop", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{generic.NewOperationError("record", generic.ErrInvalidMagnitude), "InvalidMagnitude"},
		{fmt.Errorf("%w: custody offline", generic.ErrTransferFailed), "TransferFailed"},
		{generic.ErrArithmeticOverflow, "ArithmeticOverflow"},
		{errors.New("disk full"), "Internal"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := generic.KindOf(tt.err); got != tt.kind {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.kind)
		}
	}

	if !generic.IsAuthError(generic.ErrNotVerified) || !generic.IsConflict(generic.ErrEmptyPeriod) ||
		!generic.IsNotFound(generic.ErrNotInitialized) || !generic.IsClientError(generic.ErrInvalidRatio) {
		t.Error("error groups are misclassified")
	}
}
