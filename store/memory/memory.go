// Package memory provides an in-memory rewards.Store for tests and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/contributor-rewards/generic"
	"github.com/warp/contributor-rewards/rewards"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	config       *rewards.PointsConfig
	contributors map[generic.Identity]*rewards.Contributor
	summaries    []rewards.PeriodSummary
	events       []generic.Event
	idempotency  map[string]bool
	payouts      []rewards.Payout
}

var (
	_ rewards.Store        = (*Memory)(nil)
	_ rewards.PayoutOutbox = (*Memory)(nil)
)

func New() *Memory {
	return &Memory{
		contributors: make(map[generic.Identity]*rewards.Contributor),
		idempotency:  make(map[string]bool),
	}
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = nil
	m.contributors = make(map[generic.Identity]*rewards.Contributor)
	m.summaries = nil
	m.events = nil
	m.idempotency = make(map[string]bool)
	m.payouts = nil
	return nil
}

func (m *Memory) Config(ctx context.Context) (*rewards.PointsConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.Config(ctx)
}

func (m *Memory) SaveConfig(ctx context.Context, cfg *rewards.PointsConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.SaveConfig(ctx, cfg)
}

func (m *Memory) Contributor(ctx context.Context, id generic.Identity) (*rewards.Contributor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.Contributor(ctx, id)
}

func (m *Memory) SaveContributor(ctx context.Context, c *rewards.Contributor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.SaveContributor(ctx, c)
}

func (m *Memory) Contributors(ctx context.Context) ([]*rewards.Contributor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.Contributors(ctx)
}

func (m *Memory) SavePeriodSummary(ctx context.Context, s rewards.PeriodSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.SavePeriodSummary(ctx, s)
}

func (m *Memory) PeriodSummaries(ctx context.Context) ([]rewards.PeriodSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.PeriodSummaries(ctx)
}

// Events returns the append-only event store.
func (m *Memory) Events() generic.EventStore {
	return lockedEvents{m}
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(rewards.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(view{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	config       *rewards.PointsConfig
	contributors map[generic.Identity]*rewards.Contributor
	summaries    int
	events       int
	idempotency  map[string]bool
}

// snapshot copies the mutable records. Summaries and events are append-only,
// so remembering their lengths is enough to roll them back.
func (m *Memory) snapshot() memorySnapshot {
	contributors := make(map[generic.Identity]*rewards.Contributor, len(m.contributors))
	for id, c := range m.contributors {
		contributors[id] = c.Clone()
	}
	idempotency := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idempotency[k] = v
	}
	return memorySnapshot{
		config:       m.config.Clone(),
		contributors: contributors,
		summaries:    len(m.summaries),
		events:       len(m.events),
		idempotency:  idempotency,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.config = s.config
	m.contributors = s.contributors
	m.summaries = m.summaries[:s.summaries]
	m.events = m.events[:s.events]
	m.idempotency = s.idempotency
}

// view operates on the maps directly. The caller holds the lock.
type view struct {
	m *Memory
}

func (v view) Config(_ context.Context) (*rewards.PointsConfig, error) {
	if v.m.config == nil {
		return nil, generic.ErrNotInitialized
	}
	return v.m.config.Clone(), nil
}

func (v view) SaveConfig(_ context.Context, cfg *rewards.PointsConfig) error {
	v.m.config = cfg.Clone()
	return nil
}

func (v view) Contributor(_ context.Context, id generic.Identity) (*rewards.Contributor, error) {
	c, ok := v.m.contributors[id]
	if !ok {
		return nil, generic.ErrContributorNotFound
	}
	return c.Clone(), nil
}

func (v view) SaveContributor(_ context.Context, c *rewards.Contributor) error {
	v.m.contributors[c.ID] = c.Clone()
	return nil
}

func (v view) Contributors(_ context.Context) ([]*rewards.Contributor, error) {
	out := make([]*rewards.Contributor, 0, len(v.m.contributors))
	for _, c := range v.m.contributors {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) SavePeriodSummary(_ context.Context, s rewards.PeriodSummary) error {
	v.m.summaries = append(v.m.summaries, s)
	return nil
}

func (v view) PeriodSummaries(_ context.Context) ([]rewards.PeriodSummary, error) {
	return append([]rewards.PeriodSummary(nil), v.m.summaries...), nil
}

func (v view) Events() generic.EventStore {
	return unlockedEvents{v.m}
}

// =============================================================================
// EVENT STORE - Append-only
// =============================================================================

// unlockedEvents is the event store seen inside WithTx.
type unlockedEvents struct {
	m *Memory
}

func (e unlockedEvents) Append(_ context.Context, evt generic.Event) error {
	return e.m.appendLocked(evt)
}

func (e unlockedEvents) AppendBatch(_ context.Context, evts []generic.Event) error {
	return e.m.appendBatchLocked(evts)
}

func (e unlockedEvents) Query(_ context.Context, filter generic.EventFilter) ([]generic.Event, error) {
	return e.m.queryLocked(filter), nil
}

func (e unlockedEvents) Exists(_ context.Context, key string) (bool, error) {
	return e.m.idempotency[key], nil
}

// lockedEvents takes the store lock on every call.
type lockedEvents struct {
	m *Memory
}

func (e lockedEvents) Append(_ context.Context, evt generic.Event) error {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	return e.m.appendLocked(evt)
}

func (e lockedEvents) AppendBatch(_ context.Context, evts []generic.Event) error {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	return e.m.appendBatchLocked(evts)
}

func (e lockedEvents) Query(_ context.Context, filter generic.EventFilter) ([]generic.Event, error) {
	e.m.mu.RLock()
	defer e.m.mu.RUnlock()
	return e.m.queryLocked(filter), nil
}

func (e lockedEvents) Exists(_ context.Context, key string) (bool, error) {
	e.m.mu.RLock()
	defer e.m.mu.RUnlock()
	return e.m.idempotency[key], nil
}

func (m *Memory) appendLocked(evt generic.Event) error {
	if evt.IdempotencyKey != "" {
		if m.idempotency[evt.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		m.idempotency[evt.IdempotencyKey] = true
	}
	m.events = append(m.events, cloneEvent(evt))
	return nil
}

func (m *Memory) appendBatchLocked(evts []generic.Event) error {
	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool)
	for _, evt := range evts {
		if evt.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[evt.IdempotencyKey] || seen[evt.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[evt.IdempotencyKey] = true
	}
	for _, evt := range evts {
		if err := m.appendLocked(evt); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) queryLocked(filter generic.EventFilter) []generic.Event {
	var out []generic.Event
	for _, evt := range m.events {
		if !filter.Match(evt) {
			continue
		}
		out = append(out, cloneEvent(evt))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

func cloneEvent(evt generic.Event) generic.Event {
	if evt.Attributes != nil {
		attrs := make(map[string]string, len(evt.Attributes))
		for k, v := range evt.Attributes {
			attrs[k] = v
		}
		evt.Attributes = attrs
	}
	return evt
}

// =============================================================================
// PAYOUT OUTBOX
// =============================================================================

// Transfer records a pending payout.
func (m *Memory) Transfer(_ context.Context, to generic.Identity, tokens uint64, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payouts = append(m.payouts, rewards.Payout{
		ID:        uuid.NewString(),
		Recipient: to,
		Tokens:    tokens,
		Reference: reference,
		Status:    rewards.PayoutPending,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Payouts returns recorded payouts in request order.
func (m *Memory) Payouts(_ context.Context) ([]rewards.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]rewards.Payout(nil), m.payouts...), nil
}
