/*
Package room exposes the settlement engine per room.

PURPOSE:
  Owns one running state per room and serializes every mutation against it
  (single-writer-per-room discipline). The HTTP layer calls these operations;
  the settle package does the arithmetic; the Store persists the ledger and
  the serialized state.

CONCURRENCY MODEL:
  The settle package is pure and re-entrant; the one shared mutable resource
  is a room's running state. Each room carries its own RWMutex:
  - RecordPayment / DeletePayment / ImportState / Rebuild take the write lock
  - Balances / SettlementPlan / ExportState / CheckConsistency take the read
    lock (they only Collapse or Clone)
  Nothing here blocks on I/O while holding another room's lock, and there is
  no cross-room operation, so lock ordering is trivial.

FAILURE SEMANTICS:
  Every operation validates before mutating: a failed call leaves both the
  running state and the stored ledger as they were. Drift between the two is
  only ever reported by CheckConsistency, never corrected silently; Rebuild
  is the explicit remedy.
*/
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fannypack/ledger-engine/settle"
)

// Engine coordinates rooms, their ledgers, and their running states.
type Engine struct {
	store Store
	log   *slog.Logger

	mu    sync.Mutex
	rooms map[string]*roomState
}

// roomState is the exclusively-owned running state of one room.
type roomState struct {
	mu    sync.RWMutex
	state *settle.State
}

// NewEngine creates an engine on top of the given store.
func NewEngine(store Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store: store,
		log:   log,
		rooms: make(map[string]*roomState),
	}
}

// PaymentResult is what mutating calls hand back for display: the payment
// involved plus the room's fresh balances and settlement plan.
type PaymentResult struct {
	Payment   settle.Payment
	Balances  settle.Balances
	Transfers []settle.Transfer
}

// =============================================================================
// ROOM MANAGEMENT
// =============================================================================

// CreateRoom creates a room with an empty ledger and an empty running state.
func (e *Engine) CreateRoom(ctx context.Context, name string) (Room, error) {
	r := Room{
		ID:          uuid.NewString(),
		Name:        name,
		TotalVolume: decimal.Zero,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateRoom(ctx, r); err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}

	e.mu.Lock()
	e.rooms[r.ID] = &roomState{state: settle.NewState()}
	e.mu.Unlock()

	e.log.Info("room created", "room_id", r.ID, "name", name)
	return r, nil
}

// GetRoom returns a room record.
func (e *Engine) GetRoom(ctx context.Context, roomID string) (Room, error) {
	return e.store.GetRoom(ctx, roomID)
}

// ListRooms returns all rooms.
func (e *Engine) ListRooms(ctx context.Context) ([]Room, error) {
	return e.store.ListRooms(ctx)
}

// AddMember registers a member with a room and grows the running state. The
// member starts with a zero balance.
func (e *Engine) AddMember(ctx context.Context, roomID string, m settle.Member) error {
	rs, err := e.roomFor(ctx, roomID)
	if err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if err := e.store.AddMember(ctx, roomID, m); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	rs.state.AddMember(m)
	return e.saveState(ctx, roomID, rs.state)
}

// Members returns the room's member set in join order.
func (e *Engine) Members(ctx context.Context, roomID string) ([]settle.Member, error) {
	return e.store.Members(ctx, roomID)
}

// =============================================================================
// LEDGER OPERATIONS
// =============================================================================

// RecordPayment validates and appends a ledger entry, applies it to the
// running state, persists the state, and returns fresh balances and the
// updated settlement plan.
//
// Unseen members are auto-added to the room (the default policy; strict
// callers can pre-check with Members).
func (e *Engine) RecordPayment(ctx context.Context, roomID string, pledger settle.Member, splits []settle.Split, date time.Time, label string) (PaymentResult, error) {
	if pledger == "" {
		return PaymentResult{}, fmt.Errorf("record payment: %w: empty pledger", settle.ErrUnknownMember)
	}
	if err := settle.ValidateSplits(splits); err != nil {
		return PaymentResult{}, fmt.Errorf("record payment: %w", err)
	}

	rs, err := e.roomFor(ctx, roomID)
	if err != nil {
		return PaymentResult{}, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	p := settle.Payment{
		ID:      uuid.NewString(),
		Pledger: pledger,
		Splits:  splits,
		Date:    date,
		Label:   label,
	}

	// Persist the ledger entry first: the running state is rebuildable from
	// the ledger, never the other way around.
	if err := e.store.AppendPayment(ctx, roomID, p); err != nil {
		return PaymentResult{}, fmt.Errorf("append payment: %w", err)
	}
	if err := e.registerMembers(ctx, roomID, rs.state, p); err != nil {
		return PaymentResult{}, err
	}
	if err := rs.state.ApplyPayment(p.Pledger, p.Splits); err != nil {
		return PaymentResult{}, fmt.Errorf("apply payment: %w", err)
	}
	if err := e.saveState(ctx, roomID, rs.state); err != nil {
		return PaymentResult{}, err
	}
	if err := e.adjustVolume(ctx, roomID, p.Amount().Abs()); err != nil {
		return PaymentResult{}, err
	}

	e.log.Info("payment recorded",
		"room_id", roomID, "payment_id", p.ID,
		"pledger", p.Pledger, "amount", p.Amount(), "splits", len(p.Splits))

	return e.resultLocked(ctx, roomID, rs, p)
}

// DeletePayment undoes a ledger entry: the inverse payment is applied to the
// running state, the original row is removed, and fresh balances come back.
// The synthetic inverse is never persisted.
func (e *Engine) DeletePayment(ctx context.Context, roomID, paymentID string) (PaymentResult, error) {
	rs, err := e.roomFor(ctx, roomID)
	if err != nil {
		return PaymentResult{}, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	p, err := e.store.GetPayment(ctx, roomID, paymentID)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("delete payment: %w", err)
	}

	if err := settle.ReversePayment(rs.state, p); err != nil {
		return PaymentResult{}, fmt.Errorf("reverse payment: %w", err)
	}
	if err := e.store.DeletePayment(ctx, roomID, paymentID); err != nil {
		return PaymentResult{}, fmt.Errorf("delete payment: %w", err)
	}
	if err := e.saveState(ctx, roomID, rs.state); err != nil {
		return PaymentResult{}, err
	}
	if err := e.adjustVolume(ctx, roomID, p.Amount().Abs().Neg()); err != nil {
		return PaymentResult{}, err
	}

	e.log.Info("payment deleted", "room_id", roomID, "payment_id", paymentID)
	return e.resultLocked(ctx, roomID, rs, p)
}

// Payments returns the room's ledger in replay order.
func (e *Engine) Payments(ctx context.Context, roomID string) ([]settle.Payment, error) {
	if _, err := e.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return e.store.Payments(ctx, roomID)
}

// =============================================================================
// DERIVED VIEWS
// =============================================================================

// Balances collapses the running state, merged with the room's member set so
// inactive members show a zero balance.
func (e *Engine) Balances(ctx context.Context, roomID string) (settle.Balances, error) {
	rs, err := e.roomFor(ctx, roomID)
	if err != nil {
		return settle.Balances{}, err
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return e.balancesLocked(ctx, roomID, rs)
}

// SettlementPlan reduces the room's balances to an ordered transfer list.
func (e *Engine) SettlementPlan(ctx context.Context, roomID string) ([]settle.Transfer, error) {
	balances, err := e.Balances(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return settle.Reduce(balances), nil
}

// BiggestPledger returns the member the group owes the most: the most
// negative balance. Empty when nobody is a net creditor.
func (e *Engine) BiggestPledger(ctx context.Context, roomID string) (settle.Member, error) {
	balances, err := e.Balances(ctx, roomID)
	if err != nil {
		return "", err
	}

	var biggest settle.Member
	lowest := decimal.Zero
	for _, m := range balances.Members() {
		if v := balances.Get(m); v.LessThan(lowest) {
			biggest, lowest = m, v
		}
	}
	return biggest, nil
}

// =============================================================================
// STATE EXPORT / IMPORT / CONSISTENCY
// =============================================================================

// ExportState serializes the room's running state for external persistence.
func (e *Engine) ExportState(ctx context.Context, roomID string) ([]byte, error) {
	rs, err := e.roomFor(ctx, roomID)
	if err != nil {
		return nil, err
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return json.Marshal(rs.state)
}

// ImportState replaces the room's running state with a previously exported
// blob. The blob's members are registered with the room.
func (e *Engine) ImportState(ctx context.Context, roomID string, blob []byte) error {
	rs, err := e.roomFor(ctx, roomID)
	if err != nil {
		return err
	}

	imported := settle.NewState()
	if err := json.Unmarshal(blob, imported); err != nil {
		return fmt.Errorf("import state: %w", err)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, m := range imported.Members() {
		if err := e.store.AddMember(ctx, roomID, m); err != nil {
			return fmt.Errorf("import state: %w", err)
		}
	}
	rs.state = imported
	return e.saveState(ctx, roomID, rs.state)
}

// CheckConsistency compares the collapsed running state against a full
// recomputation from the ledger. Disagreement beyond settle.Tolerance is
// reported as a DriftError, never corrected here; Rebuild is the remedy.
func (e *Engine) CheckConsistency(ctx context.Context, roomID string) error {
	rs, err := e.roomFor(ctx, roomID)
	if err != nil {
		return err
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	payments, err := e.store.Payments(ctx, roomID)
	if err != nil {
		return err
	}

	recomputed := settle.ComputeBalances(payments)
	cached := rs.state.Collapse()
	recomputed.Merge(cached.Members())
	cached.Merge(recomputed.Members())

	for _, m := range recomputed.Members() {
		diff := cached.Get(m).Sub(recomputed.Get(m)).Abs()
		if diff.GreaterThan(settle.Tolerance) {
			e.log.Warn("state drift detected",
				"room_id", roomID, "member", m,
				"cached", cached.Get(m), "ledger", recomputed.Get(m))
			return &settle.DriftError{
				Member:     m,
				Cached:     cached.Get(m),
				Recomputed: recomputed.Get(m),
			}
		}
	}
	return nil
}

// Rebuild recomputes the running state from the ledger. The always-correct
// (and more expensive) remedy for drift after reversals.
func (e *Engine) Rebuild(ctx context.Context, roomID string) error {
	rs, err := e.roomFor(ctx, roomID)
	if err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	rebuilt, err := e.buildFromLedger(ctx, roomID)
	if err != nil {
		return err
	}
	rs.state = rebuilt

	e.log.Info("state rebuilt from ledger", "room_id", roomID)
	return e.saveState(ctx, roomID, rs.state)
}

// =============================================================================
// INTERNAL
// =============================================================================

// roomFor returns the cached per-room state, loading or rebuilding it on
// first access.
func (e *Engine) roomFor(ctx context.Context, roomID string) (*roomState, error) {
	if _, err := e.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	rs, ok := e.rooms[roomID]
	if !ok {
		rs = &roomState{}
		e.rooms[roomID] = rs
	}
	e.mu.Unlock()

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.state != nil {
		return rs, nil
	}

	blob, err := e.store.LoadState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		state, err := e.buildFromLedger(ctx, roomID)
		if err != nil {
			return nil, err
		}
		rs.state = state
		return rs, nil
	}

	state := settle.NewState()
	if err := json.Unmarshal(blob, state); err != nil {
		return nil, fmt.Errorf("load state for room %s: %w", roomID, err)
	}
	rs.state = state
	return rs, nil
}

func (e *Engine) buildFromLedger(ctx context.Context, roomID string) (*settle.State, error) {
	payments, err := e.store.Payments(ctx, roomID)
	if err != nil {
		return nil, err
	}
	state, err := settle.StateFromPayments(payments)
	if err != nil {
		return nil, fmt.Errorf("rebuild room %s: %w", roomID, err)
	}

	// Inactive members are part of the room even without payments.
	members, err := e.store.Members(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		state.AddMember(m)
	}
	return state, nil
}

// registerMembers persists membership rows for any member the payment
// introduces.
func (e *Engine) registerMembers(ctx context.Context, roomID string, state *settle.State, p settle.Payment) error {
	add := func(m settle.Member) error {
		if state.Has(m) {
			return nil
		}
		if err := e.store.AddMember(ctx, roomID, m); err != nil {
			return fmt.Errorf("register member %s: %w", m, err)
		}
		return nil
	}
	if err := add(p.Pledger); err != nil {
		return err
	}
	for _, s := range p.Splits {
		if err := add(s.Debtor); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) saveState(ctx context.Context, roomID string, state *settle.State) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := e.store.SaveState(ctx, roomID, blob); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (e *Engine) adjustVolume(ctx context.Context, roomID string, delta decimal.Decimal) error {
	r, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	return e.store.SetTotalVolume(ctx, roomID, r.TotalVolume.Add(delta))
}

// balancesLocked assumes the caller holds at least the room's read lock.
func (e *Engine) balancesLocked(ctx context.Context, roomID string, rs *roomState) (settle.Balances, error) {
	members, err := e.store.Members(ctx, roomID)
	if err != nil {
		return settle.Balances{}, err
	}
	balances := rs.state.Collapse()
	balances.Merge(members)
	return balances, nil
}

// resultLocked assumes the caller holds the room's write lock.
func (e *Engine) resultLocked(ctx context.Context, roomID string, rs *roomState, p settle.Payment) (PaymentResult, error) {
	balances, err := e.balancesLocked(ctx, roomID, rs)
	if err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{
		Payment:   p,
		Balances:  balances,
		Transfers: settle.Reduce(balances),
	}, nil
}
