/*
state.go - Incremental pairwise cache (RunningState)

PURPOSE:
  Lets a room apply payments one at a time without replaying its whole
  ledger. The State is an n x n table of cumulative signed amounts between
  every ordered pair of members, plus a diagonal self-adjustment cell per
  member. Collapsing the table reproduces exactly what ComputeBalances
  derives from the full ledger; that equivalence is a tested property, not
  an assumption.

TABLE SEMANTICS:
  For a payment by pledger P with split (debtor D, amount a):
    cell(D, P) += a    the obligation from D toward P
    cell(D, D) -= a    D's self-adjustment
  A member's net position is the negated sum of its column.

LIFECYCLE:
  Created empty for a new room, grown (zero row+column) when an unseen
  member appears, mutated on every payment and reversal, serialized after
  each mutation, never shrunk.

CONCURRENCY:
  State itself is not goroutine-safe. The owning room serializes all writes
  (see the room package); reads may share a lock with each other but never
  with a write.

SEE ALSO:
  - balance.go: The canonical balance definition this cache must match
  - reverse.go: Applies inverse payments to undo a ledger entry
*/
package settle

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// State is the incremental pairwise cache for one room. Rows are keyed by
// debtor, columns by counterparty; missing cells are zero.
type State struct {
	order []Member
	cells map[Member]map[Member]decimal.Decimal
}

// NewState returns an empty state.
func NewState() *State {
	return &State{cells: make(map[Member]map[Member]decimal.Decimal)}
}

// NewStateWithMembers returns a state pre-seeded with the given members.
func NewStateWithMembers(members []Member) *State {
	s := NewState()
	for _, m := range members {
		s.AddMember(m)
	}
	return s
}

// StateFromPayments rebuilds a state by replaying a ledger from scratch.
// Payments must be in ledger order.
func StateFromPayments(payments []Payment) (*State, error) {
	s := NewState()
	for _, p := range payments {
		if err := s.ApplyPayment(p.Pledger, p.Splits); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Members returns the state's members in first-appearance order. The slice
// is shared; callers must not mutate it.
func (s *State) Members() []Member {
	return s.order
}

// Has reports whether the member is part of the state.
func (s *State) Has(m Member) bool {
	_, ok := s.cells[m]
	return ok
}

// AddMember grows the table with a zero row and column for m. Idempotent.
// Members are never removed: the table only ever grows.
func (s *State) AddMember(m Member) {
	if s.Has(m) {
		return
	}
	s.order = append(s.order, m)
	s.cells[m] = map[Member]decimal.Decimal{m: decimal.Zero}
}

// ApplyPayment records one payment incrementally: for every split, the
// obligation cell (debtor, pledger) grows by the split amount and the
// debtor's diagonal shrinks by the same amount. Unseen members are added
// automatically.
//
// All splits are validated before any cell is written: a failing call
// leaves the state untouched.
func (s *State) ApplyPayment(pledger Member, splits []Split) error {
	if err := ValidateSplits(splits); err != nil {
		return err
	}
	s.AddMember(pledger)
	for _, sp := range splits {
		s.AddMember(sp.Debtor)
	}
	for _, sp := range splits {
		s.addCell(sp.Debtor, pledger, sp.Amount)
		s.addCell(sp.Debtor, sp.Debtor, sp.Amount.Neg())
	}
	return nil
}

// ApplyPaymentStrict is ApplyPayment without auto-growth: every referenced
// member must already be part of the state.
func (s *State) ApplyPaymentStrict(pledger Member, splits []Split) error {
	if err := ValidateSplits(splits); err != nil {
		return err
	}
	if !s.Has(pledger) {
		return &UnknownMemberError{Member: pledger}
	}
	for _, sp := range splits {
		if !s.Has(sp.Debtor) {
			return &UnknownMemberError{Member: sp.Debtor}
		}
	}
	for _, sp := range splits {
		s.addCell(sp.Debtor, pledger, sp.Amount)
		s.addCell(sp.Debtor, sp.Debtor, sp.Amount.Neg())
	}
	return nil
}

func (s *State) addCell(row, col Member, v decimal.Decimal) {
	s.cells[row][col] = s.cells[row][col].Add(v)
}

// ValidateSplits rejects negative split amounts. Decimal arithmetic cannot
// produce NaN or infinities, so negativity is the only value check needed.
func ValidateSplits(splits []Split) error {
	for _, sp := range splits {
		if sp.Amount.IsNegative() {
			return &InvalidAmountError{Debtor: sp.Debtor, Amount: sp.Amount}
		}
	}
	return nil
}

// Collapse sums the table into per-member net positions. The result equals
// ComputeBalances over the ledger the state was built from, member order
// included.
func (s *State) Collapse() Balances {
	balances := NewBalances()
	for _, m := range s.order {
		balances.Set(m, decimal.Zero)
	}
	for _, row := range s.order {
		for col, v := range s.cells[row] {
			balances.Add(col, v.Neg())
		}
	}
	return balances
}

// Clone returns an independent deep copy.
func (s *State) Clone() *State {
	c := NewState()
	c.order = make([]Member, len(s.order))
	copy(c.order, s.order)
	for row, cols := range s.cells {
		dst := make(map[Member]decimal.Decimal, len(cols))
		for col, v := range cols {
			dst[col] = v
		}
		c.cells[row] = dst
	}
	return c
}

// Equal reports whether two states carry the same members and the same cell
// values, treating missing cells as zero.
func (s *State) Equal(other *State) bool {
	if len(s.cells) != len(other.cells) {
		return false
	}
	for row := range s.cells {
		if _, ok := other.cells[row]; !ok {
			return false
		}
	}
	for _, row := range s.order {
		for _, col := range s.order {
			if !s.cells[row][col].Equal(other.cells[row][col]) {
				return false
			}
		}
	}
	return true
}

// =============================================================================
// SERIALIZATION - map of maps of decimal strings, missing cells are zero
// =============================================================================

// MarshalJSON serializes the table as {"row": {"col": "amount", ...}, ...}.
// Every member's row is present (possibly holding only its diagonal), so
// membership survives a round-trip even for inactive members.
func (s *State) MarshalJSON() ([]byte, error) {
	out := make(map[Member]map[Member]string, len(s.cells))
	for row, cols := range s.cells {
		r := make(map[Member]string, len(cols))
		for col, v := range cols {
			r[col] = v.String()
		}
		out[row] = r
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a serialized table. Member order is rebuilt by
// sorting identifiers; order only affects settlement tie-breaks, never the
// balances themselves.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw map[Member]map[Member]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	restored := NewState()
	names := make([]Member, 0, len(raw))
	for row := range raw {
		names = append(names, row)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, m := range names {
		restored.AddMember(m)
	}

	for _, row := range names {
		for col, str := range raw[row] {
			v, err := decimal.NewFromString(str)
			if err != nil {
				return fmt.Errorf("cell (%s, %s): %w", row, col, ErrInvalidAmount)
			}
			restored.AddMember(col)
			restored.cells[row][col] = v
		}
	}

	*s = *restored
	return nil
}
