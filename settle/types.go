/*
Package settle is the ledger and settlement engine.

PURPOSE:
  Records shared-expense payments, derives each member's net position, and
  reduces those positions to a short list of person-to-person transfers that
  clears the group's debts. The surrounding HTTP/storage layers are thin
  clients of this package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Member:   Opaque member identifier
  - Split:    One member's owed share of a single payment
  - Payment:  Immutable record of one expense and its obligations
  - Transfer: One payer-to-recipient leg of a settlement plan
  - Balances: Ordered member -> net-position mapping

DESIGN PRINCIPLES:
  1. Precision: All money is decimal.Decimal, never float64
  2. Purity: Balance computation and reduction are side-effect-free
  3. Determinism: Balances preserve first-appearance order so that
     settlement tie-breaks are stable across runs

SIGN CONVENTION:
  balance = owed via splits - credited as pledger
  Positive = net debtor (owes the group). Negative = net creditor.

SEE ALSO:
  - balance.go: Net balances from a replayed ledger
  - reduce.go:  Greedy settlement reduction
  - state.go:   Incremental pairwise cache
*/
package settle

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tolerance is the settlement epsilon: two balances closer than this are
// considered settled. One cent.
var Tolerance = decimal.New(1, -2)

// Member identifies one participant in a room. Opaque to the engine; the API
// layer uses UUIDs. The member set of a ledger only ever grows.
type Member string

// Split is one member's owed share of a single payment.
type Split struct {
	Debtor Member
	Amount decimal.Decimal
}

// Payment is an immutable record of one real-world expense. Pledger is who
// actually paid; Splits enumerate who owes how much of it.
//
// The engine does not require splits to sum to any stated total: each split
// is an independent obligation and the pledger's credit is the sum of the
// splits. Imbalanced ledgers converge on a common non-zero residual instead
// of zero (see reduce.go).
type Payment struct {
	ID      string
	Pledger Member
	Splits  []Split
	Date    time.Time
	Label   string
}

// Amount returns the payment's total: the sum of its split amounts. This is
// the amount credited to the pledger.
func (p Payment) Amount() decimal.Decimal {
	total := decimal.Zero
	for _, s := range p.Splits {
		total = total.Add(s.Amount)
	}
	return total
}

// Transfer is one leg of a settlement plan: Payer (a net debtor) pays Amount
// to Recipient (a net creditor). Amount is always strictly positive.
type Transfer struct {
	Payer     Member
	Recipient Member
	Amount    decimal.Decimal
}

// =============================================================================
// BALANCES - ordered member -> net position mapping
// =============================================================================

// Balances maps members to net positions while preserving the order in which
// members were first seen. The order is what makes settlement tie-breaks
// deterministic: when several members share the maximum (or minimum) balance,
// the first-seen one wins.
type Balances struct {
	order []Member
	vals  map[Member]decimal.Decimal
}

// NewBalances returns an empty Balances.
func NewBalances() Balances {
	return Balances{vals: make(map[Member]decimal.Decimal)}
}

// Members returns members in first-appearance order. The slice is shared;
// callers must not mutate it.
func (b Balances) Members() []Member {
	return b.order
}

// Len returns the number of members.
func (b Balances) Len() int {
	return len(b.order)
}

// Get returns the member's balance, zero if unseen.
func (b Balances) Get(m Member) decimal.Decimal {
	return b.vals[m]
}

// Set assigns the member's balance, registering the member if unseen.
func (b *Balances) Set(m Member, v decimal.Decimal) {
	if _, ok := b.vals[m]; !ok {
		b.order = append(b.order, m)
	}
	b.vals[m] = v
}

// Add adds v to the member's balance, registering the member if unseen.
func (b *Balances) Add(m Member, v decimal.Decimal) {
	b.Set(m, b.Get(m).Add(v))
}

// Merge registers every given member with a zero balance if unseen. Used to
// seed inactive room members before settlement.
func (b *Balances) Merge(members []Member) {
	for _, m := range members {
		if _, ok := b.vals[m]; !ok {
			b.Set(m, decimal.Zero)
		}
	}
}

// Sum returns the global residual. Zero for a balanced ledger; an imbalanced
// ledger (splits exceeding or undercutting what anyone fronted) yields a
// non-zero residual, which is accepted, not an error.
func (b Balances) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, m := range b.order {
		total = total.Add(b.vals[m])
	}
	return total
}

// Clone returns an independent copy.
func (b Balances) Clone() Balances {
	c := Balances{
		order: make([]Member, len(b.order)),
		vals:  make(map[Member]decimal.Decimal, len(b.vals)),
	}
	copy(c.order, b.order)
	for m, v := range b.vals {
		c.vals[m] = v
	}
	return c
}
