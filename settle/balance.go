/*
balance.go - Net balances from a replayed ledger

PURPOSE:
  Pure computation of per-member net positions from the full payment history.
  This is the canonical definition of "balance"; the incremental cache in
  state.go must always collapse to the same numbers.

USED FOR:
  - Fresh computation when no cache exists
  - Validating the incremental cache (drift detection)

SEE ALSO:
  - state.go: Incremental equivalent, cell-by-cell
  - reduce.go: Turns balances into transfers
*/
package settle

// ComputeBalances replays payments in order and returns each member's net
// position: total owed via splits minus total credited as pledger.
//
// Pure and deterministic: same payments, same result. Members appear in
// first-appearance order (pledger before that payment's debtors). Members
// with no activity are absent; callers merge the room's member set if
// inactive members should show a zero balance.
func ComputeBalances(payments []Payment) Balances {
	balances := NewBalances()
	for _, p := range payments {
		balances.Add(p.Pledger, p.Amount().Neg())
		for _, s := range p.Splits {
			balances.Add(s.Debtor, s.Amount)
		}
	}
	return balances
}
