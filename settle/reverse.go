/*
reverse.go - Exact reversal of a past payment

PURPOSE:
  Undoes a payment's effect on a running state without replaying the whole
  ledger. The inverse swaps pledger and debtor roles per split: each original
  debtor now credits the same amount back to the original pledger.

THE INVERSE IS SYNTHETIC:
  It mutates the running state and is never persisted as a ledger entry.
  Deletion removes the original payment row; the inverse exists only in the
  table's cells.

KNOWN LIMITATION (documented, not silently fixed):
  The inverse cancels the original at the COLLAPSED level, not cell by cell.
  A state that has been through matrix-level consolidation can therefore end
  up with different cells than one rebuilt from the remaining ledger, even
  though both collapse to the same balances. Callers that need the exact
  post-deletion table should rebuild from the ledger instead (the room
  package exposes that as an explicit operation).
*/
package settle

// Invert returns the synthetic inverse of a payment: one payment per split,
// each pledged by the original debtor with the original pledger as sole
// debtor. Applying all of them cancels the original's effect on collapsed
// balances.
func Invert(p Payment) []Payment {
	inverses := make([]Payment, 0, len(p.Splits))
	for _, sp := range p.Splits {
		inverses = append(inverses, Payment{
			ID:      p.ID,
			Pledger: sp.Debtor,
			Splits:  []Split{{Debtor: p.Pledger, Amount: sp.Amount}},
			Date:    p.Date,
			Label:   p.Label,
		})
	}
	return inverses
}

// ReversePayment applies the inverse of p to the state. All splits are
// validated up front; a failing call leaves the state untouched.
func ReversePayment(state *State, p Payment) error {
	if err := ValidateSplits(p.Splits); err != nil {
		return err
	}
	for _, inv := range Invert(p) {
		if err := state.ApplyPayment(inv.Pledger, inv.Splits); err != nil {
			return err
		}
	}
	return nil
}
