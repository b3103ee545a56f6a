/*
reduce.go - Greedy settlement reduction

PURPOSE:
  Turns a balance mapping into an ordered list of transfers that settles the
  group. Repeatedly matches the largest debtor against the largest creditor
  until every balance sits within Tolerance of the common residual.

ALGORITHM (max-debtor/max-creditor matching):
  1. Fewer than two members -> nothing to settle
  2. Stop when max(balance) - min(balance) <= Tolerance. NOT "all zero":
     an imbalanced ledger converges on a shared non-zero residual, which is
     accepted behavior
  3. Payer = max balance, recipient = min balance; ties broken by first
     appearance in the balances' insertion order
  4. amount = min(payer.balance, -recipient.balance), rounded to 2 places
     with round-half-even
  5. Emit the transfer, apply it to the working copy, repeat

GUARANTEES:
  - At most n-1 transfers for n members (enforced as a hard loop bound)
  - Every emitted amount is strictly positive
  - Replaying the transfers drives every balance to within Tolerance of the
    common residual

NOT GUARANTEED:
  The globally minimal number of transfers. True minimization is a
  partition-style NP-hard problem; this is a bounded heuristic, and callers
  should treat the output as "a short plan", not "the shortest plan".

TERMINATION:
  The loop is explicitly bounded: the Tolerance cut-off absorbs rounding
  residue, a non-positive matched amount stops the loop (covers the
  degenerate single-nonzero-balance case, where no counterparty exists and
  the residual is surfaced as unresolved), and the n-1 cap backstops both.
*/
package settle

import "github.com/shopspring/decimal"

// Reduce computes a settlement plan for the given balances. The input is not
// modified.
func Reduce(balances Balances) []Transfer {
	if balances.Len() < 2 {
		return nil
	}

	working := balances.Clone()
	members := working.Members()

	var transfers []Transfer
	for len(transfers) < working.Len()-1 {
		payer, recipient := extremes(working, members)

		spread := working.Get(payer).Sub(working.Get(recipient))
		if spread.LessThanOrEqual(Tolerance) {
			break
		}

		amount := decimalMin(working.Get(payer), working.Get(recipient).Neg()).RoundBank(2)
		if !amount.IsPositive() {
			// Only one side of the market exists (e.g. a single non-zero
			// balance). No valid counterparty; leave the residual unresolved.
			break
		}

		transfers = append(transfers, Transfer{
			Payer:     payer,
			Recipient: recipient,
			Amount:    amount,
		})
		working.Set(payer, working.Get(payer).Sub(amount))
		working.Set(recipient, working.Get(recipient).Add(amount))
	}

	return transfers
}

// extremes returns the members with the maximum and minimum balances, first
// occurrence winning ties.
func extremes(b Balances, members []Member) (maxM, minM Member) {
	maxM, minM = members[0], members[0]
	for _, m := range members[1:] {
		if b.Get(m).GreaterThan(b.Get(maxM)) {
			maxM = m
		}
		if b.Get(m).LessThan(b.Get(minM)) {
			minM = m
		}
	}
	return maxM, minM
}

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
