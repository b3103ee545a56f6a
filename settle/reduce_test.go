package settle_test

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fannypack/ledger-engine/settle"
)

func balancesOf(pairs ...any) settle.Balances {
	b := settle.NewBalances()
	for i := 0; i < len(pairs); i += 2 {
		b.Set(settle.Member(pairs[i].(string)), money(pairs[i+1].(float64)))
	}
	return b
}

func transfer(payer, recipient string, amount float64) settle.Transfer {
	return settle.Transfer{
		Payer:     settle.Member(payer),
		Recipient: settle.Member(recipient),
		Amount:    money(amount),
	}
}

func assertTransfers(t *testing.T, want, got []settle.Transfer) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Payer, got[i].Payer, "transfer %d payer", i)
		assert.Equal(t, want[i].Recipient, got[i].Recipient, "transfer %d recipient", i)
		assert.True(t, want[i].Amount.Equal(got[i].Amount),
			"transfer %d amount: want %s, got %s", i, want[i].Amount, got[i].Amount)
	}
}

// replay applies transfers to a copy of balances and returns the result.
func replay(balances settle.Balances, transfers []settle.Transfer) settle.Balances {
	out := balances.Clone()
	for _, tr := range transfers {
		out.Add(tr.Payer, tr.Amount.Neg())
		out.Add(tr.Recipient, tr.Amount)
	}
	return out
}

// =============================================================================
// SCENARIO TESTS
// =============================================================================

func TestReduce_TwoMemberEvenSplit(t *testing.T) {
	// GIVEN: A = -55 (creditor), B = 55 (debtor)
	// WHEN: Reducing
	// THEN: Single transfer B -> A of 55

	transfers := settle.Reduce(balancesOf("A", -55.0, "B", 55.0))
	assertTransfers(t, []settle.Transfer{transfer("B", "A", 55)}, transfers)
}

func TestReduce_ThreeMemberChain(t *testing.T) {
	// GIVEN: A fronted 110 for B; C is even
	// WHEN: Reducing
	// THEN: Single transfer B -> A of 110, C untouched

	transfers := settle.Reduce(balancesOf("A", -110.0, "B", 110.0, "C", 0.0))
	assertTransfers(t, []settle.Transfer{transfer("B", "A", 110)}, transfers)
}

func TestReduce_FourMemberMultiStep(t *testing.T) {
	// GIVEN: A=470, B=-360, C=40, D=-150
	// WHEN: Reducing
	// THEN: A->B 360, then A->D 110, then C->D 40, all balances zero

	balances := balancesOf("A", 470.0, "B", -360.0, "C", 40.0, "D", -150.0)
	transfers := settle.Reduce(balances)

	assertTransfers(t, []settle.Transfer{
		transfer("A", "B", 360),
		transfer("A", "D", 110),
		transfer("C", "D", 40),
	}, transfers)

	final := replay(balances, transfers)
	for _, m := range final.Members() {
		assert.True(t, final.Get(m).IsZero(), "member %s should be settled, got %s", m, final.Get(m))
	}
}

// =============================================================================
// EDGE CASES
// =============================================================================

func TestReduce_FewerThanTwoMembers(t *testing.T) {
	assert.Nil(t, settle.Reduce(settle.NewBalances()), "empty")
	assert.Nil(t, settle.Reduce(balancesOf("A", 100.0)), "single member")
}

func TestReduce_AlreadySettled(t *testing.T) {
	transfers := settle.Reduce(balancesOf("A", 0.0, "B", 0.0, "C", 0.0))
	assert.Empty(t, transfers)
}

func TestReduce_WithinTolerance(t *testing.T) {
	// GIVEN: Balances whose spread is exactly the one-cent tolerance
	// WHEN: Reducing
	// THEN: No transfer is emitted

	transfers := settle.Reduce(balancesOf("A", 0.01, "B", 0.0))
	assert.Empty(t, transfers)
}

func TestReduce_SingleNonzeroBalance(t *testing.T) {
	// GIVEN: Only one member holds a non-zero balance
	// WHEN: Reducing
	// THEN: No valid counterparty exists; the residual stays unresolved
	//       instead of looping or emitting a self-transfer

	transfers := settle.Reduce(balancesOf("A", 30.0, "B", 0.0, "C", 0.0))
	assert.Empty(t, transfers)
}

func TestReduce_ImbalancedResidualTerminates(t *testing.T) {
	// GIVEN: A globally imbalanced mapping (sum = 30)
	// WHEN: Reducing
	// THEN: The loop terminates, every emitted amount is positive, and no
	//       member is driven below its fair share of the residual

	balances := balancesOf("A", 30.0, "B", 10.0, "C", -10.0)
	transfers := settle.Reduce(balances)

	for _, tr := range transfers {
		assert.True(t, tr.Amount.IsPositive(), "amount must be positive, got %s", tr.Amount)
	}
	assert.LessOrEqual(t, len(transfers), balances.Len()-1)
}

func TestReduce_TieBreakFirstOccurrence(t *testing.T) {
	// GIVEN: A and B tied for the maximum balance, A inserted first
	// WHEN: Reducing
	// THEN: A is picked as payer before B

	transfers := settle.Reduce(balancesOf("A", 10.0, "B", 10.0, "C", -20.0))
	assertTransfers(t, []settle.Transfer{
		transfer("A", "C", 10),
		transfer("B", "C", 10),
	}, transfers)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	balances := balancesOf("A", 470.0, "B", -360.0, "C", 40.0, "D", -150.0)
	_ = settle.Reduce(balances)

	assertBalance(t, balances, "A", 470)
	assertBalance(t, balances, "B", -360)
	assertBalance(t, balances, "C", 40)
	assertBalance(t, balances, "D", -150)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestReduce_ConvergesForBalancedMappings(t *testing.T) {
	cases := [][]any{
		{"A", 55.0, "B", -55.0},
		{"A", 470.0, "B", -360.0, "C", 40.0, "D", -150.0},
		{"A", 0.10, "B", 0.05, "C", -0.15},
		{"A", 123.45, "B", -23.45, "C", -100.0, "D", 0.0},
		{"A", 1.0, "B", 1.0, "C", 1.0, "D", -3.0},
		{"A", -2.5, "B", 5.0, "C", -2.5},
	}

	for i, c := range cases {
		c := c
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			balances := balancesOf(c...)
			transfers := settle.Reduce(balances)

			// Bounded transfer count
			assert.LessOrEqual(t, len(transfers), balances.Len()-1)

			// Every amount strictly positive
			for _, tr := range transfers {
				assert.True(t, tr.Amount.IsPositive())
			}

			// Replaying drives every balance to a common value within tolerance
			final := replay(balances, transfers)
			maxV := final.Get(final.Members()[0])
			minV := maxV
			for _, m := range final.Members() {
				v := final.Get(m)
				if v.GreaterThan(maxV) {
					maxV = v
				}
				if v.LessThan(minV) {
					minV = v
				}
			}
			assert.True(t, maxV.Sub(minV).LessThanOrEqual(settle.Tolerance),
				"spread %s exceeds tolerance", maxV.Sub(minV))
		})
	}
}

func TestTolerance_IsOneCent(t *testing.T) {
	assert.True(t, settle.Tolerance.Equal(decimal.RequireFromString("0.01")))
}
