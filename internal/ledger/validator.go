package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateBatchOutcome checks that applying batch on top of the committed
// balances leaves every holder account non-negative.
func (v *InvariantValidator) ValidateBatchOutcome(batch *Batch) error {
	delta := make(map[AccountKey]int64)
	for _, j := range batch.Journals {
		delta[j.DebitAccount] += j.Amount
		delta[j.CreditAccount] -= j.Amount
	}

	for key, d := range delta {
		if key.Scope != AccountScopeHolder {
			continue
		}
		if after := v.tracker.GetBalance(key) + d; after < 0 {
			return fmt.Errorf("account %s would go negative: %d", key.AccountPath(), after)
		}
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum per mint
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for mint, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", mint, total)
		}
	}

	return nil
}
