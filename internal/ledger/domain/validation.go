package domain

// ValidateAmount rejects non-positive mutation amounts before they reach
// the database.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateConserved checks that a slice of transactions nets out to the
// given balance when applied to the starting balance.
func ValidateConserved(start int64, txs []CreditTransaction, final int64) bool {
	balance := start
	for _, tx := range txs {
		balance += tx.CreditsAdded - tx.CreditsConsumed
	}
	return balance == final
}
