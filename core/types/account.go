package types

import "math/big"

// Account holds the spendable balance for an external address. The ledger
// credits treasury payouts, withdrawals and yield claims here and debits
// deposits; everything else lives in per-pool position state.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// Clone returns a deep copy so callers cannot alias the stored balance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
