package loans

import (
	"math/big"

	"crossledger/native/pool"
)

// Offer is an open bilateral lending offer. The offered principal sits in the
// lender's DirectOfferEscrow bucket until the offer is accepted or cancelled.
type Offer struct {
	ID        [32]byte
	Lender    pool.PositionKey
	Amount    *big.Int
	CreatedAt uint64
}

// Loan is an accepted bilateral loan. The lender's escrow became DirectLent,
// the borrower locked collateral and carries the principal as bilateral debt.
type Loan struct {
	ID         [32]byte
	OfferID    [32]byte
	Lender     pool.PositionKey
	Borrower   pool.PositionKey
	Principal  *big.Int
	Collateral *big.Int
	StartedAt  uint64
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Amount != nil {
		clone.Amount = new(big.Int).Set(o.Amount)
	}
	return &clone
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Principal != nil {
		clone.Principal = new(big.Int).Set(l.Principal)
	}
	if l.Collateral != nil {
		clone.Collateral = new(big.Int).Set(l.Collateral)
	}
	return &clone
}
