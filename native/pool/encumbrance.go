package pool

import (
	"math/big"

	nativecommon "crossledger/native/common"
)

// Bucket returns a copy of the position's encumbrance record for reads.
// Mutations go through the engine's lock/unlock operations so every change is
// paired with the active-credit delta.
func (e *Engine) Bucket(key PositionKey) (*Encumbrance, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.ensurePosition(key)
	if err != nil {
		return nil, err
	}
	return position.Encumbrance.Clone(), nil
}

// LockCollateral commits free principal into the DirectLocked bucket.
func (e *Engine) LockCollateral(key PositionKey, amount *big.Int) error {
	return e.adjustEncumbrance(key, amount, false, func(enc *Encumbrance, amt *big.Int) error {
		enc.DirectLocked = new(big.Int).Add(enc.DirectLocked, amt)
		return nil
	})
}

// UnlockCollateral releases locked collateral. Unlocking more than is locked
// signals an accounting defect and aborts.
func (e *Engine) UnlockCollateral(key PositionKey, amount *big.Int) error {
	return e.adjustEncumbrance(key, amount, false, func(enc *Encumbrance, amt *big.Int) error {
		return decrementBucket(&enc.DirectLocked, amt)
	})
}

// EscrowOffer reserves free principal behind an open lending offer. Escrowed
// principal earns no active credit until it is actually lent.
func (e *Engine) EscrowOffer(key PositionKey, amount *big.Int) error {
	return e.adjustEncumbrance(key, amount, false, func(enc *Encumbrance, amt *big.Int) error {
		enc.DirectOfferEscrow = new(big.Int).Add(enc.DirectOfferEscrow, amt)
		return nil
	})
}

// ReleaseOffer returns escrowed offer principal to the free balance.
func (e *Engine) ReleaseOffer(key PositionKey, amount *big.Int) error {
	return e.adjustEncumbrance(key, amount, false, func(enc *Encumbrance, amt *big.Int) error {
		return decrementBucket(&enc.DirectOfferEscrow, amt)
	})
}

// LendFromEscrow converts escrowed offer principal into lent-out principal
// when an offer is accepted, moving the amount into active-credit weight.
func (e *Engine) LendFromEscrow(key PositionKey, amount *big.Int) error {
	return e.adjustEncumbrance(key, amount, false, func(enc *Encumbrance, amt *big.Int) error {
		if err := decrementBucket(&enc.DirectOfferEscrow, amt); err != nil {
			return err
		}
		enc.DirectLent = new(big.Int).Add(enc.DirectLent, amt)
		return nil
	})
}

// LendDirect commits free principal as lent-out without an escrow stage,
// used by atomic desk settlements.
func (e *Engine) LendDirect(key PositionKey, amount *big.Int) error {
	return e.adjustEncumbrance(key, amount, false, func(enc *Encumbrance, amt *big.Int) error {
		enc.DirectLent = new(big.Int).Add(enc.DirectLent, amt)
		return nil
	})
}

// RecoverLent releases lent-out principal back to the free balance on
// repayment or settlement.
func (e *Engine) RecoverLent(key PositionKey, amount *big.Int) error {
	return e.adjustEncumbrance(key, amount, false, func(enc *Encumbrance, amt *big.Int) error {
		return decrementBucket(&enc.DirectLent, amt)
	})
}

// ReserveForAuction commits free principal into the auction reserve bucket.
// Reserves carry no active-credit weight until filled.
func (e *Engine) ReserveForAuction(key PositionKey, amount *big.Int) error {
	return e.adjustEncumbrance(key, amount, false, func(enc *Encumbrance, amt *big.Int) error {
		enc.AuctionReserve = new(big.Int).Add(enc.AuctionReserve, amt)
		return nil
	})
}

// ReleaseAuctionReserve frees reserved auction principal.
func (e *Engine) ReleaseAuctionReserve(key PositionKey, amount *big.Int) error {
	return e.adjustEncumbrance(key, amount, false, func(enc *Encumbrance, amt *big.Int) error {
		return decrementBucket(&enc.AuctionReserve, amt)
	})
}

// RestoreAuctionReserve is the best-effort unwind used when a refund returns
// reserve capacity. It clamps the restored amount to what the position's free
// principal can still back instead of failing, so the refund itself never
// aborts. Every other bucket mutation treats an out-of-range change as fatal.
func (e *Engine) RestoreAuctionReserve(key PositionKey, amount *big.Int) (*big.Int, error) {
	restored := new(big.Int)
	err := e.adjustEncumbrance(key, amount, true, func(enc *Encumbrance, amt *big.Int) error {
		restored.Set(amt)
		enc.AuctionReserve = new(big.Int).Add(enc.AuctionReserve, amt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

func (e *Engine) adjustEncumbrance(key PositionKey, amount *big.Int, clampToFree bool, apply func(*Encumbrance, *big.Int) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	p, err := e.ensurePool()
	if err != nil {
		return err
	}
	position, err := e.ensurePosition(key)
	if err != nil {
		return err
	}
	settleFees(p, position)

	applied := new(big.Int).Set(amount)
	if clampToFree {
		free := new(big.Int).Sub(position.Principal, position.Encumbrance.Total())
		if free.Sign() < 0 {
			free = big.NewInt(0)
		}
		if applied.Cmp(free) > 0 {
			applied = free
		}
		if applied.Sign() == 0 {
			return e.state.PutPosition(e.poolID, position)
		}
	}

	// Apply against a copy so a rejected change never leaks through state
	// implementations that hand out live references.
	oldWeight := position.Encumbrance.ActiveCreditWeight()
	updated := position.Encumbrance.Clone()
	if err := apply(updated, applied); err != nil {
		return err
	}
	total := updated.Total()
	if total.Cmp(position.Principal) > 0 {
		return insufficientPrincipal(total, position.Principal)
	}
	position.Encumbrance = updated
	newWeight := updated.ActiveCreditWeight()
	if newWeight.Cmp(oldWeight) != 0 {
		applyTrackDelta(p, position.EncumbranceTrack, position, newWeight, e.now(), e.cfg.TimeGateSeconds)
		publishActiveCreditTotal(p)
	}

	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return err
	}
	return e.state.PutPool(e.poolID, p)
}

func decrementBucket(bucket **big.Int, amount *big.Int) error {
	current := *bucket
	if current == nil {
		current = big.NewInt(0)
	}
	if current.Cmp(amount) < 0 {
		return insufficientPrincipal(amount, current)
	}
	*bucket = new(big.Int).Sub(current, amount)
	return nil
}
