package pool

import (
	"math/big"

	nativecommon "crossledger/native/common"
	"crossledger/observability/metrics"
)

// RouteResult reports how a routed fee amount was split. Every part is fully
// disposed of inside RouteSamePool: the treasury share is paid out and the
// other two are injected into their indexes in the same call, never deferred.
type RouteResult struct {
	ToTreasury     *big.Int
	ToActiveCredit *big.Int
	ToFeeIndex     *big.Int
}

// RouteSamePool splits an accrued fee amount three ways by the configured
// basis-point shares: the treasury share first, then the remainder between
// the active-credit and fee-index shares, with the rounding remainder
// attached to the fee-index part so nothing is dropped.
//
// When pullFromTrackedBalance is set the amount already sits inside the
// pool's tracked balance (protocol income retained in-pool) and the treasury
// payout debits it; otherwise extraBacking must carry the amount in and the
// index injections are added to the tracked balance as new backing.
//
// Managed pools route through their base pool. If the base pool has no
// depositors to receive a pro-rata share the whole amount falls back to the
// treasury so the funds are never stranded.
func (e *Engine) RouteSamePool(poolID string, amount *big.Int, sourceTag string, pullFromTrackedBalance bool, extraBacking *big.Int) (*RouteResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	p, err := e.ensurePoolByID(poolID)
	if err != nil {
		return nil, err
	}
	targetID := poolID
	viaBase := false
	if p.Managed {
		if p.BasePoolID == "" {
			return nil, errBasePoolNotSet
		}
		targetID = p.BasePoolID
		viaBase = true
		p, err = e.ensurePoolByID(targetID)
		if err != nil {
			return nil, err
		}
	}

	result := splitShares(amount, e.cfg.TreasuryShareBps, e.cfg.ActiveCreditShareBps, e.cfg.FeeIndexShareBps)

	// A base pool without depositors cannot absorb index injections on a
	// managed pool's behalf; the whole amount goes to the treasury instead of
	// being stranded. A direct pool keeps the split and absorbs the index
	// parts as backing until depositors arrive.
	if viaBase && p.TotalDeposits.Sign() == 0 {
		result.ToTreasury = new(big.Int).Set(amount)
		result.ToActiveCredit = big.NewInt(0)
		result.ToFeeIndex = big.NewInt(0)
	}

	if !pullFromTrackedBalance {
		backing := big.NewInt(0)
		if extraBacking != nil {
			backing = extraBacking
		}
		if backing.Cmp(amount) < 0 {
			return nil, insufficientPrincipal(amount, backing)
		}
		p.TrackedBalance = new(big.Int).Add(p.TrackedBalance, amount)
	}

	if result.ToTreasury.Sign() > 0 {
		if !e.treasurySet {
			return nil, errTreasuryNotSet
		}
		if p.TrackedBalance.Cmp(result.ToTreasury) < 0 {
			return nil, insufficientPrincipal(result.ToTreasury, p.TrackedBalance)
		}
		treasury, err := e.loadAccount(e.treasuryAddr)
		if err != nil {
			return nil, err
		}
		treasury.Balance = new(big.Int).Add(treasury.Balance, result.ToTreasury)
		if err := e.state.PutAccount(e.treasuryAddr, treasury); err != nil {
			return nil, err
		}
		p.TrackedBalance = new(big.Int).Sub(p.TrackedBalance, result.ToTreasury)
		metrics.Pool().ObserveRouted("treasury", sourceTag)
	}

	injected := new(big.Int).Add(result.ToActiveCredit, result.ToFeeIndex)
	if injected.Sign() > 0 {
		// Index injections stay in the pool as yield backing.
		p.YieldReserve = new(big.Int).Add(p.YieldReserve, injected)
		accrueActiveCreditIndex(p, result.ToActiveCredit, sourceTag)
		accrueFeeIndex(p, result.ToFeeIndex, sourceTag)
		if result.ToActiveCredit.Sign() > 0 {
			metrics.Pool().ObserveRouted("active-credit", sourceTag)
		}
		if result.ToFeeIndex.Sign() > 0 {
			metrics.Pool().ObserveRouted("fee-index", sourceTag)
		}
	}

	if err := e.state.PutPool(targetID, p); err != nil {
		return nil, err
	}
	return result, nil
}

func splitShares(amount *big.Int, treasuryBps, activeCreditBps, feeIndexBps uint64) *RouteResult {
	result := &RouteResult{
		ToTreasury:     big.NewInt(0),
		ToActiveCredit: big.NewInt(0),
		ToFeeIndex:     big.NewInt(0),
	}
	if treasuryBps > 0 {
		result.ToTreasury = new(big.Int).Mul(amount, new(big.Int).SetUint64(treasuryBps))
		result.ToTreasury.Quo(result.ToTreasury, basisPoints)
	}
	remainder := new(big.Int).Sub(amount, result.ToTreasury)
	splitDenom := activeCreditBps + feeIndexBps
	if splitDenom == 0 || remainder.Sign() <= 0 {
		// Nothing configured to receive the remainder: it follows the
		// treasury share rather than vanish.
		result.ToTreasury = new(big.Int).Add(result.ToTreasury, remainder)
		return result
	}
	result.ToActiveCredit = new(big.Int).Mul(remainder, new(big.Int).SetUint64(activeCreditBps))
	result.ToActiveCredit.Quo(result.ToActiveCredit, new(big.Int).SetUint64(splitDenom))
	result.ToFeeIndex = new(big.Int).Sub(remainder, result.ToActiveCredit)
	return result
}
