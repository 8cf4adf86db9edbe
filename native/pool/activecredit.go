package pool

import (
	"math/big"

	nativecommon "crossledger/native/common"
	"crossledger/observability/metrics"
)

// Track selectors for the two active-credit streams a position carries.
const (
	TrackEncumbrance = "encumbrance"
	TrackDebt        = "debt"
)

// SettleActiveCredit settles both active-credit tracks for the position at
// the engine's current block timestamp, promoting any newly matured weight
// into the pool's active-credit principal total.
func (e *Engine) SettleActiveCredit(key PositionKey) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	p, err := e.ensurePool()
	if err != nil {
		return err
	}
	position, err := e.ensurePosition(key)
	if err != nil {
		return err
	}
	settleActiveCredit(p, position.EncumbranceTrack, e.now(), e.cfg.TimeGateSeconds, position)
	settleActiveCredit(p, position.DebtTrack, e.now(), e.cfg.TimeGateSeconds, position)
	publishActiveCreditTotal(p)
	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return err
	}
	return e.state.PutPool(e.poolID, p)
}

// ApplyEncumbranceDelta is the single entry point facades use when an
// encumbrance bucket changes. oldTotal and newTotal are the position's
// DirectLocked + DirectLent before and after the change. The track is settled
// before the weight is adjusted so the change never retroactively alters past
// reward shares.
func (e *Engine) ApplyEncumbranceDelta(key PositionKey, oldTotal, newTotal *big.Int) error {
	return e.applyDelta(key, TrackEncumbrance, oldTotal, newTotal)
}

// ApplyDebtDelta mirrors ApplyEncumbranceDelta for the debt track.
func (e *Engine) ApplyDebtDelta(key PositionKey, oldDebt, newDebt *big.Int) error {
	return e.applyDelta(key, TrackDebt, oldDebt, newDebt)
}

func (e *Engine) applyDelta(key PositionKey, trackName string, oldTotal, newTotal *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if oldTotal == nil || newTotal == nil || oldTotal.Sign() < 0 || newTotal.Sign() < 0 {
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
	track := position.EncumbranceTrack
	if trackName == TrackDebt {
		track = position.DebtTrack
	}
	if track.Principal.Cmp(oldTotal) != 0 {
		return errTrackMismatch
	}
	applyTrackDelta(p, track, position, newTotal, e.now(), e.cfg.TimeGateSeconds)
	publishActiveCreditTotal(p)
	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return err
	}
	return e.state.PutPool(e.poolID, p)
}

// AccrueActiveCredit grows the pool's active-credit index by amount spread
// pro-rata over the matured weight total, carrying the rounding remainder
// forward. When no weight has matured the amount stays absorbed as backing.
func (e *Engine) AccrueActiveCredit(poolID string, amount *big.Int, sourceTag string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	p, err := e.ensurePoolByID(poolID)
	if err != nil {
		return err
	}
	accrueActiveCreditIndex(p, amount, sourceTag)
	return e.state.PutPool(poolID, p)
}

// MaturedWeight reports the weight the track would contribute to the pool's
// active-credit principal total at the supplied time, including weight that
// has passed the gate but has not been promoted by a settlement yet.
func (e *Engine) MaturedWeight(track *ActiveCreditState, now uint64) *big.Int {
	if track == nil || track.Principal == nil {
		return big.NewInt(0)
	}
	normalizeTrack(track)
	if track.StartTime == 0 {
		return new(big.Int).Set(track.MaturedPrincipal)
	}
	if e != nil && now >= track.StartTime && now-track.StartTime >= e.cfg.TimeGateSeconds {
		return new(big.Int).Set(track.Principal)
	}
	return new(big.Int).Set(track.MaturedPrincipal)
}

// publishActiveCreditTotal mirrors the pool's matured weight total to the
// metrics gauge.
func publishActiveCreditTotal(p *Pool) {
	if p == nil || p.ActiveCreditPrincipalTotal == nil {
		return
	}
	value, _ := new(big.Float).SetInt(p.ActiveCreditPrincipalTotal).Float64()
	metrics.Pool().SetActiveCreditPrincipal(value)
}

// settleActiveCredit pays the yield owed on the track's matured weight, then
// promotes any cohort that has passed the maturity gate. The promotion runs
// after the payout so immature weight never captures index growth that
// predates its maturity.
func settleActiveCredit(p *Pool, track *ActiveCreditState, now, gate uint64, position *PositionState) {
	if p == nil || track == nil || position == nil {
		return
	}
	normalizeTrack(track)
	if track.Principal.Sign() == 0 {
		track.IndexSnapshot = new(big.Int).Set(p.ActiveCreditIndex)
		return
	}

	if track.MaturedPrincipal.Sign() > 0 {
		snapshot := track.IndexSnapshot
		if snapshot.Sign() == 0 {
			snapshot = scale
		}
		delta := new(big.Int).Sub(p.ActiveCreditIndex, snapshot)
		if delta.Sign() > 0 {
			owed := new(big.Int).Mul(track.MaturedPrincipal, delta)
			owed.Quo(owed, scale)
			if owed.Sign() > 0 {
				position.AccruedYield = new(big.Int).Add(position.AccruedYield, owed)
			}
			observeSettlement("active-credit")
		}
	}

	if track.StartTime != 0 && now >= track.StartTime && now-track.StartTime >= gate {
		promoted := new(big.Int).Sub(track.Principal, track.MaturedPrincipal)
		if promoted.Sign() > 0 {
			p.ActiveCreditPrincipalTotal = new(big.Int).Add(p.ActiveCreditPrincipalTotal, promoted)
			track.MaturedPrincipal = new(big.Int).Set(track.Principal)
		}
		track.StartTime = 0
	}

	track.IndexSnapshot = new(big.Int).Set(p.ActiveCreditIndex)
}

// applyTrackDelta moves the track from its current principal to newTotal.
// Increases while a cohort is still maturing join that cohort without
// resetting its start time; increases on a fully matured track open a fresh
// cohort gated from now, so already-matured weight never reverts to immature.
// Decreases consume the immature cohort first, preserving matured weight for
// amounts that have served their time.
func applyTrackDelta(p *Pool, track *ActiveCreditState, position *PositionState, newTotal *big.Int, now, gate uint64) {
	settleActiveCredit(p, track, now, gate, position)

	old := track.Principal
	switch cmp := newTotal.Cmp(old); {
	case cmp == 0:
		return
	case cmp > 0:
		applyWeightedIncreaseWithGate(track, newTotal, now)
	default:
		reduction := new(big.Int).Sub(old, newTotal)
		pending := new(big.Int).Sub(old, track.MaturedPrincipal)
		fromPending := new(big.Int).Set(reduction)
		if fromPending.Cmp(pending) > 0 {
			fromPending.Set(pending)
		}
		fromMatured := new(big.Int).Sub(reduction, fromPending)
		if fromMatured.Sign() > 0 {
			track.MaturedPrincipal = new(big.Int).Sub(track.MaturedPrincipal, fromMatured)
			p.ActiveCreditPrincipalTotal = new(big.Int).Sub(p.ActiveCreditPrincipalTotal, fromMatured)
		}
		track.Principal = new(big.Int).Set(newTotal)
		if track.Principal.Sign() == 0 {
			resetIfZeroWithGate(p, track)
		} else if track.Principal.Cmp(track.MaturedPrincipal) == 0 {
			track.StartTime = 0
		}
	}
}

// applyWeightedIncreaseWithGate grows the track to newTotal. The settled
// matured portion stays counted toward the pool total; only the new amount
// (plus any cohort already maturing) waits out the gate.
func applyWeightedIncreaseWithGate(track *ActiveCreditState, newTotal *big.Int, now uint64) {
	if track.StartTime == 0 {
		// No cohort is currently maturing: either the track was empty or it
		// is fully matured. Either way the new amount gates from now.
		track.StartTime = now
	}
	track.Principal = new(big.Int).Set(newTotal)
}

// resetIfZeroWithGate clears the track once its principal reaches zero,
// removing any remaining matured weight from the pool total.
func resetIfZeroWithGate(p *Pool, track *ActiveCreditState) {
	if track.MaturedPrincipal.Sign() > 0 {
		p.ActiveCreditPrincipalTotal = new(big.Int).Sub(p.ActiveCreditPrincipalTotal, track.MaturedPrincipal)
	}
	track.Principal = big.NewInt(0)
	track.MaturedPrincipal = big.NewInt(0)
	track.StartTime = 0
	track.IndexSnapshot = big.NewInt(0)
}

func accrueActiveCreditIndex(p *Pool, amount *big.Int, sourceTag string) {
	if p == nil || amount == nil || amount.Sign() == 0 {
		return
	}
	if p.ActiveCreditPrincipalTotal.Sign() == 0 {
		return
	}
	numerator := new(big.Int).Mul(amount, scale)
	numerator.Add(numerator, p.ActiveCreditRemainder)
	growth, remainder := new(big.Int).QuoRem(numerator, p.ActiveCreditPrincipalTotal, new(big.Int))
	p.ActiveCreditIndex = new(big.Int).Add(p.ActiveCreditIndex, growth)
	p.ActiveCreditRemainder = remainder
	metrics.Pool().ObserveAccrual("active-credit", sourceTag)
}
