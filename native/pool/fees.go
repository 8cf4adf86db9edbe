package pool

import (
	"math/big"

	nativecommon "crossledger/native/common"
	"crossledger/observability/metrics"
)

// SettleFees brings the position's fee checkpoint up to the pool's current
// fee index, crediting the owed yield. Must run before principal is read for
// any debt or collateral calculation and before principal is mutated, so a
// change never retroactively alters the position's share of past fees.
// Calling it twice without intervening index growth credits nothing the
// second time.
func (e *Engine) SettleFees(key PositionKey) error {
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
	settleFees(p, position)
	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return err
	}
	return e.state.PutPool(e.poolID, p)
}

func settleFees(p *Pool, position *PositionState) {
	if p == nil || position == nil {
		return
	}
	checkpoint := position.FeeCheckpoint
	if checkpoint.Sign() == 0 {
		// Unset checkpoints read as the base scale, the value every pool
		// index starts from.
		checkpoint = scale
	}
	delta := new(big.Int).Sub(p.FeeIndex, checkpoint)
	if delta.Sign() <= 0 {
		return
	}
	owed := new(big.Int).Mul(position.Principal, delta)
	owed.Quo(owed, scale)
	if owed.Sign() > 0 {
		position.AccruedYield = new(big.Int).Add(position.AccruedYield, owed)
	}
	position.FeeCheckpoint = new(big.Int).Set(p.FeeIndex)
	observeSettlement("fee")
}

// AccrueWithSource grows the pool's fee index by amount spread pro-rata over
// total deposits. The truncating division remainder is carried forward in
// FeeRemainder so the sum of user accruals never exceeds total fees ever
// accrued while nothing is permanently dropped. When the pool has no
// depositors the index is left untouched and the amount stays absorbed as
// backing; the caller has already reflected it in TrackedBalance and
// YieldReserve.
func (e *Engine) AccrueWithSource(poolID string, amount *big.Int, sourceTag string) error {
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
	accrueFeeIndex(p, amount, sourceTag)
	return e.state.PutPool(poolID, p)
}

func accrueFeeIndex(p *Pool, amount *big.Int, sourceTag string) {
	if p == nil || amount == nil || amount.Sign() == 0 {
		return
	}
	if p.TotalDeposits.Sign() == 0 {
		return
	}
	numerator := new(big.Int).Mul(amount, scale)
	numerator.Add(numerator, p.FeeRemainder)
	growth, remainder := new(big.Int).QuoRem(numerator, p.TotalDeposits, new(big.Int))
	p.FeeIndex = new(big.Int).Add(p.FeeIndex, growth)
	p.FeeRemainder = remainder
	metrics.Pool().ObserveAccrual("fee", sourceTag)
}
