package pool

import (
	"math/big"

	nativecommon "crossledger/native/common"
)

// DebtSource names one of the per-position debt buckets summed by
// CalculateTotalDebt.
type DebtSource string

const (
	DebtRolling   DebtSource = "rolling"
	DebtTerm      DebtSource = "term"
	DebtBilateral DebtSource = "bilateral"
	DebtAtomic    DebtSource = "atomic"
)

// SetDebt records the absolute outstanding amount for one debt source and
// feeds the resulting total-debt change through the debt track so the
// active-credit weight stays consistent with what the position actually owes.
func (e *Engine) SetDebt(key PositionKey, source DebtSource, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
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

	var target **big.Int
	switch source {
	case DebtRolling:
		target = &position.RollingDebt
	case DebtTerm:
		target = &position.TermDebt
	case DebtBilateral:
		target = &position.BilateralDebt
	case DebtAtomic:
		target = &position.AtomicDebt
	default:
		return errInvalidAmount
	}

	oldTotal := totalDebt(position)
	*target = new(big.Int).Set(amount)
	newTotal := totalDebt(position)
	if newTotal.Cmp(oldTotal) != 0 {
		applyTrackDelta(p, position.DebtTrack, position, newTotal, e.now(), e.cfg.TimeGateSeconds)
		publishActiveCreditTotal(p)
	}

	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return err
	}
	return e.state.PutPool(e.poolID, p)
}

// Debt reports the outstanding amount recorded for one debt source.
func (e *Engine) Debt(key PositionKey, source DebtSource) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.ensurePosition(key)
	if err != nil {
		return nil, err
	}
	switch source {
	case DebtRolling:
		return new(big.Int).Set(position.RollingDebt), nil
	case DebtTerm:
		return new(big.Int).Set(position.TermDebt), nil
	case DebtBilateral:
		return new(big.Int).Set(position.BilateralDebt), nil
	case DebtAtomic:
		return new(big.Int).Set(position.AtomicDebt), nil
	default:
		return nil, errInvalidAmount
	}
}
