package pool

import "math/big"

// CalculateTotalDebt sums every debt source the position carries within the
// pool. Callers settle both indexes first so the figures are never stale.
func (e *Engine) CalculateTotalDebt(key PositionKey) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.ensurePosition(key)
	if err != nil {
		return nil, err
	}
	return totalDebt(position), nil
}

func totalDebt(position *PositionState) *big.Int {
	total := big.NewInt(0)
	for _, debt := range []*big.Int{position.RollingDebt, position.TermDebt, position.BilateralDebt, position.AtomicDebt} {
		if debt != nil {
			total.Add(total, debt)
		}
	}
	return total
}

// CheckSolvency reports whether totalDebt stays within the pool's
// loan-to-value ceiling against the supplied collateral value. It is called
// before any operation that increases encumbrance or debt and never
// re-checked for operations that only decrease them.
func (e *Engine) CheckSolvency(collateralValue, debt *big.Int) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	p, err := e.ensurePool()
	if err != nil {
		return false, err
	}
	return checkSolvency(p, collateralValue, debt), nil
}

func checkSolvency(p *Pool, collateralValue, debt *big.Int) bool {
	if debt == nil || debt.Sign() == 0 {
		return true
	}
	if collateralValue == nil || collateralValue.Sign() <= 0 {
		return false
	}
	lhs := new(big.Int).Mul(debt, basisPoints)
	rhs := new(big.Int).Mul(collateralValue, new(big.Int).SetUint64(p.DepositorLTVBps))
	return lhs.Cmp(rhs) <= 0
}

// NetEquity subtracts same-asset debt from gross collateral so collateral
// that is simultaneously owed back to the pool cannot inflate the apparent
// backing. Negative equity floors at zero, which fails the solvency check.
func NetEquity(grossCollateral, sameAssetDebt *big.Int) *big.Int {
	if grossCollateral == nil {
		return big.NewInt(0)
	}
	equity := new(big.Int).Set(grossCollateral)
	if sameAssetDebt != nil {
		equity.Sub(equity, sameAssetDebt)
	}
	if equity.Sign() < 0 {
		return big.NewInt(0)
	}
	return equity
}

// RequireSolvent settles the position, computes net equity over the supplied
// gross collateral and same-asset debt, and fails with errLTVExceeded when
// the projected debt breaches the pool ceiling.
func (e *Engine) RequireSolvent(key PositionKey, grossCollateral, sameAssetDebt, projectedDebt *big.Int) error {
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
	if err := e.state.PutPool(e.poolID, p); err != nil {
		return err
	}
	equity := NetEquity(grossCollateral, sameAssetDebt)
	if !checkSolvency(p, equity, projectedDebt) {
		return errLTVExceeded
	}
	return nil
}
