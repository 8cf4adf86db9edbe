package pool

import "math/big"

// Ledger is the narrow capability surface facades settle against. Facades
// depend on this interface rather than on each other; *Engine implements it.
type Ledger interface {
	SettleFees(key PositionKey) error
	SettleActiveCredit(key PositionKey) error
	ApplyEncumbranceDelta(key PositionKey, oldTotal, newTotal *big.Int) error
	ApplyDebtDelta(key PositionKey, oldDebt, newDebt *big.Int) error
	CalculateTotalDebt(key PositionKey) (*big.Int, error)
	RequireSolvent(key PositionKey, grossCollateral, sameAssetDebt, projectedDebt *big.Int) error
	RouteSamePool(poolID string, amount *big.Int, sourceTag string, pullFromTrackedBalance bool, extraBacking *big.Int) (*RouteResult, error)

	Bucket(key PositionKey) (*Encumbrance, error)
	LockCollateral(key PositionKey, amount *big.Int) error
	UnlockCollateral(key PositionKey, amount *big.Int) error
	EscrowOffer(key PositionKey, amount *big.Int) error
	ReleaseOffer(key PositionKey, amount *big.Int) error
	LendFromEscrow(key PositionKey, amount *big.Int) error
	LendDirect(key PositionKey, amount *big.Int) error
	RecoverLent(key PositionKey, amount *big.Int) error
	ReserveForAuction(key PositionKey, amount *big.Int) error
	ReleaseAuctionReserve(key PositionKey, amount *big.Int) error
	RestoreAuctionReserve(key PositionKey, amount *big.Int) (*big.Int, error)

	SetDebt(key PositionKey, source DebtSource, amount *big.Int) error
	Debt(key PositionKey, source DebtSource) (*big.Int, error)
	PoolID() string
}

var _ Ledger = (*Engine)(nil)
