package credit

import (
	"errors"
	"math/big"
	"time"

	nativecommon "crossledger/native/common"
	"crossledger/native/pool"
	"crossledger/observability/metrics"
)

var (
	errNilState      = errors.New("credit engine: state not configured")
	errNilLedger     = errors.New("credit engine: ledger not configured")
	errInvalidAmount = errors.New("credit engine: amount must be positive")
	errLineNotFound  = errors.New("credit engine: credit line not found")
	errLineNotClear  = errors.New("credit engine: credit line still has debt outstanding")
	errOverpayment   = errors.New("credit engine: payment exceeds outstanding debt")
)

const moduleName = "credit"

var linePrefix = []byte("credit/line/")

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Line is a rolling-payment credit line: drawn amounts accumulate as rolling
// debt against collateral locked in the position.
type Line struct {
	Key        pool.PositionKey
	Drawn      *big.Int
	Collateral *big.Int
	OpenedAt   uint64
}

// Clone returns a deep copy of the line.
func (l *Line) Clone() *Line {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Drawn != nil {
		clone.Drawn = new(big.Int).Set(l.Drawn)
	}
	if l.Collateral != nil {
		clone.Collateral = new(big.Int).Set(l.Collateral)
	}
	return &clone
}

// Engine exposes rolling credit lines on top of the pool ledger.
type Engine struct {
	ledger pool.Ledger
	state  engineState
	pauses nativecommon.PauseView
	guard  nativecommon.ReentrancyGuard
	nowFn  func() uint64

	paymentFeeBps uint64
}

// NewEngine constructs a credit engine charging the given payment fee.
func NewEngine(ledger pool.Ledger, paymentFeeBps uint64) *Engine {
	return &Engine{
		ledger:        ledger,
		nowFn:         func() uint64 { return uint64(time.Now().Unix()) },
		paymentFeeBps: paymentFeeBps,
	}
}

// SetState configures the record store used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses installs the module pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func lineKey(key pool.PositionKey) []byte {
	return append(append([]byte{}, linePrefix...), key[:]...)
}

// Draw borrows against the position. Additional collateral locks first, then
// the drawn amount joins the position's rolling debt. Solvency is checked
// against the full projected debt over the line's total collateral.
func (e *Engine) Draw(key pool.PositionKey, amount, addCollateral *big.Int) (*Line, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	line := new(Line)
	ok, err := e.state.KVGet(lineKey(key), line)
	if err != nil {
		return nil, err
	}
	if !ok {
		line = &Line{Key: key, Drawn: big.NewInt(0), Collateral: big.NewInt(0), OpenedAt: e.nowFn()}
	}

	collateral := new(big.Int).Set(line.Collateral)
	if addCollateral != nil && addCollateral.Sign() > 0 {
		collateral.Add(collateral, addCollateral)
	}
	existingDebt, err := e.ledger.CalculateTotalDebt(key)
	if err != nil {
		return nil, err
	}
	projected := new(big.Int).Add(existingDebt, amount)
	if err := e.ledger.RequireSolvent(key, collateral, existingDebt, projected); err != nil {
		return nil, err
	}

	if addCollateral != nil && addCollateral.Sign() > 0 {
		if err := e.ledger.LockCollateral(key, addCollateral); err != nil {
			return nil, err
		}
	}
	rolling, err := e.ledger.Debt(key, pool.DebtRolling)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.SetDebt(key, pool.DebtRolling, new(big.Int).Add(rolling, amount)); err != nil {
		return nil, err
	}

	line.Drawn = new(big.Int).Add(line.Drawn, amount)
	line.Collateral = collateral
	if err := e.state.KVPut(lineKey(key), line); err != nil {
		return nil, err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "draw")
	return line, nil
}

// Pay reduces the line's rolling debt. The payment fee is charged on top of
// the payment and routed through the pool as fresh backing.
func (e *Engine) Pay(key pool.PositionKey, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	line, err := e.loadLine(key)
	if err != nil {
		return nil, err
	}
	if line.Drawn.Cmp(amount) < 0 {
		return nil, errOverpayment
	}

	rolling, err := e.ledger.Debt(key, pool.DebtRolling)
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(rolling, amount)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	if err := e.ledger.SetDebt(key, pool.DebtRolling, remaining); err != nil {
		return nil, err
	}

	fee := big.NewInt(0)
	if e.paymentFeeBps > 0 {
		fee = new(big.Int).Mul(amount, new(big.Int).SetUint64(e.paymentFeeBps))
		fee.Quo(fee, big.NewInt(10_000))
	}
	if fee.Sign() > 0 {
		if _, err := e.ledger.RouteSamePool(e.ledger.PoolID(), fee, moduleName, false, fee); err != nil {
			return nil, err
		}
	}

	line.Drawn = new(big.Int).Sub(line.Drawn, amount)
	if err := e.state.KVPut(lineKey(key), line); err != nil {
		return nil, err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "pay")
	return fee, nil
}

// Terminate closes a fully repaid line and unlocks its collateral.
func (e *Engine) Terminate(key pool.PositionKey) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	line, err := e.loadLine(key)
	if err != nil {
		return err
	}
	if line.Drawn.Sign() != 0 {
		return errLineNotClear
	}
	if line.Collateral.Sign() > 0 {
		if err := e.ledger.UnlockCollateral(key, line.Collateral); err != nil {
			return err
		}
	}
	if err := e.state.KVDelete(lineKey(key)); err != nil {
		return err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "terminate")
	return nil
}

// Line returns the stored credit line record.
func (e *Engine) Line(key pool.PositionKey) (*Line, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadLine(key)
}

func (e *Engine) loadLine(key pool.PositionKey) (*Line, error) {
	line := new(Line)
	ok, err := e.state.KVGet(lineKey(key), line)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errLineNotFound
	}
	return line, nil
}
