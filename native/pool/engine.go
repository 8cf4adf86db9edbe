package pool

import (
	"math/big"
	"strings"

	"crossledger/core/types"
	nativecommon "crossledger/native/common"
	"crossledger/observability/metrics"
)

// SCALE is the precision constant both accumulator indexes start from. Index
// deltas are expressed as amount * SCALE / weight so per-position accrual is
// a single multiplication regardless of how many positions exist.
var scale = big.NewInt(1_000_000_000_000_000_000)

var basisPoints = big.NewInt(10_000)

const moduleName = "pool"

type engineState interface {
	GetPool(poolID string) (*Pool, error)
	PutPool(poolID string, pool *Pool) error
	GetPosition(poolID string, key PositionKey) (*PositionState, error)
	PutPosition(poolID string, position *PositionState) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Engine orchestrates the accounting state transitions every facade settles
// against. It holds no locks of its own; reentrancy protection is the
// caller's responsibility.
type Engine struct {
	state        engineState
	cfg          Config
	poolID       string
	treasuryAddr [20]byte
	treasurySet  bool
	blockTime    uint64
	nowFn        func() uint64
	pauses       nativecommon.PauseView
}

// NewEngine constructs an accounting engine with the supplied configuration.
func NewEngine(cfg Config) *Engine {
	cfg.EnsureDefaults()
	return &Engine{cfg: cfg}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses installs the module pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetPoolID assigns the pool identifier subsequent operations operate
// against.
func (e *Engine) SetPoolID(poolID string) {
	if e == nil {
		return
	}
	e.poolID = strings.TrimSpace(poolID)
}

// PoolID returns the currently configured pool identifier.
func (e *Engine) PoolID() string {
	if e == nil {
		return ""
	}
	return e.poolID
}

// SetBlockTimestamp pins the timestamp used by the maturity gate, clearing
// any installed time source. Block-driven callers set this once per block.
func (e *Engine) SetBlockTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.blockTime = ts
	e.nowFn = nil
}

// SetNowFunc installs a time source consulted on every operation instead of
// the pinned block timestamp, for callers without a block clock.
func (e *Engine) SetNowFunc(now func() uint64) {
	if e == nil {
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	if e.nowFn != nil {
		return e.nowFn()
	}
	return e.blockTime
}

// SetTreasury configures the treasury account receiving routed payouts.
func (e *Engine) SetTreasury(addr [20]byte) {
	if e == nil {
		return
	}
	e.treasuryAddr = addr
	e.treasurySet = true
}

// TimeGate returns the configured maturity gate in seconds.
func (e *Engine) TimeGate() uint64 {
	if e == nil {
		return 0
	}
	return e.cfg.TimeGateSeconds
}

// Deposit adds principal to the position, settling the fee index first so the
// new principal never captures fees accrued before it existed.
func (e *Engine) Deposit(key PositionKey, from [20]byte, amount *big.Int) error {
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

	account, err := e.loadAccount(from)
	if err != nil {
		return err
	}
	if account.Balance.Cmp(amount) < 0 {
		return insufficientPrincipal(amount, account.Balance)
	}
	account.Balance = new(big.Int).Sub(account.Balance, amount)
	if err := e.state.PutAccount(from, account); err != nil {
		return err
	}

	position.Principal = new(big.Int).Add(position.Principal, amount)
	p.TotalDeposits = new(big.Int).Add(p.TotalDeposits, amount)
	p.TrackedBalance = new(big.Int).Add(p.TrackedBalance, amount)

	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return err
	}
	return e.state.PutPool(e.poolID, p)
}

// Withdraw releases free principal back to the owner. Principal committed to
// an encumbrance bucket cannot be withdrawn, and the payout is cross-checked
// against the pool's tracked balance.
func (e *Engine) Withdraw(key PositionKey, to [20]byte, amount *big.Int) error {
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

	free := new(big.Int).Sub(position.Principal, position.Encumbrance.Total())
	if free.Sign() < 0 {
		return errEncumbranceUnderflow
	}
	if free.Cmp(amount) < 0 {
		return insufficientPrincipal(amount, free)
	}
	if p.TrackedBalance.Cmp(amount) < 0 {
		return insufficientPrincipal(amount, p.TrackedBalance)
	}

	account, err := e.loadAccount(to)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	if err := e.state.PutAccount(to, account); err != nil {
		return err
	}

	position.Principal = new(big.Int).Sub(position.Principal, amount)
	p.TotalDeposits = new(big.Int).Sub(p.TotalDeposits, amount)
	p.TrackedBalance = new(big.Int).Sub(p.TrackedBalance, amount)

	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return err
	}
	return e.state.PutPool(e.poolID, p)
}

// ClaimYield pays out the position's settled yield. Both indexes are settled
// first so the claim always reflects the latest accruals.
func (e *Engine) ClaimYield(key PositionKey, to [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	p, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(key)
	if err != nil {
		return nil, err
	}
	settleFees(p, position)
	settleActiveCredit(p, position.EncumbranceTrack, e.now(), e.cfg.TimeGateSeconds, position)
	settleActiveCredit(p, position.DebtTrack, e.now(), e.cfg.TimeGateSeconds, position)

	claim := new(big.Int).Set(position.AccruedYield)
	if claim.Sign() == 0 {
		if err := e.state.PutPosition(e.poolID, position); err != nil {
			return nil, err
		}
		if err := e.state.PutPool(e.poolID, p); err != nil {
			return nil, err
		}
		return big.NewInt(0), nil
	}
	if p.TrackedBalance.Cmp(claim) < 0 {
		return nil, insufficientPrincipal(claim, p.TrackedBalance)
	}
	if p.YieldReserve.Cmp(claim) < 0 {
		return nil, insufficientPrincipal(claim, p.YieldReserve)
	}

	account, err := e.loadAccount(to)
	if err != nil {
		return nil, err
	}
	account.Balance = new(big.Int).Add(account.Balance, claim)
	if err := e.state.PutAccount(to, account); err != nil {
		return nil, err
	}

	position.AccruedYield = big.NewInt(0)
	p.TrackedBalance = new(big.Int).Sub(p.TrackedBalance, claim)
	p.YieldReserve = new(big.Int).Sub(p.YieldReserve, claim)

	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(e.poolID, p); err != nil {
		return nil, err
	}
	return claim, nil
}

// WithdrawTreasury moves accumulated treasury fees to the recipient account.
// Routed treasury shares land on the treasury account; this is the payout
// path for them.
func (e *Engine) WithdrawTreasury(to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.treasurySet {
		return errTreasuryNotSet
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	treasury, err := e.loadAccount(e.treasuryAddr)
	if err != nil {
		return err
	}
	if treasury.Balance.Cmp(amount) < 0 {
		return insufficientPrincipal(amount, treasury.Balance)
	}
	treasury.Balance = new(big.Int).Sub(treasury.Balance, amount)
	if err := e.state.PutAccount(e.treasuryAddr, treasury); err != nil {
		return err
	}

	recipient, err := e.loadAccount(to)
	if err != nil {
		return err
	}
	recipient.Balance = new(big.Int).Add(recipient.Balance, amount)
	return e.state.PutAccount(to, recipient)
}

func (e *Engine) ensurePool() (*Pool, error) {
	return e.ensurePoolByID(e.poolID)
}

func (e *Engine) ensurePoolByID(poolID string) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if strings.TrimSpace(poolID) == "" {
		return nil, errPoolNotConfigured
	}
	p, err := e.state.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errNilPool
	}
	normalizePool(p, e.cfg.DefaultLTVBps)
	return p, nil
}

func (e *Engine) ensurePosition(key PositionKey) (*PositionState, error) {
	return e.ensurePositionIn(e.poolID, key)
}

func (e *Engine) ensurePositionIn(poolID string, key PositionKey) (*PositionState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if strings.TrimSpace(poolID) == "" {
		return nil, errPoolNotConfigured
	}
	position, err := e.state.GetPosition(poolID, key)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &PositionState{Key: key}
	}
	normalizePosition(position)
	return position, nil
}

func (e *Engine) loadAccount(addr [20]byte) (*types.Account, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &types.Account{}
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

func normalizePool(p *Pool, defaultLTVBps uint64) {
	if p == nil {
		return
	}
	if p.TotalDeposits == nil {
		p.TotalDeposits = big.NewInt(0)
	}
	if p.TrackedBalance == nil {
		p.TrackedBalance = big.NewInt(0)
	}
	if p.YieldReserve == nil {
		p.YieldReserve = big.NewInt(0)
	}
	if p.FeeIndex == nil || p.FeeIndex.Sign() == 0 {
		p.FeeIndex = new(big.Int).Set(scale)
	}
	if p.FeeRemainder == nil {
		p.FeeRemainder = big.NewInt(0)
	}
	if p.ActiveCreditIndex == nil || p.ActiveCreditIndex.Sign() == 0 {
		p.ActiveCreditIndex = new(big.Int).Set(scale)
	}
	if p.ActiveCreditRemainder == nil {
		p.ActiveCreditRemainder = big.NewInt(0)
	}
	if p.ActiveCreditPrincipalTotal == nil {
		p.ActiveCreditPrincipalTotal = big.NewInt(0)
	}
	if p.DepositorLTVBps == 0 {
		p.DepositorLTVBps = defaultLTVBps
	}
}

func normalizePosition(position *PositionState) {
	if position == nil {
		return
	}
	if position.Principal == nil {
		position.Principal = big.NewInt(0)
	}
	if position.AccruedYield == nil {
		position.AccruedYield = big.NewInt(0)
	}
	if position.FeeCheckpoint == nil {
		position.FeeCheckpoint = big.NewInt(0)
	}
	if position.EncumbranceTrack == nil {
		position.EncumbranceTrack = &ActiveCreditState{}
	}
	if position.DebtTrack == nil {
		position.DebtTrack = &ActiveCreditState{}
	}
	normalizeTrack(position.EncumbranceTrack)
	normalizeTrack(position.DebtTrack)
	if position.Encumbrance == nil {
		position.Encumbrance = &Encumbrance{}
	}
	normalizeEncumbrance(position.Encumbrance)
	if position.RollingDebt == nil {
		position.RollingDebt = big.NewInt(0)
	}
	if position.TermDebt == nil {
		position.TermDebt = big.NewInt(0)
	}
	if position.BilateralDebt == nil {
		position.BilateralDebt = big.NewInt(0)
	}
	if position.AtomicDebt == nil {
		position.AtomicDebt = big.NewInt(0)
	}
}

func normalizeTrack(track *ActiveCreditState) {
	if track == nil {
		return
	}
	if track.Principal == nil {
		track.Principal = big.NewInt(0)
	}
	if track.MaturedPrincipal == nil {
		track.MaturedPrincipal = big.NewInt(0)
	}
	if track.IndexSnapshot == nil {
		track.IndexSnapshot = big.NewInt(0)
	}
}

func normalizeEncumbrance(enc *Encumbrance) {
	if enc == nil {
		return
	}
	if enc.DirectLocked == nil {
		enc.DirectLocked = big.NewInt(0)
	}
	if enc.DirectLent == nil {
		enc.DirectLent = big.NewInt(0)
	}
	if enc.DirectOfferEscrow == nil {
		enc.DirectOfferEscrow = big.NewInt(0)
	}
	if enc.AuctionReserve == nil {
		enc.AuctionReserve = big.NewInt(0)
	}
}

func observeSettlement(kind string) {
	metrics.Pool().ObserveSettlement(kind)
}
