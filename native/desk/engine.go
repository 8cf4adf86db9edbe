package desk

import (
	"encoding/binary"
	"errors"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	nativecommon "crossledger/native/common"
	"crossledger/native/pool"
	"crossledger/observability/metrics"
)

var (
	errNilState      = errors.New("desk engine: state not configured")
	errNilLedger     = errors.New("desk engine: ledger not configured")
	errInvalidAmount = errors.New("desk engine: amount must be positive")
	errTicketExists  = errors.New("desk engine: ticket already exists")
	errTicketMissing = errors.New("desk engine: ticket not found")
	errSelfDeal      = errors.New("desk engine: lender cannot take its own ticket")
)

const moduleName = "desk"

var ticketPrefix = []byte("desk/ticket/")

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Ticket is an open atomic lend: the lender's principal is lent out and the
// taker owes it back as atomic debt until the ticket settles.
type Ticket struct {
	ID        [32]byte
	Lender    pool.PositionKey
	Taker     pool.PositionKey
	Amount    *big.Int
	CreatedAt uint64
}

// Clone returns a deep copy of the ticket.
func (tk *Ticket) Clone() *Ticket {
	if tk == nil {
		return nil
	}
	clone := *tk
	if tk.Amount != nil {
		clone.Amount = new(big.Int).Set(tk.Amount)
	}
	return &clone
}

// Engine exposes the atomic swap desk. The hashlock exchange itself happens
// off the ledger; the engine records only the principal movement the core
// accounts for.
type Engine struct {
	ledger pool.Ledger
	state  engineState
	pauses nativecommon.PauseView
	guard  nativecommon.ReentrancyGuard
	nowFn  func() uint64

	deskFeeBps uint64
}

// NewEngine constructs a desk engine charging the given settlement fee.
func NewEngine(ledger pool.Ledger, deskFeeBps uint64) *Engine {
	return &Engine{
		ledger:     ledger,
		nowFn:      func() uint64 { return uint64(time.Now().Unix()) },
		deskFeeBps: deskFeeBps,
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

func ticketKey(id [32]byte) []byte {
	return append(append([]byte{}, ticketPrefix...), id[:]...)
}

func deriveTicketID(lender, taker pool.PositionKey, nonce uint64) [32]byte {
	buf := make([]byte, len(ticketPrefix)+2*len(lender)+8)
	copy(buf, ticketPrefix)
	copy(buf[len(ticketPrefix):], lender[:])
	copy(buf[len(ticketPrefix)+len(lender):], taker[:])
	binary.BigEndian.PutUint64(buf[len(buf)-8:], nonce)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

// LendAtomic lends the amount from the lender's free principal straight to
// the taker. The lender's principal becomes DirectLent and the taker carries
// the amount as atomic debt; the taker's solvency is checked against its full
// projected debt before anything moves.
func (e *Engine) LendAtomic(lender, taker pool.PositionKey, amount, takerCollateral *big.Int, nonce uint64) (*Ticket, error) {
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
	if lender == taker {
		return nil, errSelfDeal
	}

	id := deriveTicketID(lender, taker, nonce)
	var existing Ticket
	if ok, err := e.state.KVGet(ticketKey(id), &existing); err != nil {
		return nil, err
	} else if ok {
		return nil, errTicketExists
	}

	existingDebt, err := e.ledger.CalculateTotalDebt(taker)
	if err != nil {
		return nil, err
	}
	projected := new(big.Int).Add(existingDebt, amount)
	if err := e.ledger.RequireSolvent(taker, takerCollateral, existingDebt, projected); err != nil {
		return nil, err
	}

	if err := e.ledger.LendDirect(lender, amount); err != nil {
		return nil, err
	}
	atomic, err := e.ledger.Debt(taker, pool.DebtAtomic)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.SetDebt(taker, pool.DebtAtomic, new(big.Int).Add(atomic, amount)); err != nil {
		return nil, err
	}

	ticket := &Ticket{
		ID:        id,
		Lender:    lender,
		Taker:     taker,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: e.nowFn(),
	}
	if err := e.state.KVPut(ticketKey(id), ticket); err != nil {
		return nil, err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "lend_atomic")
	return ticket, nil
}

// SettleAtomic unwinds an open ticket: the taker's atomic debt clears, the
// lender recovers the lent principal and the desk fee arrives as fresh
// backing routed through the pool.
func (e *Engine) SettleAtomic(id [32]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()

	ticket := new(Ticket)
	ok, err := e.state.KVGet(ticketKey(id), ticket)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errTicketMissing
	}

	atomic, err := e.ledger.Debt(ticket.Taker, pool.DebtAtomic)
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(atomic, ticket.Amount)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	if err := e.ledger.SetDebt(ticket.Taker, pool.DebtAtomic, remaining); err != nil {
		return nil, err
	}
	if err := e.ledger.RecoverLent(ticket.Lender, ticket.Amount); err != nil {
		return nil, err
	}

	fee := big.NewInt(0)
	if e.deskFeeBps > 0 {
		fee = new(big.Int).Mul(ticket.Amount, new(big.Int).SetUint64(e.deskFeeBps))
		fee.Quo(fee, big.NewInt(10_000))
	}
	if fee.Sign() > 0 {
		if _, err := e.ledger.RouteSamePool(e.ledger.PoolID(), fee, moduleName, false, fee); err != nil {
			return nil, err
		}
	}
	if err := e.state.KVDelete(ticketKey(id)); err != nil {
		return nil, err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "settle_atomic")
	return fee, nil
}

// Ticket returns the stored ticket record.
func (e *Engine) Ticket(id [32]byte) (*Ticket, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ticket := new(Ticket)
	ok, err := e.state.KVGet(ticketKey(id), ticket)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errTicketMissing
	}
	return ticket, nil
}
