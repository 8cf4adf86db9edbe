package loans

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
	errNilState       = errors.New("loans engine: state not configured")
	errNilLedger      = errors.New("loans engine: ledger not configured")
	errInvalidAmount  = errors.New("loans engine: amount must be positive")
	errOfferExists    = errors.New("loans engine: offer already exists")
	errOfferNotFound  = errors.New("loans engine: offer not found")
	errLoanNotFound   = errors.New("loans engine: loan not found")
	errNotLender      = errors.New("loans engine: caller is not the lender")
	errNotBorrower    = errors.New("loans engine: caller is not the borrower")
	errSelfDeal       = errors.New("loans engine: lender cannot borrow from itself")
)

const moduleName = "loans"

var (
	offerPrefix = []byte("loans/offer/")
	loanPrefix  = []byte("loans/loan/")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Engine exposes bilateral direct loans on top of the pool ledger. All
// principal movement happens via the ledger's encumbrance and debt deltas;
// the engine only keeps the offer and loan records.
type Engine struct {
	ledger pool.Ledger
	state  engineState
	pauses nativecommon.PauseView
	guard  nativecommon.ReentrancyGuard
	nowFn  func() uint64

	// OriginationFeeBps is charged on the principal at repayment and routed
	// through the pool's fee router.
	originationFeeBps uint64
}

// NewEngine constructs a loans engine with the given repayment fee.
func NewEngine(ledger pool.Ledger, originationFeeBps uint64) *Engine {
	return &Engine{
		ledger:            ledger,
		nowFn:             func() uint64 { return uint64(time.Now().Unix()) },
		originationFeeBps: originationFeeBps,
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

func deriveID(prefix []byte, key pool.PositionKey, nonce uint64) [32]byte {
	buf := make([]byte, len(prefix)+len(key)+8)
	copy(buf, prefix)
	copy(buf[len(prefix):], key[:])
	binary.BigEndian.PutUint64(buf[len(prefix)+len(key):], nonce)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

// deriveLoanID hashes the accepted offer's ID so each offer maps to exactly
// one loan record. Offer IDs are unique per lender and nonce, and an offer is
// deleted when accepted, so two loans can never share an ID.
func deriveLoanID(offerID [32]byte) [32]byte {
	buf := make([]byte, len(loanPrefix)+len(offerID))
	copy(buf, loanPrefix)
	copy(buf[len(loanPrefix):], offerID[:])
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

func offerKey(id [32]byte) []byte {
	return append(append([]byte{}, offerPrefix...), id[:]...)
}

func loanKey(id [32]byte) []byte {
	return append(append([]byte{}, loanPrefix...), id[:]...)
}

// OpenOffer escrows the lender's principal behind a new offer. Escrowed
// principal stops earning active credit until it is actually lent.
func (e *Engine) OpenOffer(lender pool.PositionKey, amount *big.Int, nonce uint64) (*Offer, error) {
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

	id := deriveID(offerPrefix, lender, nonce)
	var existing Offer
	if ok, err := e.state.KVGet(offerKey(id), &existing); err != nil {
		return nil, err
	} else if ok {
		return nil, errOfferExists
	}

	if err := e.ledger.EscrowOffer(lender, amount); err != nil {
		return nil, err
	}

	offer := &Offer{
		ID:        id,
		Lender:    lender,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: e.nowFn(),
	}
	if err := e.state.KVPut(offerKey(id), offer); err != nil {
		return nil, err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "open_offer")
	return offer, nil
}

// CancelOffer releases the escrowed principal back to the lender's free
// principal and removes the offer.
func (e *Engine) CancelOffer(id [32]byte, caller pool.PositionKey) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	offer, err := e.loadOffer(id)
	if err != nil {
		return err
	}
	if offer.Lender != caller {
		return errNotLender
	}
	if err := e.ledger.ReleaseOffer(offer.Lender, offer.Amount); err != nil {
		return err
	}
	if err := e.state.KVDelete(offerKey(id)); err != nil {
		return err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "cancel_offer")
	return nil
}

// AcceptOffer turns an open offer into a live loan. The lender's escrow
// becomes lent-out principal, the borrower locks collateral and takes on
// bilateral debt for the full offered amount. The borrower's solvency is
// checked against the projected debt before anything moves.
func (e *Engine) AcceptOffer(id [32]byte, borrower pool.PositionKey, collateral *big.Int) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	if collateral == nil || collateral.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	offer, err := e.loadOffer(id)
	if err != nil {
		return nil, err
	}
	if offer.Lender == borrower {
		return nil, errSelfDeal
	}

	existingDebt, err := e.ledger.CalculateTotalDebt(borrower)
	if err != nil {
		return nil, err
	}
	projected := new(big.Int).Add(existingDebt, offer.Amount)
	if err := e.ledger.RequireSolvent(borrower, collateral, existingDebt, projected); err != nil {
		return nil, err
	}

	// Lock the borrower's collateral before touching the lender's escrow:
	// the collateral amount is caller-supplied and may exceed the borrower's
	// free principal, and a failure here must leave the offer cancellable.
	if err := e.ledger.LockCollateral(borrower, collateral); err != nil {
		return nil, err
	}
	if err := e.ledger.LendFromEscrow(offer.Lender, offer.Amount); err != nil {
		if unlockErr := e.ledger.UnlockCollateral(borrower, collateral); unlockErr != nil {
			return nil, unlockErr
		}
		return nil, err
	}
	bilateral, err := e.ledger.Debt(borrower, pool.DebtBilateral)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.SetDebt(borrower, pool.DebtBilateral, new(big.Int).Add(bilateral, offer.Amount)); err != nil {
		return nil, err
	}

	loan := &Loan{
		ID:         deriveLoanID(offer.ID),
		OfferID:    offer.ID,
		Lender:     offer.Lender,
		Borrower:   borrower,
		Principal:  new(big.Int).Set(offer.Amount),
		Collateral: new(big.Int).Set(collateral),
		StartedAt:  e.nowFn(),
	}
	if err := e.state.KVPut(loanKey(loan.ID), loan); err != nil {
		return nil, err
	}
	if err := e.state.KVDelete(offerKey(id)); err != nil {
		return nil, err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "accept_offer")
	return loan, nil
}

// Repay unwinds a live loan: the borrower's bilateral debt is cleared, its
// collateral unlocks, the lender recovers the lent principal and the
// origination fee is routed through the pool. The fee arrives with the
// repayment, so it is injected as fresh backing rather than pulled from the
// pool's tracked balance.
func (e *Engine) Repay(id [32]byte, caller pool.PositionKey) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()

	loan, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	if loan.Borrower != caller {
		return nil, errNotBorrower
	}

	bilateral, err := e.ledger.Debt(loan.Borrower, pool.DebtBilateral)
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(bilateral, loan.Principal)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	if err := e.ledger.SetDebt(loan.Borrower, pool.DebtBilateral, remaining); err != nil {
		return nil, err
	}
	if err := e.ledger.UnlockCollateral(loan.Borrower, loan.Collateral); err != nil {
		return nil, err
	}
	if err := e.ledger.RecoverLent(loan.Lender, loan.Principal); err != nil {
		return nil, err
	}

	fee := feeFor(loan.Principal, e.originationFeeBps)
	if fee.Sign() > 0 {
		if _, err := e.ledger.RouteSamePool(e.ledger.PoolID(), fee, moduleName, false, fee); err != nil {
			return nil, err
		}
	}
	if err := e.state.KVDelete(loanKey(id)); err != nil {
		return nil, err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "repay")
	return fee, nil
}

// Offer returns the stored offer record.
func (e *Engine) Offer(id [32]byte) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadOffer(id)
}

// Loan returns the stored loan record.
func (e *Engine) Loan(id [32]byte) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadLoan(id)
}

func (e *Engine) loadOffer(id [32]byte) (*Offer, error) {
	offer := new(Offer)
	ok, err := e.state.KVGet(offerKey(id), offer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errOfferNotFound
	}
	return offer, nil
}

func (e *Engine) loadLoan(id [32]byte) (*Loan, error) {
	loan := new(Loan)
	ok, err := e.state.KVGet(loanKey(id), loan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errLoanNotFound
	}
	return loan, nil
}

func feeFor(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return fee.Quo(fee, big.NewInt(10_000))
}
