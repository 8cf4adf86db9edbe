package auction

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
	errNilState       = errors.New("auction engine: state not configured")
	errNilLedger      = errors.New("auction engine: ledger not configured")
	errInvalidAmount  = errors.New("auction engine: amount must be positive")
	errAuctionExists  = errors.New("auction engine: auction already exists")
	errAuctionMissing = errors.New("auction engine: auction not found")
	errNotSeller      = errors.New("auction engine: caller is not the seller")
)

const moduleName = "auction"

var auctionPrefix = []byte("auction/reserve/")

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Auction is a timed reserve of principal awaiting a fill. The reserved
// amount sits in the seller's AuctionReserve bucket and earns no active
// credit while the auction runs.
type Auction struct {
	ID        [32]byte
	Seller    pool.PositionKey
	Amount    *big.Int
	CreatedAt uint64
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Amount != nil {
		clone.Amount = new(big.Int).Set(a.Amount)
	}
	return &clone
}

// Engine exposes timed auction reserves on top of the pool ledger. Pricing
// and matching happen elsewhere; the engine accounts only for the reserved
// principal and the fill fee.
type Engine struct {
	ledger pool.Ledger
	state  engineState
	pauses nativecommon.PauseView
	guard  nativecommon.ReentrancyGuard
	nowFn  func() uint64

	fillFeeBps uint64
}

// NewEngine constructs an auction engine charging the given fill fee.
func NewEngine(ledger pool.Ledger, fillFeeBps uint64) *Engine {
	return &Engine{
		ledger:     ledger,
		nowFn:      func() uint64 { return uint64(time.Now().Unix()) },
		fillFeeBps: fillFeeBps,
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

func auctionKey(id [32]byte) []byte {
	return append(append([]byte{}, auctionPrefix...), id[:]...)
}

func deriveAuctionID(seller pool.PositionKey, nonce uint64) [32]byte {
	buf := make([]byte, len(auctionPrefix)+len(seller)+8)
	copy(buf, auctionPrefix)
	copy(buf[len(auctionPrefix):], seller[:])
	binary.BigEndian.PutUint64(buf[len(buf)-8:], nonce)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

// Reserve moves free principal into the seller's auction reserve and opens
// the auction record.
func (e *Engine) Reserve(seller pool.PositionKey, amount *big.Int, nonce uint64) (*Auction, error) {
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

	id := deriveAuctionID(seller, nonce)
	var existing Auction
	if ok, err := e.state.KVGet(auctionKey(id), &existing); err != nil {
		return nil, err
	} else if ok {
		return nil, errAuctionExists
	}

	if err := e.ledger.ReserveForAuction(seller, amount); err != nil {
		return nil, err
	}

	auction := &Auction{
		ID:        id,
		Seller:    seller,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: e.nowFn(),
	}
	if err := e.state.KVPut(auctionKey(id), auction); err != nil {
		return nil, err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "reserve")
	return auction, nil
}

// Release cancels an unfilled auction and returns the reserve to the
// seller's free principal.
func (e *Engine) Release(id [32]byte, caller pool.PositionKey) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	auction, err := e.loadAuction(id)
	if err != nil {
		return err
	}
	if auction.Seller != caller {
		return errNotSeller
	}
	if err := e.ledger.ReleaseAuctionReserve(auction.Seller, auction.Amount); err != nil {
		return err
	}
	if err := e.state.KVDelete(auctionKey(id)); err != nil {
		return err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "release")
	return nil
}

// Fill consumes the auction: the reserve returns to the seller's free
// principal as sale proceeds settle off-ledger, and the fill fee arrives as
// fresh backing routed through the pool.
func (e *Engine) Fill(id [32]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()

	auction, err := e.loadAuction(id)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.ReleaseAuctionReserve(auction.Seller, auction.Amount); err != nil {
		return nil, err
	}

	fee := big.NewInt(0)
	if e.fillFeeBps > 0 {
		fee = new(big.Int).Mul(auction.Amount, new(big.Int).SetUint64(e.fillFeeBps))
		fee.Quo(fee, big.NewInt(10_000))
	}
	if fee.Sign() > 0 {
		if _, err := e.ledger.RouteSamePool(e.ledger.PoolID(), fee, moduleName, false, fee); err != nil {
			return nil, err
		}
	}
	if err := e.state.KVDelete(auctionKey(id)); err != nil {
		return nil, err
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "fill")
	return fee, nil
}

// RestoreReserve re-reserves principal after a refunded fill. It is a
// best-effort unwind: the restored amount clamps to the seller's remaining
// free principal instead of failing, and the auction record reopens with
// whatever was actually restored. Returns the restored amount.
func (e *Engine) RestoreReserve(id [32]byte, seller pool.PositionKey, amount *big.Int) (*big.Int, error) {
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

	var existing Auction
	if ok, err := e.state.KVGet(auctionKey(id), &existing); err != nil {
		return nil, err
	} else if ok {
		return nil, errAuctionExists
	}

	restored, err := e.ledger.RestoreAuctionReserve(seller, amount)
	if err != nil {
		return nil, err
	}
	if restored.Sign() > 0 {
		auction := &Auction{
			ID:        id,
			Seller:    seller,
			Amount:    new(big.Int).Set(restored),
			CreatedAt: e.nowFn(),
		}
		if err := e.state.KVPut(auctionKey(id), auction); err != nil {
			return nil, err
		}
	}
	metrics.Pool().ObserveFacadeOp(moduleName, "restore_reserve")
	return restored, nil
}

// Auction returns the stored auction record.
func (e *Engine) Auction(id [32]byte) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadAuction(id)
}

func (e *Engine) loadAuction(id [32]byte) (*Auction, error) {
	auction := new(Auction)
	ok, err := e.state.KVGet(auctionKey(id), auction)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuctionMissing
	}
	return auction, nil
}
