package pool

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PositionKey identifies an isolated position within a pool. Keys are derived
// from the ownership token so that transferring the token transfers the whole
// position without rewriting per-pool state.
type PositionKey [32]byte

// DerivePositionKey computes the deterministic key for an ownership token held
// by the supplied owner. The same (owner, tokenID) pair always maps to the
// same key.
func DerivePositionKey(owner [20]byte, tokenID uint64) PositionKey {
	buf := make([]byte, 20+8)
	copy(buf, owner[:])
	for i := 0; i < 8; i++ {
		buf[20+i] = byte(tokenID >> (56 - 8*i))
	}
	var key PositionKey
	copy(key[:], ethcrypto.Keccak256(buf))
	return key
}

// Pool captures the global accounting state for one underlying asset. Amount
// values are denominated in wei and expressed as big integers to match
// on-chain precision.
type Pool struct {
	// TotalDeposits is the sum of user principal currently deposited.
	TotalDeposits *big.Int
	// TrackedBalance is the sum of backing assets actually held by the pool.
	// Withdrawals and treasury payouts are cross-checked against it.
	TrackedBalance *big.Int
	// YieldReserve backs yield that has been accrued to positions but not yet
	// claimed.
	YieldReserve *big.Int
	// FeeIndex is the scaled accumulator distributing protocol fee income
	// pro-rata to raw principal. Monotonically non-decreasing.
	FeeIndex *big.Int
	// FeeRemainder carries the undistributed remainder of truncating index
	// divisions forward into the next accrual.
	FeeRemainder *big.Int
	// ActiveCreditIndex is the scaled accumulator distributing the second
	// reward stream pro-rata to matured active-credit weight.
	ActiveCreditIndex *big.Int
	// ActiveCreditRemainder carries the active-credit rounding remainder.
	ActiveCreditRemainder *big.Int
	// ActiveCreditPrincipalTotal is the sum of matured weighted amounts
	// currently earning active credit.
	ActiveCreditPrincipalTotal *big.Int
	// DepositorLTVBps is the loan-to-value ceiling applied by the solvency
	// check, expressed in basis points.
	DepositorLTVBps uint64
	// Managed marks manager-defined variant pools that route fees through
	// their base pool.
	Managed bool
	// BasePoolID names the shared system pool for managed variants.
	BasePoolID string
}

// ActiveCreditState tracks one reward stream cohort for a position. Two
// instances exist per (position, pool): the encumbrance track and the debt
// track.
type ActiveCreditState struct {
	// Principal is the full weight-eligible amount on the track.
	Principal *big.Int
	// MaturedPrincipal is the portion of Principal that has passed the
	// maturity gate and is counted in the pool's ActiveCreditPrincipalTotal.
	MaturedPrincipal *big.Int
	// StartTime records when the current immature cohort began maturing.
	// Zero when the track is empty or fully matured.
	StartTime uint64
	// IndexSnapshot is the pool's ActiveCreditIndex as of the last settlement
	// for this track.
	IndexSnapshot *big.Int
}

// Encumbrance breaks down how much of a position's principal is committed to
// a purpose and therefore unavailable for withdrawal. Buckets never go
// negative; a decrement below zero signals an accounting defect.
type Encumbrance struct {
	// DirectLocked is collateral locked for a bilateral loan as borrower.
	DirectLocked *big.Int
	// DirectLent is principal lent out as a bilateral or atomic lender.
	DirectLent *big.Int
	// DirectOfferEscrow is principal reserved behind an open lending offer.
	// It earns no active credit until actually lent.
	DirectOfferEscrow *big.Int
	// AuctionReserve is principal reserved for a timed auction.
	AuctionReserve *big.Int
}

// PositionState maintains the per-pool ledger entry for a single position.
type PositionState struct {
	Key PositionKey
	// Principal is the position's deposited principal within the pool.
	Principal *big.Int
	// AccruedYield is settled but unclaimed yield from both reward streams.
	AccruedYield *big.Int
	// FeeCheckpoint is the pool's FeeIndex as of the last fee settlement.
	FeeCheckpoint *big.Int
	// EncumbranceTrack earns active credit on DirectLocked + DirectLent.
	EncumbranceTrack *ActiveCreditState
	// DebtTrack earns active credit on the position's total debt.
	DebtTrack *ActiveCreditState
	// Encumbrance records the committed portions of Principal.
	Encumbrance *Encumbrance

	// Per-source debt amounts summed by CalculateTotalDebt.
	RollingDebt   *big.Int
	TermDebt      *big.Int
	BilateralDebt *big.Int
	AtomicDebt    *big.Int
}

// Total returns the sum of all encumbrance buckets.
func (enc *Encumbrance) Total() *big.Int {
	if enc == nil {
		return big.NewInt(0)
	}
	total := big.NewInt(0)
	for _, bucket := range []*big.Int{enc.DirectLocked, enc.DirectLent, enc.DirectOfferEscrow, enc.AuctionReserve} {
		if bucket != nil {
			total.Add(total, bucket)
		}
	}
	return total
}

// ActiveCreditWeight returns the portion of the encumbrance that earns active
// credit: locked collateral plus lent-out principal. Offer escrow and auction
// reserves are excluded until they are actually consumed.
func (enc *Encumbrance) ActiveCreditWeight() *big.Int {
	if enc == nil {
		return big.NewInt(0)
	}
	weight := big.NewInt(0)
	if enc.DirectLocked != nil {
		weight.Add(weight, enc.DirectLocked)
	}
	if enc.DirectLent != nil {
		weight.Add(weight, enc.DirectLent)
	}
	return weight
}

// Clone returns a deep copy of the pool state.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := &Pool{
		DepositorLTVBps: p.DepositorLTVBps,
		Managed:         p.Managed,
		BasePoolID:      p.BasePoolID,
	}
	clone.TotalDeposits = cloneBig(p.TotalDeposits)
	clone.TrackedBalance = cloneBig(p.TrackedBalance)
	clone.YieldReserve = cloneBig(p.YieldReserve)
	clone.FeeIndex = cloneBig(p.FeeIndex)
	clone.FeeRemainder = cloneBig(p.FeeRemainder)
	clone.ActiveCreditIndex = cloneBig(p.ActiveCreditIndex)
	clone.ActiveCreditRemainder = cloneBig(p.ActiveCreditRemainder)
	clone.ActiveCreditPrincipalTotal = cloneBig(p.ActiveCreditPrincipalTotal)
	return clone
}

// Clone returns a deep copy of the track state.
func (s *ActiveCreditState) Clone() *ActiveCreditState {
	if s == nil {
		return nil
	}
	clone := &ActiveCreditState{StartTime: s.StartTime}
	clone.Principal = cloneBig(s.Principal)
	clone.MaturedPrincipal = cloneBig(s.MaturedPrincipal)
	clone.IndexSnapshot = cloneBig(s.IndexSnapshot)
	return clone
}

// Clone returns a deep copy of the encumbrance buckets.
func (enc *Encumbrance) Clone() *Encumbrance {
	if enc == nil {
		return nil
	}
	return &Encumbrance{
		DirectLocked:      cloneBig(enc.DirectLocked),
		DirectLent:        cloneBig(enc.DirectLent),
		DirectOfferEscrow: cloneBig(enc.DirectOfferEscrow),
		AuctionReserve:    cloneBig(enc.AuctionReserve),
	}
}

// Clone returns a deep copy of the position state.
func (ps *PositionState) Clone() *PositionState {
	if ps == nil {
		return nil
	}
	clone := &PositionState{Key: ps.Key}
	clone.Principal = cloneBig(ps.Principal)
	clone.AccruedYield = cloneBig(ps.AccruedYield)
	clone.FeeCheckpoint = cloneBig(ps.FeeCheckpoint)
	clone.EncumbranceTrack = ps.EncumbranceTrack.Clone()
	clone.DebtTrack = ps.DebtTrack.Clone()
	clone.Encumbrance = ps.Encumbrance.Clone()
	clone.RollingDebt = cloneBig(ps.RollingDebt)
	clone.TermDebt = cloneBig(ps.TermDebt)
	clone.BilateralDebt = cloneBig(ps.BilateralDebt)
	clone.AtomicDebt = cloneBig(ps.AtomicDebt)
	return clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
