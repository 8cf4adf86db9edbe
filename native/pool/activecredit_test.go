package pool

import (
	"math/big"
	"testing"
)

const testGate = 100

func newGatedEngine(t *testing.T) (*Engine, *mockEngineState) {
	t.Helper()
	engine, state := newTestEngine(t, Config{TimeGateSeconds: testGate})
	return engine, state
}

func depositAndLock(t *testing.T, engine *Engine, state *mockEngineState, key PositionKey, owner [20]byte, deposit, lock int64) {
	t.Helper()
	fund(state, owner, deposit)
	if err := engine.Deposit(key, owner, big.NewInt(deposit)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if lock > 0 {
		if err := engine.LockCollateral(key, big.NewInt(lock)); err != nil {
			t.Fatalf("lock: %v", err)
		}
	}
}

// A track created at time T contributes zero weight before T+gate and
// exactly its principal from T+gate onward.
func TestMaturityGateBoundary(t *testing.T) {
	engine, state := newGatedEngine(t)
	key := makeKey(0x20)
	engine.SetBlockTimestamp(1_000)
	depositAndLock(t, engine, state, key, makeAddr(0x20), 1_000, 500)

	p := state.pools["default"]
	if p.ActiveCreditPrincipalTotal.Sign() != 0 {
		t.Fatalf("weight counted before maturity: %s", p.ActiveCreditPrincipalTotal)
	}

	engine.SetBlockTimestamp(1_000 + testGate - 1)
	if err := engine.SettleActiveCredit(key); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if p.ActiveCreditPrincipalTotal.Sign() != 0 {
		t.Fatalf("weight matured one second early: %s", p.ActiveCreditPrincipalTotal)
	}

	engine.SetBlockTimestamp(1_000 + testGate)
	if err := engine.SettleActiveCredit(key); err != nil {
		t.Fatalf("settle at gate: %v", err)
	}
	if p.ActiveCreditPrincipalTotal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected full weight at gate, got %s", p.ActiveCreditPrincipalTotal)
	}

	position := state.positions[state.positionKey("default", key)]
	if position.EncumbranceTrack.StartTime != 0 {
		t.Fatalf("matured track should clear start time, got %d", position.EncumbranceTrack.StartTime)
	}
}

// Immature weight earns nothing from index growth that happens before its
// gate passes.
func TestImmatureWeightCapturesNoGrowth(t *testing.T) {
	engine, state := newGatedEngine(t)

	// A long-matured position supplies the denominator.
	other := makeKey(0x22)
	engine.SetBlockTimestamp(500)
	depositAndLock(t, engine, state, other, makeAddr(0x22), 1_000, 500)

	key := makeKey(0x21)
	engine.SetBlockTimestamp(1_000)
	depositAndLock(t, engine, state, key, makeAddr(0x21), 1_000, 500)
	engine.SetBlockTimestamp(1_050)
	if err := engine.SettleActiveCredit(other); err != nil {
		t.Fatalf("settle other: %v", err)
	}

	p := state.pools["default"]
	p.TrackedBalance = new(big.Int).Add(p.TrackedBalance, big.NewInt(50))
	p.YieldReserve = big.NewInt(50)
	if err := engine.AccrueActiveCredit("default", big.NewInt(50), "test"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	engine.SetBlockTimestamp(1_000 + testGate)
	if err := engine.SettleActiveCredit(key); err != nil {
		t.Fatalf("settle: %v", err)
	}
	position := state.positions[state.positionKey("default", key)]
	if position.AccruedYield.Sign() != 0 {
		t.Fatalf("immature track captured growth: %s", position.AccruedYield)
	}

	if err := engine.SettleActiveCredit(other); err != nil {
		t.Fatalf("settle matured: %v", err)
	}
	matured := state.positions[state.positionKey("default", other)]
	if matured.AccruedYield.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("matured track owed 50, got %s", matured.AccruedYield)
	}
}

// An increase on an already matured track opens a fresh cohort without
// resetting the matured weight.
func TestWeightedIncreasePreservesMaturedWeight(t *testing.T) {
	engine, state := newGatedEngine(t)
	key := makeKey(0x23)
	engine.SetBlockTimestamp(1_000)
	depositAndLock(t, engine, state, key, makeAddr(0x23), 2_000, 500)

	engine.SetBlockTimestamp(1_000 + testGate)
	if err := engine.SettleActiveCredit(key); err != nil {
		t.Fatalf("settle: %v", err)
	}
	p := state.pools["default"]
	if p.ActiveCreditPrincipalTotal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 500 matured, got %s", p.ActiveCreditPrincipalTotal)
	}

	engine.SetBlockTimestamp(1_150)
	if err := engine.LockCollateral(key, big.NewInt(300)); err != nil {
		t.Fatalf("second lock: %v", err)
	}
	// The matured 500 stays counted; only the new 300 waits out a new gate.
	if p.ActiveCreditPrincipalTotal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("matured weight reset by deposit: %s", p.ActiveCreditPrincipalTotal)
	}
	position := state.positions[state.positionKey("default", key)]
	if position.EncumbranceTrack.StartTime != 1_150 {
		t.Fatalf("new cohort not gated from now: %d", position.EncumbranceTrack.StartTime)
	}

	// Growth injected now is earned by the matured 500 alone.
	p.TrackedBalance = new(big.Int).Add(p.TrackedBalance, big.NewInt(100))
	p.YieldReserve = big.NewInt(100)
	if err := engine.AccrueActiveCredit("default", big.NewInt(100), "test"); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	engine.SetBlockTimestamp(1_150 + testGate)
	if err := engine.SettleActiveCredit(key); err != nil {
		t.Fatalf("final settle: %v", err)
	}
	if position.AccruedYield.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("matured weight owed 100, got %s", position.AccruedYield)
	}
	if p.ActiveCreditPrincipalTotal.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("cohort not promoted, got %s", p.ActiveCreditPrincipalTotal)
	}
}

// Decreases consume the immature cohort first so weight that served its time
// keeps earning.
func TestDecreaseConsumesPendingFirst(t *testing.T) {
	engine, state := newGatedEngine(t)
	key := makeKey(0x24)
	engine.SetBlockTimestamp(1_000)
	depositAndLock(t, engine, state, key, makeAddr(0x24), 2_000, 500)

	engine.SetBlockTimestamp(1_000 + testGate)
	if err := engine.SettleActiveCredit(key); err != nil {
		t.Fatalf("settle: %v", err)
	}
	engine.SetBlockTimestamp(1_150)
	if err := engine.LockCollateral(key, big.NewInt(300)); err != nil {
		t.Fatalf("second lock: %v", err)
	}

	p := state.pools["default"]
	if err := engine.UnlockCollateral(key, big.NewInt(300)); err != nil {
		t.Fatalf("unlock pending: %v", err)
	}
	if p.ActiveCreditPrincipalTotal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("pending-first reduction touched matured weight: %s", p.ActiveCreditPrincipalTotal)
	}

	if err := engine.UnlockCollateral(key, big.NewInt(200)); err != nil {
		t.Fatalf("unlock matured: %v", err)
	}
	if p.ActiveCreditPrincipalTotal.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("matured weight not reduced: %s", p.ActiveCreditPrincipalTotal)
	}
}

func TestResetIfZeroClearsTrack(t *testing.T) {
	engine, state := newGatedEngine(t)
	key := makeKey(0x25)
	engine.SetBlockTimestamp(1_000)
	depositAndLock(t, engine, state, key, makeAddr(0x25), 1_000, 400)

	engine.SetBlockTimestamp(1_000 + testGate)
	if err := engine.SettleActiveCredit(key); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := engine.UnlockCollateral(key, big.NewInt(400)); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	p := state.pools["default"]
	if p.ActiveCreditPrincipalTotal.Sign() != 0 {
		t.Fatalf("weight left behind after reset: %s", p.ActiveCreditPrincipalTotal)
	}
	position := state.positions[state.positionKey("default", key)]
	track := position.EncumbranceTrack
	if track.Principal.Sign() != 0 || track.MaturedPrincipal.Sign() != 0 || track.StartTime != 0 || track.IndexSnapshot.Sign() != 0 {
		t.Fatalf("track not fully cleared: %+v", track)
	}
}

// Debt deltas run through the same gate on the debt track.
func TestDebtTrackMaturesIndependently(t *testing.T) {
	engine, state := newGatedEngine(t)
	key := makeKey(0x26)
	engine.SetBlockTimestamp(1_000)
	depositAndLock(t, engine, state, key, makeAddr(0x26), 1_000, 0)

	if err := engine.SetDebt(key, DebtRolling, big.NewInt(250)); err != nil {
		t.Fatalf("set debt: %v", err)
	}
	p := state.pools["default"]
	if p.ActiveCreditPrincipalTotal.Sign() != 0 {
		t.Fatalf("debt weight counted before maturity: %s", p.ActiveCreditPrincipalTotal)
	}

	engine.SetBlockTimestamp(1_000 + testGate)
	if err := engine.SettleActiveCredit(key); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if p.ActiveCreditPrincipalTotal.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("debt weight not promoted: %s", p.ActiveCreditPrincipalTotal)
	}

	if err := engine.SetDebt(key, DebtRolling, big.NewInt(0)); err != nil {
		t.Fatalf("clear debt: %v", err)
	}
	if p.ActiveCreditPrincipalTotal.Sign() != 0 {
		t.Fatalf("debt weight not removed: %s", p.ActiveCreditPrincipalTotal)
	}
}

// MaturedWeight reports gate-passed weight even before a settlement has
// promoted it into the pool total.
func TestMaturedWeightTracksGate(t *testing.T) {
	engine, state := newGatedEngine(t)
	key := makeKey(0x28)
	engine.SetBlockTimestamp(1_000)
	depositAndLock(t, engine, state, key, makeAddr(0x28), 1_000, 400)

	position := state.positions[state.positionKey("default", key)]
	track := position.EncumbranceTrack

	if got := engine.MaturedWeight(track, 1_000+testGate-1); got.Sign() != 0 {
		t.Fatalf("weight reported matured before the gate: %s", got)
	}
	if got := engine.MaturedWeight(track, 1_000+testGate); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected 400 matured at the gate, got %s", got)
	}
	// The pool total still waits for a settlement to promote.
	if state.pools["default"].ActiveCreditPrincipalTotal.Sign() != 0 {
		t.Fatalf("promotion happened without a settlement")
	}
}

// An installed time source drives the gate per operation without re-pinning
// the block timestamp.
func TestNowFuncDrivesMaturityGate(t *testing.T) {
	engine, state := newGatedEngine(t)
	key := makeKey(0x29)
	now := uint64(1_000)
	engine.SetNowFunc(func() uint64 { return now })
	depositAndLock(t, engine, state, key, makeAddr(0x29), 1_000, 300)

	p := state.pools["default"]
	now = 1_000 + testGate - 1
	if err := engine.SettleActiveCredit(key); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if p.ActiveCreditPrincipalTotal.Sign() != 0 {
		t.Fatalf("weight matured early: %s", p.ActiveCreditPrincipalTotal)
	}

	now = 1_000 + testGate
	if err := engine.SettleActiveCredit(key); err != nil {
		t.Fatalf("settle at gate: %v", err)
	}
	if p.ActiveCreditPrincipalTotal.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected promotion at gate, got %s", p.ActiveCreditPrincipalTotal)
	}
}

func TestApplyDeltaRejectsMismatchedTotals(t *testing.T) {
	engine, state := newGatedEngine(t)
	key := makeKey(0x27)
	engine.SetBlockTimestamp(1_000)
	depositAndLock(t, engine, state, key, makeAddr(0x27), 1_000, 200)

	err := engine.ApplyEncumbranceDelta(key, big.NewInt(150), big.NewInt(300))
	if err != errTrackMismatch {
		t.Fatalf("expected errTrackMismatch, got %v", err)
	}
	_ = state
}
