package pool

import (
	"math/big"
	"testing"
)

// A pool with 1000 deposits accruing 100 grows
// its index by 100*SCALE/1000, and a 200-principal position settling after
// the accrual collects exactly 20.
func TestAccrueAndSettleEndToEnd(t *testing.T) {
	engine, state := newTestEngine(t, Config{})
	owner := makeAddr(0x10)
	key := makeKey(0x10)
	fund(state, owner, 2_000)

	if err := engine.Deposit(key, owner, big.NewInt(200)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Bring the pool total to 1000 with a second position.
	other := makeKey(0x11)
	fund(state, makeAddr(0x11), 2_000)
	if err := engine.Deposit(other, makeAddr(0x11), big.NewInt(800)); err != nil {
		t.Fatalf("deposit other: %v", err)
	}

	p := state.pools["default"]
	p.TrackedBalance = new(big.Int).Add(p.TrackedBalance, big.NewInt(100))
	p.YieldReserve = big.NewInt(100)
	if err := engine.AccrueWithSource("default", big.NewInt(100), "test"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	expectedGrowth := new(big.Int).Quo(new(big.Int).Mul(big.NewInt(100), scale), big.NewInt(1_000))
	expectedIndex := new(big.Int).Add(scale, expectedGrowth)
	if p.FeeIndex.Cmp(expectedIndex) != 0 {
		t.Fatalf("unexpected fee index: got %s want %s", p.FeeIndex, expectedIndex)
	}

	if err := engine.SettleFees(key); err != nil {
		t.Fatalf("settle: %v", err)
	}
	position := state.positions[state.positionKey("default", key)]
	if position.AccruedYield.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("unexpected accrued yield: %s", position.AccruedYield)
	}
	if position.FeeCheckpoint.Cmp(p.FeeIndex) != 0 {
		t.Fatalf("checkpoint not advanced: %s", position.FeeCheckpoint)
	}
}

func TestSettlementIdempotence(t *testing.T) {
	engine, state := newTestEngine(t, Config{})
	owner := makeAddr(0x12)
	key := makeKey(0x12)
	fund(state, owner, 1_000)

	if err := engine.Deposit(key, owner, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	p := state.pools["default"]
	p.TrackedBalance = new(big.Int).Add(p.TrackedBalance, big.NewInt(50))
	p.YieldReserve = big.NewInt(50)
	if err := engine.AccrueWithSource("default", big.NewInt(50), "test"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	if err := engine.SettleFees(key); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	position := state.positions[state.positionKey("default", key)]
	first := new(big.Int).Set(position.AccruedYield)
	if first.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected first settlement: %s", first)
	}

	if err := engine.SettleFees(key); err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if position.AccruedYield.Cmp(first) != 0 {
		t.Fatalf("second settle accrued extra yield: %s", position.AccruedYield)
	}
}

// Settlement ordering matters: principal mutated after a settle earns a
// different, predictable amount from principal mutated before one.
func TestSettleThenMutateOrdering(t *testing.T) {
	engine, state := newTestEngine(t, Config{})
	owner := makeAddr(0x13)
	key := makeKey(0x13)
	fund(state, owner, 10_000)

	if err := engine.Deposit(key, owner, big.NewInt(200)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	p := state.pools["default"]
	p.TrackedBalance = new(big.Int).Add(p.TrackedBalance, big.NewInt(20))
	p.YieldReserve = big.NewInt(20)
	if err := engine.AccrueWithSource("default", big.NewInt(20), "test"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	// Deposit settles first: the accrual above is paid on the old principal
	// of 200, not the new total of 1200.
	if err := engine.Deposit(key, owner, big.NewInt(1_000)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	position := state.positions[state.positionKey("default", key)]
	if position.AccruedYield.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected yield on old principal only, got %s", position.AccruedYield)
	}

	// A second accrual of the same size now pays on the enlarged principal.
	p.TrackedBalance = new(big.Int).Add(p.TrackedBalance, big.NewInt(120))
	p.YieldReserve = new(big.Int).Add(p.YieldReserve, big.NewInt(120))
	if err := engine.AccrueWithSource("default", big.NewInt(120), "test"); err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	if err := engine.SettleFees(key); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if position.AccruedYield.Cmp(big.NewInt(140)) != 0 {
		t.Fatalf("expected 20 + 120, got %s", position.AccruedYield)
	}
}

func TestAccrueNoDepositorsLeavesIndexUntouched(t *testing.T) {
	engine, state := newTestEngine(t, Config{})
	p := state.pools["default"]
	p.TrackedBalance = big.NewInt(100)
	p.YieldReserve = big.NewInt(100)

	if err := engine.AccrueWithSource("default", big.NewInt(100), "test"); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if p.FeeIndex.Cmp(scale) != 0 {
		t.Fatalf("index should stay at scale, got %s", p.FeeIndex)
	}
}

// Truncating division leaves a remainder that must carry into the next
// accrual rather than vanish.
func TestAccrueRemainderCarriesForward(t *testing.T) {
	engine, state := newTestEngine(t, Config{})
	owner := makeAddr(0x14)
	fund(state, owner, 10_000)
	if err := engine.Deposit(makeKey(0x14), owner, big.NewInt(3)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	p := state.pools["default"]

	if err := engine.AccrueWithSource("default", big.NewInt(1), "test"); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	// 1*SCALE/3 truncates; remainder 1 is held back.
	if p.FeeRemainder.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("unexpected remainder: %s", p.FeeRemainder)
	}

	if err := engine.AccrueWithSource("default", big.NewInt(1), "test"); err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	// The held-back unit re-enters the division: (SCALE + 1) mod 3.
	rem := new(big.Int).Mod(new(big.Int).Add(scale, big.NewInt(1)), big.NewInt(3))
	if p.FeeRemainder.Cmp(rem) != 0 {
		t.Fatalf("unexpected carried remainder: got %s want %s", p.FeeRemainder, rem)
	}
	total := new(big.Int).Sub(p.FeeIndex, scale)
	total.Mul(total, big.NewInt(3))
	total.Add(total, p.FeeRemainder)
	// Distributed growth times deposits plus the remainder equals the full
	// scaled amount accrued, so nothing was dropped.
	want := new(big.Int).Mul(big.NewInt(2), scale)
	if total.Cmp(want) != 0 {
		t.Fatalf("conservation mismatch: got %s want %s", total, want)
	}
}
