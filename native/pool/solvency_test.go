package pool

import (
	"errors"
	"math/big"
	"testing"
)

func TestCheckSolvencyAgainstLTV(t *testing.T) {
	engine, state := newTestEngine(t, Config{})
	state.pools["default"].DepositorLTVBps = 5_000

	cases := []struct {
		name       string
		collateral int64
		debt       int64
		want       bool
	}{
		{"no debt is always solvent", 0, 0, true},
		{"at the ceiling", 1_000, 500, true},
		{"one over the ceiling", 1_000, 501, false},
		{"no collateral", 0, 1, false},
		{"small position", 3, 1, true},
	}
	for _, tc := range cases {
		got, err := engine.CheckSolvency(big.NewInt(tc.collateral), big.NewInt(tc.debt))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

// Same-asset debt is subtracted from gross collateral so money owed back to
// the pool cannot inflate the apparent backing.
func TestNetEquitySubtractsSameAssetDebt(t *testing.T) {
	if got := NetEquity(big.NewInt(1_000), big.NewInt(400)); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected net equity: %s", got)
	}
	if got := NetEquity(big.NewInt(300), big.NewInt(400)); got.Sign() != 0 {
		t.Fatalf("negative equity should floor at zero, got %s", got)
	}
	if got := NetEquity(nil, big.NewInt(400)); got.Sign() != 0 {
		t.Fatalf("nil collateral should read as zero, got %s", got)
	}
}

func TestRequireSolventRejectsLTVBreach(t *testing.T) {
	engine, state := newTestEngine(t, Config{})
	state.pools["default"].DepositorLTVBps = 5_000
	owner := makeAddr(0x50)
	key := makeKey(0x50)
	fund(state, owner, 1_000)
	if err := engine.Deposit(key, owner, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := engine.RequireSolvent(key, big.NewInt(1_000), big.NewInt(0), big.NewInt(500)); err != nil {
		t.Fatalf("solvent position rejected: %v", err)
	}
	err := engine.RequireSolvent(key, big.NewInt(1_000), big.NewInt(0), big.NewInt(501))
	if !errors.Is(err, errLTVExceeded) {
		t.Fatalf("expected errLTVExceeded, got %v", err)
	}
	// Same-asset debt shrinks the usable collateral: 1000 gross minus 400
	// same-asset supports at most 300 of debt at 50% LTV.
	err = engine.RequireSolvent(key, big.NewInt(1_000), big.NewInt(400), big.NewInt(301))
	if !errors.Is(err, errLTVExceeded) {
		t.Fatalf("expected errLTVExceeded with same-asset debt, got %v", err)
	}
	if err := engine.RequireSolvent(key, big.NewInt(1_000), big.NewInt(400), big.NewInt(300)); err != nil {
		t.Fatalf("net-equity solvent position rejected: %v", err)
	}
}

func TestCalculateTotalDebtSumsAllSources(t *testing.T) {
	engine, state := newTestEngine(t, Config{})
	owner := makeAddr(0x51)
	key := makeKey(0x51)
	fund(state, owner, 10_000)
	if err := engine.Deposit(key, owner, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	for source, amount := range map[DebtSource]int64{
		DebtRolling:   100,
		DebtTerm:      200,
		DebtBilateral: 300,
		DebtAtomic:    400,
	} {
		if err := engine.SetDebt(key, source, big.NewInt(amount)); err != nil {
			t.Fatalf("set %s debt: %v", source, err)
		}
	}

	total, err := engine.CalculateTotalDebt(key)
	if err != nil {
		t.Fatalf("total debt: %v", err)
	}
	if total.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected total debt: %s", total)
	}
}
