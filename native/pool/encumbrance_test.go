package pool

import (
	"math/big"
	"testing"
)

// The bucket sum can never exceed principal; an attempt to over-commit fails
// with the exact quantities.
func TestEncumbranceConservation(t *testing.T) {
	engine, state := newTestEngine(t, Config{})
	owner := makeAddr(0x30)
	key := makeKey(0x30)
	fund(state, owner, 1_000)
	if err := engine.Deposit(key, owner, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := engine.LockCollateral(key, big.NewInt(400)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.EscrowOffer(key, big.NewInt(300)); err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if err := engine.ReserveForAuction(key, big.NewInt(300)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err := engine.LockCollateral(key, big.NewInt(1))
	if !IsInsufficientPrincipal(err) {
		t.Fatalf("expected InsufficientPrincipal on over-commit, got %v", err)
	}

	bucket, err := engine.Bucket(key)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	if bucket.Total().Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected bucket total: %s", bucket.Total())
	}
}

func TestOverUnlockFailsWithQuantities(t *testing.T) {
	engine, state := newTestEngine(t, Config{})
	owner := makeAddr(0x31)
	key := makeKey(0x31)
	fund(state, owner, 500)
	if err := engine.Deposit(key, owner, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.LockCollateral(key, big.NewInt(200)); err != nil {
		t.Fatalf("lock: %v", err)
	}

	err := engine.UnlockCollateral(key, big.NewInt(201))
	insufficient, ok := err.(*InsufficientPrincipalError)
	if !ok {
		t.Fatalf("expected InsufficientPrincipalError, got %v", err)
	}
	if insufficient.Required.Cmp(big.NewInt(201)) != 0 || insufficient.Available.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected quantities: %s / %s", insufficient.Required, insufficient.Available)
	}

	// The failed unlock must not have changed anything.
	bucket, err := engine.Bucket(key)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	if bucket.DirectLocked.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("failed unlock mutated the bucket: %s", bucket.DirectLocked)
	}
}

// Offer escrow and auction reserves carry no active-credit weight; moving
// escrow into lent principal does.
func TestEscrowExcludedFromActiveCreditWeight(t *testing.T) {
	engine, state := newTestEngine(t, Config{TimeGateSeconds: testGate})
	owner := makeAddr(0x32)
	key := makeKey(0x32)
	engine.SetBlockTimestamp(1_000)
	fund(state, owner, 1_000)
	if err := engine.Deposit(key, owner, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.EscrowOffer(key, big.NewInt(600)); err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if err := engine.ReserveForAuction(key, big.NewInt(200)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	position := state.positions[state.positionKey("default", key)]
	if position.EncumbranceTrack.Principal.Sign() != 0 {
		t.Fatalf("escrow/reserve gained weight: %s", position.EncumbranceTrack.Principal)
	}

	if err := engine.LendFromEscrow(key, big.NewInt(600)); err != nil {
		t.Fatalf("lend from escrow: %v", err)
	}
	if position.EncumbranceTrack.Principal.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("lent principal missing from weight: %s", position.EncumbranceTrack.Principal)
	}
	if position.EncumbranceTrack.StartTime != 1_000 {
		t.Fatalf("weight cohort not gated: %d", position.EncumbranceTrack.StartTime)
	}
}

// RestoreAuctionReserve is the designated best-effort path: it clamps to the
// free principal instead of failing.
func TestRestoreAuctionReserveClamps(t *testing.T) {
	engine, state := newTestEngine(t, Config{})
	owner := makeAddr(0x33)
	key := makeKey(0x33)
	fund(state, owner, 1_000)
	if err := engine.Deposit(key, owner, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.LockCollateral(key, big.NewInt(800)); err != nil {
		t.Fatalf("lock: %v", err)
	}

	restored, err := engine.RestoreAuctionReserve(key, big.NewInt(500))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected clamp to 200, got %s", restored)
	}
	bucket, err := engine.Bucket(key)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	if bucket.AuctionReserve.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected reserve: %s", bucket.AuctionReserve)
	}

	// Fully committed position: the restore degrades to a no-op.
	restored, err = engine.RestoreAuctionReserve(key, big.NewInt(100))
	if err != nil {
		t.Fatalf("second restore: %v", err)
	}
	if restored.Sign() != 0 {
		t.Fatalf("expected zero restore, got %s", restored)
	}
}
