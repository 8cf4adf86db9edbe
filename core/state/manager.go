package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"crossledger/core/types"
	"crossledger/native/pool"
	"crossledger/storage"
)

// Manager persists ledger state in a key-value store. It implements the state
// interfaces consumed by the pool engine and the facade modules, encoding
// records with RLP under keccak-hashed prefixed keys.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	poolPrefix     = []byte("pool:")
	positionPrefix = []byte("position:")
	accountPrefix  = []byte("account:")
)

func poolKey(poolID string) []byte {
	buf := make([]byte, len(poolPrefix)+len(poolID))
	copy(buf, poolPrefix)
	copy(buf[len(poolPrefix):], poolID)
	return ethcrypto.Keccak256(buf)
}

func positionKey(poolID string, key pool.PositionKey) []byte {
	buf := make([]byte, len(positionPrefix)+len(poolID)+1+len(key))
	copy(buf, positionPrefix)
	copy(buf[len(positionPrefix):], poolID)
	buf[len(positionPrefix)+len(poolID)] = ':'
	copy(buf[len(positionPrefix)+len(poolID)+1:], key[:])
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

// storedPool is the wire representation of a pool record. All amounts are
// normalised to non-nil so RLP round-trips without pointer tags.
type storedPool struct {
	TotalDeposits              *big.Int
	TrackedBalance             *big.Int
	YieldReserve               *big.Int
	FeeIndex                   *big.Int
	FeeRemainder               *big.Int
	ActiveCreditIndex          *big.Int
	ActiveCreditRemainder      *big.Int
	ActiveCreditPrincipalTotal *big.Int
	DepositorLTVBps            uint64
	Managed                    bool
	BasePoolID                 string
}

type storedTrack struct {
	Principal        *big.Int
	MaturedPrincipal *big.Int
	StartTime        uint64
	IndexSnapshot    *big.Int
}

type storedEncumbrance struct {
	DirectLocked      *big.Int
	DirectLent        *big.Int
	DirectOfferEscrow *big.Int
	AuctionReserve    *big.Int
}

type storedPosition struct {
	Key              [32]byte
	Principal        *big.Int
	AccruedYield     *big.Int
	FeeCheckpoint    *big.Int
	EncumbranceTrack storedTrack
	DebtTrack        storedTrack
	Encumbrance      storedEncumbrance
	RollingDebt      *big.Int
	TermDebt         *big.Int
	BilateralDebt    *big.Int
	AtomicDebt       *big.Int
}

func wireBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func wireTrack(t *pool.ActiveCreditState) storedTrack {
	if t == nil {
		t = &pool.ActiveCreditState{}
	}
	return storedTrack{
		Principal:        wireBig(t.Principal),
		MaturedPrincipal: wireBig(t.MaturedPrincipal),
		StartTime:        t.StartTime,
		IndexSnapshot:    wireBig(t.IndexSnapshot),
	}
}

func (t storedTrack) track() *pool.ActiveCreditState {
	return &pool.ActiveCreditState{
		Principal:        t.Principal,
		MaturedPrincipal: t.MaturedPrincipal,
		StartTime:        t.StartTime,
		IndexSnapshot:    t.IndexSnapshot,
	}
}

// GetPool loads a pool record. Absent pools return (nil, nil) so callers can
// distinguish "never configured" from storage failures.
func (m *Manager) GetPool(poolID string) (*pool.Pool, error) {
	raw, err := m.db.Get(poolKey(poolID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedPool
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode pool %q: %w", poolID, err)
	}
	return &pool.Pool{
		TotalDeposits:              stored.TotalDeposits,
		TrackedBalance:             stored.TrackedBalance,
		YieldReserve:               stored.YieldReserve,
		FeeIndex:                   stored.FeeIndex,
		FeeRemainder:               stored.FeeRemainder,
		ActiveCreditIndex:          stored.ActiveCreditIndex,
		ActiveCreditRemainder:      stored.ActiveCreditRemainder,
		ActiveCreditPrincipalTotal: stored.ActiveCreditPrincipalTotal,
		DepositorLTVBps:            stored.DepositorLTVBps,
		Managed:                    stored.Managed,
		BasePoolID:                 stored.BasePoolID,
	}, nil
}

// PutPool stores a pool record.
func (m *Manager) PutPool(poolID string, p *pool.Pool) error {
	if p == nil {
		return fmt.Errorf("state: nil pool %q", poolID)
	}
	stored := storedPool{
		TotalDeposits:              wireBig(p.TotalDeposits),
		TrackedBalance:             wireBig(p.TrackedBalance),
		YieldReserve:               wireBig(p.YieldReserve),
		FeeIndex:                   wireBig(p.FeeIndex),
		FeeRemainder:               wireBig(p.FeeRemainder),
		ActiveCreditIndex:          wireBig(p.ActiveCreditIndex),
		ActiveCreditRemainder:      wireBig(p.ActiveCreditRemainder),
		ActiveCreditPrincipalTotal: wireBig(p.ActiveCreditPrincipalTotal),
		DepositorLTVBps:            p.DepositorLTVBps,
		Managed:                    p.Managed,
		BasePoolID:                 p.BasePoolID,
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("state: encode pool %q: %w", poolID, err)
	}
	return m.db.Put(poolKey(poolID), raw)
}

// GetPosition loads a position record within a pool. Absent positions return
// (nil, nil).
func (m *Manager) GetPosition(poolID string, key pool.PositionKey) (*pool.PositionState, error) {
	raw, err := m.db.Get(positionKey(poolID, key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedPosition
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode position %x: %w", key, err)
	}
	return &pool.PositionState{
		Key:              pool.PositionKey(stored.Key),
		Principal:        stored.Principal,
		AccruedYield:     stored.AccruedYield,
		FeeCheckpoint:    stored.FeeCheckpoint,
		EncumbranceTrack: stored.EncumbranceTrack.track(),
		DebtTrack:        stored.DebtTrack.track(),
		Encumbrance: &pool.Encumbrance{
			DirectLocked:      stored.Encumbrance.DirectLocked,
			DirectLent:        stored.Encumbrance.DirectLent,
			DirectOfferEscrow: stored.Encumbrance.DirectOfferEscrow,
			AuctionReserve:    stored.Encumbrance.AuctionReserve,
		},
		RollingDebt:   stored.RollingDebt,
		TermDebt:      stored.TermDebt,
		BilateralDebt: stored.BilateralDebt,
		AtomicDebt:    stored.AtomicDebt,
	}, nil
}

// PutPosition stores a position record within a pool.
func (m *Manager) PutPosition(poolID string, position *pool.PositionState) error {
	if position == nil {
		return fmt.Errorf("state: nil position in pool %q", poolID)
	}
	enc := position.Encumbrance
	if enc == nil {
		enc = &pool.Encumbrance{}
	}
	stored := storedPosition{
		Key:              position.Key,
		Principal:        wireBig(position.Principal),
		AccruedYield:     wireBig(position.AccruedYield),
		FeeCheckpoint:    wireBig(position.FeeCheckpoint),
		EncumbranceTrack: wireTrack(position.EncumbranceTrack),
		DebtTrack:        wireTrack(position.DebtTrack),
		Encumbrance: storedEncumbrance{
			DirectLocked:      wireBig(enc.DirectLocked),
			DirectLent:        wireBig(enc.DirectLent),
			DirectOfferEscrow: wireBig(enc.DirectOfferEscrow),
			AuctionReserve:    wireBig(enc.AuctionReserve),
		},
		RollingDebt:   wireBig(position.RollingDebt),
		TermDebt:      wireBig(position.TermDebt),
		BilateralDebt: wireBig(position.BilateralDebt),
		AtomicDebt:    wireBig(position.AtomicDebt),
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("state: encode position %x: %w", position.Key, err)
	}
	return m.db.Put(positionKey(poolID, position.Key), raw)
}

// GetAccount loads an account record. Absent accounts return a zero-value
// account so callers can treat unseen addresses as empty.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	account := new(types.Account)
	if err := rlp.DecodeBytes(raw, account); err != nil {
		return nil, fmt.Errorf("state: decode account %x: %w", addr, err)
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

// PutAccount stores an account record.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account %x", addr)
	}
	stored := types.Account{Nonce: account.Nonce, Balance: wireBig(account.Balance)}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("state: encode account %x: %w", addr, err)
	}
	return m.db.Put(accountKey(addr), raw)
}

// KVGet reads a raw record stored under a module-scoped key. Missing keys
// return (nil, false, nil).
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(ethcrypto.Keccak256(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut writes a raw record under a module-scoped key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(ethcrypto.Keccak256(key), raw)
}

// KVDelete removes a module-scoped record.
func (m *Manager) KVDelete(key []byte) error {
	return m.db.Delete(ethcrypto.Keccak256(key))
}
