package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"crossledger/native/pool"
)

// Config is the on-disk configuration for a ledger node.
type Config struct {
	DataDir        string `toml:"DataDir"`
	MetricsAddress string `toml:"MetricsAddress"`
	Environment    string `toml:"Environment"`
	// TreasuryAddress receives the protocol share of routed fees, hex encoded.
	TreasuryAddress string `toml:"TreasuryAddress"`
	// DefaultPoolID names the pool facades operate on unless told otherwise.
	DefaultPoolID string `toml:"DefaultPoolID"`

	Pool   pool.Config `toml:"pool"`
	Fees   Fees        `toml:"fees"`
	Pauses Pauses      `toml:"pauses"`
}

// Fees holds the per-facade fee rates in basis points of the moved amount.
type Fees struct {
	LoanOriginationBps uint64 `toml:"LoanOriginationBps"`
	DeskSettlementBps  uint64 `toml:"DeskSettlementBps"`
	CreditPaymentBps   uint64 `toml:"CreditPaymentBps"`
	AuctionFillBps     uint64 `toml:"AuctionFillBps"`
}

// Pauses holds the per-module halt switches. A paused module rejects
// mutations while leaving reads available.
type Pauses struct {
	Pool    bool `toml:"Pool"`
	Loans   bool `toml:"Loans"`
	Desk    bool `toml:"Desk"`
	Credit  bool `toml:"Credit"`
	Auction bool `toml:"Auction"`
}

// IsPaused reports whether the named module is halted.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "pool":
		return p.Pool
	case "loans":
		return p.Loans
	case "desk":
		return p.Desk
	case "credit":
		return p.Credit
	case "auction":
		return p.Auction
	default:
		return false
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s contains unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./ledger-data"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9090"
	}
	if strings.TrimSpace(c.DefaultPoolID) == "" {
		c.DefaultPoolID = "default"
	}
	c.Pool.EnsureDefaults()
}

// Validate rejects configurations the node cannot safely run with.
func (c *Config) Validate() error {
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if addr := strings.TrimSpace(c.TreasuryAddress); addr != "" {
		if _, err := ParseAddress(addr); err != nil {
			return fmt.Errorf("invalid TreasuryAddress: %w", err)
		}
	}
	fees := map[string]uint64{
		"LoanOriginationBps": c.Fees.LoanOriginationBps,
		"DeskSettlementBps":  c.Fees.DeskSettlementBps,
		"CreditPaymentBps":   c.Fees.CreditPaymentBps,
		"AuctionFillBps":     c.Fees.AuctionFillBps,
	}
	for name, bps := range fees {
		if bps > 10_000 {
			return fmt.Errorf("fees.%s exceeds 100%%", name)
		}
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address with optional 0x prefix.
func ParseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(trimmed) != 40 {
		return addr, fmt.Errorf("address must be 20 bytes, got %d hex chars", len(trimmed))
	}
	for i := 0; i < 20; i++ {
		hi, ok := hexNibble(trimmed[2*i])
		if !ok {
			return addr, fmt.Errorf("invalid hex character %q", trimmed[2*i])
		}
		lo, ok := hexNibble(trimmed[2*i+1])
		if !ok {
			return addr, fmt.Errorf("invalid hex character %q", trimmed[2*i+1])
		}
		addr[i] = hi<<4 | lo
	}
	return addr, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
