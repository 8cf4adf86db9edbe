package pool

// Config captures the runtime configuration for the pool accounting engine.
type Config struct {
	// TimeGateSeconds is the minimum holding duration before an amount counts
	// toward active-credit weight.
	TimeGateSeconds uint64 `toml:"TimeGateSeconds"`
	// TreasuryShareBps is the immediate payout share routed to the treasury
	// account, expressed in basis points of the routed amount.
	TreasuryShareBps uint64 `toml:"TreasuryShareBps"`
	// ActiveCreditShareBps is the active-credit injection share in basis
	// points of the routed amount.
	ActiveCreditShareBps uint64 `toml:"ActiveCreditShareBps"`
	// FeeIndexShareBps is the fee-index injection share in basis points of
	// the routed amount.
	FeeIndexShareBps uint64 `toml:"FeeIndexShareBps"`
	// DefaultLTVBps seeds DepositorLTVBps on pools created without an
	// explicit override.
	DefaultLTVBps uint64 `toml:"DefaultLTVBps"`
}

// Default configuration applied when a field is left unset.
const (
	DefaultTimeGateSeconds      = 7 * 24 * 60 * 60
	DefaultTreasuryShareBps     = 2_000
	DefaultActiveCreditShareBps = 4_000
	DefaultFeeIndexShareBps     = 4_000
	DefaultLTVBps               = 5_000
)

// EnsureDefaults populates zero-valued fields with the module defaults.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	if c.TimeGateSeconds == 0 {
		c.TimeGateSeconds = DefaultTimeGateSeconds
	}
	if c.TreasuryShareBps == 0 && c.ActiveCreditShareBps == 0 && c.FeeIndexShareBps == 0 {
		c.TreasuryShareBps = DefaultTreasuryShareBps
		c.ActiveCreditShareBps = DefaultActiveCreditShareBps
		c.FeeIndexShareBps = DefaultFeeIndexShareBps
	}
	if c.DefaultLTVBps == 0 {
		c.DefaultLTVBps = DefaultLTVBps
	}
}

// Validate rejects share configurations that would mint value out of thin
// air. The three shares must not exceed 100% combined.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.TreasuryShareBps+c.ActiveCreditShareBps+c.FeeIndexShareBps > 10_000 {
		return errShareOverflow
	}
	return nil
}
