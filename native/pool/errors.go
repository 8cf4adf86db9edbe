package pool

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	errNilState             = errors.New("pool engine: state not configured")
	errNilPool              = errors.New("pool engine: pool not initialised")
	errInvalidAmount        = errors.New("pool engine: amount must be positive")
	errPoolNotConfigured    = errors.New("pool engine: pool identifier not configured")
	errLTVExceeded          = errors.New("pool engine: loan-to-value ceiling exceeded")
	errTreasuryNotSet       = errors.New("pool engine: treasury account not configured")
	errShareOverflow        = errors.New("pool engine: fee shares exceed 100%")
	errBasePoolNotSet       = errors.New("pool engine: managed pool has no base pool configured")
	errEncumbranceUnderflow = errors.New("pool engine: encumbrance bucket underflow")
	errTrackMismatch        = errors.New("pool engine: active-credit track does not match expected total")
)

// InsufficientPrincipalError is the universal signal that a balance
// precondition failed. It carries the exact missing and available quantities
// so callers and tests can assert numeric expectations. The enclosing
// operation always aborts; callers must not round down and proceed.
type InsufficientPrincipalError struct {
	Required  *big.Int
	Available *big.Int
}

func (e *InsufficientPrincipalError) Error() string {
	required, available := "0", "0"
	if e.Required != nil {
		required = e.Required.String()
	}
	if e.Available != nil {
		available = e.Available.String()
	}
	return fmt.Sprintf("pool engine: insufficient principal: required %s, available %s", required, available)
}

func insufficientPrincipal(required, available *big.Int) error {
	return &InsufficientPrincipalError{
		Required:  cloneBig(required),
		Available: cloneBig(available),
	}
}

// IsInsufficientPrincipal reports whether err wraps an
// InsufficientPrincipalError.
func IsInsufficientPrincipal(err error) bool {
	var target *InsufficientPrincipalError
	return errors.As(err, &target)
}
