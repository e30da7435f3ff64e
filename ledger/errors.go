/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All error categories of the engine in one place. Domain packages wrap
  these with additional context instead of inventing parallel taxonomies.

ERROR CATEGORIES:
  1. Configuration errors - rejected at prepare time, before any simulation
  2. Invariant violations - structural accounting rules, always fatal
  3. Validation issues - post-run identity checks, warn-or-raise

USAGE:
  Callers branch with errors.Is / errors.As:

    if errors.Is(err, ledger.ErrCurrencyMismatch) { ... }

    var cfg *ledger.ConfigError
    if errors.As(err, &cfg) { log(cfg.BrickID, cfg.Field) }

SEE ALSO:
  - journal.go: raises invariant violations
  - scenario/validate.go: produces validation issues
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCurrencyMismatch is returned when two amounts of different currencies
	// are combined, or a posting's currency disagrees with its account.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrUnbalancedEntry is returned when an entry's postings do not sum to
	// zero within their currency.
	ErrUnbalancedEntry = errors.New("entry postings do not sum to zero")

	// ErrUnknownAccount is returned when a posting references an account that
	// was never registered.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrDuplicateAccount is returned when an account id is registered twice.
	ErrDuplicateAccount = errors.New("duplicate account id")

	// ErrScopeViolation is returned when an entry breaks the scope rules,
	// e.g. a transfer touching a boundary account on both legs.
	ErrScopeViolation = errors.New("account scope violation")

	// ErrConfig is the root of all prepare-time configuration failures.
	ErrConfig = errors.New("invalid configuration")

	// ErrInvariant is the root of all structural accounting violations.
	ErrInvariant = errors.New("accounting invariant violated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigError reports a rejected brick or scenario configuration. It is
// raised at prepare time, before the first simulated month, so a scenario
// either runs completely or not at all.
type ConfigError struct {
	BrickID string
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.BrickID == "" {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid configuration for %q: %s: %s", e.BrickID, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// Configf builds a ConfigError with a formatted reason.
func Configf(brickID, field, format string, args ...any) *ConfigError {
	return &ConfigError{BrickID: brickID, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CurrencyMismatchError reports an operation across two currencies.
type CurrencyMismatchError struct {
	Left  Currency
	Right Currency
	Op    string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %s %s %s", e.Left, e.Op, e.Right)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrCurrencyMismatch }

// UnbalancedEntryError reports an entry whose postings leave a non-zero
// residual in some currency.
type UnbalancedEntryError struct {
	EntryID  string
	Currency Currency
	Residual Amount
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("entry %q unbalanced: residual %s in %s", e.EntryID, e.Residual.Value, e.Currency)
}

func (e *UnbalancedEntryError) Unwrap() error { return ErrUnbalancedEntry }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsConfig reports whether err belongs to the prepare-time category.
func IsConfig(err error) bool { return errors.Is(err, ErrConfig) }

// IsInvariant reports whether err belongs to the structural category.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant) ||
		errors.Is(err, ErrUnbalancedEntry) ||
		errors.Is(err, ErrScopeViolation) ||
		errors.Is(err, ErrUnknownAccount)
}
