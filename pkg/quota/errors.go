package quota

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrQuotaExceeded is the expected business outcome of a denial.
	ErrQuotaExceeded = errors.New("quota exceeded")

	ErrUnknownTier      = errors.New("unknown subscription tier")
	ErrUnknownDimension = errors.New("unknown quota dimension")
	ErrEmptyCallerKey   = errors.New("empty caller key")
	ErrInvalidCost      = errors.New("consumption cost must be positive")
)

// ConfigurationError reports an incomplete or invalid quota configuration.
// It is fatal at startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "quota configuration: " + strings.Join(e.Problems, "; ")
}

// InvalidDimensionError reports a route that references a dimension the
// policy table does not define.
type InvalidDimensionError struct {
	Route     string
	Dimension string
}

func (e *InvalidDimensionError) Error() string {
	return fmt.Sprintf("route %q references undefined dimension %q", e.Route, e.Dimension)
}

// Unwrap returns ErrUnknownDimension.
func (e *InvalidDimensionError) Unwrap() error {
	return ErrUnknownDimension
}

// QuotaExceededError carries the denying decision.
type QuotaExceededError struct {
	Decision *Decision
}

func (e *QuotaExceededError) Error() string {
	if e.Decision == nil {
		return ErrQuotaExceeded.Error()
	}
	return fmt.Sprintf("%s: %s (%d/%d)", ErrQuotaExceeded, e.Decision.Dimension, e.Decision.Usage, e.Decision.Limit)
}

// Unwrap returns ErrQuotaExceeded.
func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// IsQuotaExceeded reports whether err is a quota denial.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// DecisionFromError extracts the denying decision from err, or nil.
func DecisionFromError(err error) *Decision {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe.Decision
	}
	return nil
}
