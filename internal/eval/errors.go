package eval

import (
	"errors"
	"fmt"
)

// ScoringUnavailableError marks one dimension whose scoring capability could
// not produce a usable score after bounded retries.
type ScoringUnavailableError struct {
	Dimension string
	Err       error
}

func (e *ScoringUnavailableError) Error() string {
	return fmt.Sprintf("scoring unavailable for dimension %q: %v", e.Dimension, e.Err)
}

func (e *ScoringUnavailableError) Unwrap() error {
	return e.Err
}

// GenerationUnavailableError aborts a chain: the external generator failed,
// which is distinct from a content-quality rejection and never consumes the
// retry budget.
type GenerationUnavailableError struct {
	Err error
}

func (e *GenerationUnavailableError) Error() string {
	return fmt.Sprintf("generation unavailable: %v", e.Err)
}

func (e *GenerationUnavailableError) Unwrap() error {
	return e.Err
}

func IsGenerationUnavailable(err error) bool {
	var genErr *GenerationUnavailableError
	return errors.As(err, &genErr)
}

// ConfigError reports an invalid aggregation policy. Policies are validated
// at load time so a malformed configuration never reaches a gate decision.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid gate policy: %s: %s", e.Field, e.Reason)
}

func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
