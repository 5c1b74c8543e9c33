package utils

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy for one orchestrator pass. Only LedgerWriteError aborts a
// pass; everything else is per-row and retried on the next scheduled run.

// ParseError means a message looked like a deletion request but the subject
// id could not be extracted. The message is skipped, no row is created.
type ParseError struct {
	MessageRef string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse deletion request from message %s: %s", e.MessageRef, e.Reason)
}

// ProviderError wraps a failure from one deletion provider. Create failures
// leave the row at not_started, poll failures leave it at pending; either way
// the next pass retries.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// LedgerWriteError is fatal for the current pass. An inconsistent ledger
// cannot be recovered automatically, so the pass surfaces it to the caller.
type LedgerWriteError struct {
	Op  string
	Err error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write failed during %s: %v", e.Op, e.Err)
}

func (e *LedgerWriteError) Unwrap() error {
	return e.Err
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

func IsLedgerWriteError(err error) bool {
	var lw *LedgerWriteError
	return errors.As(err, &lw)
}

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

func LogError(ctx context.Context, err error, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	fields["error"] = err.Error()

	Error(ctx, message, fields)
}
