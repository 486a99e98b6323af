package domain

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by InputError.
var (
	ErrEmptyTable        = errors.New("input table is empty")
	ErrUnknownIndicator  = errors.New("unknown indicator")
	ErrInvalidWeights    = errors.New("invalid weights")
	ErrUnknownMethod     = errors.New("unknown normalization method")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrInvalidParameters = errors.New("invalid parameters")
)

// InputError reports malformed or incomplete input or configuration. It is
// surfaced to the caller immediately and never retried.
type InputError struct {
	Reason    string
	Indicator string
	Err       error
}

func (e *InputError) Error() string {
	if e.Indicator != "" {
		return fmt.Sprintf("input error: %s: %s: %v", e.Reason, e.Indicator, e.Err)
	}
	return fmt.Sprintf("input error: %s: %v", e.Reason, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

func inputError(err error, reason string) *InputError {
	return &InputError{Reason: reason, Err: err}
}

// RemoteError reports a failed call to the data lake. Callers decide whether
// to retry; nothing in this package does.
type RemoteError struct {
	Dataset    string
	Region     string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote error: fetch %s for %s: status %d: %v", e.Dataset, e.Region, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote error: fetch %s for %s: %v", e.Dataset, e.Region, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsInputError reports whether err is, or wraps, an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// IsRemoteError reports whether err is, or wraps, a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
