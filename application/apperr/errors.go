// Package apperr defines the error taxonomy shared by every protocol component.
//
// Every failure carries one of five kinds. Most failures also carry a short
// upper-case reason tag ("LOCKED", "STALE_DATA", ...) so callers and receipts can
// tell apart failures of the same kind without parsing messages.
package apperr

import (
	"errors"
	"fmt"
)

type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrPermissionDenied = Error("permission denied")
	ErrNotFound         = Error("not found")
	ErrInvalidState     = Error("invalid state")
	ErrExternalCall     = Error("external call failure")
	ErrPolicyViolation  = Error("policy violation")
)

// Reason tags.
const (
	ReasonLocked              = "LOCKED"
	ReasonStaleData           = "STALE_DATA"
	ReasonMissingValue        = "MISSING_ASSET_VALUE"
	ReasonZeroAddress         = "INVALID_ADDRESS"
	ReasonZeroAmount          = "INVALID_AMOUNT"
	ReasonInvalidPeriod       = "INVALID_PERIOD"
	ReasonInvalidLength       = "LENGTHS_MISMATCH"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonDuplicate           = "DUPLICATE"
	ReasonZeroTvl             = "ZERO_TVL"
	ReasonTreasuryNotSet      = "TREASURY_NOT_SET"
	ReasonInvalidFee          = "INVALID_FEE"
	ReasonCantWithdrawPrimary = "CANT_WITHDRAW_PRIMARY"
	ReasonMissingRole         = "MISSING_ROLE"
	ReasonNoCode              = "NO_CODE"
	ReasonMalformedReturn     = "MALFORMED_RETURN"
	ReasonReverted            = "REVERTED"
	ReasonOverflow            = "OVERFLOW"
	ReasonEmergencyOverride   = "EMERGENCY_OVERRIDE"
	ReasonProvided            = "PROVIDED_ALLOCATION"
)

// TaggedError is a failure of a given kind with a reason tag and optional detail.
type TaggedError struct {
	Kind   Error
	Reason string
	Detail string
}

func (e *TaggedError) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}

	return msg
}

func (e *TaggedError) Unwrap() error {
	return e.Kind
}

// New returns a tagged error of the given kind.
func New(kind Error, reason string) error {
	return &TaggedError{Kind: kind, Reason: reason}
}

// Newf returns a tagged error with a formatted detail message.
func Newf(kind Error, reason string, format string, args ...any) error {
	return &TaggedError{Kind: kind, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// External wraps a failed read or venue call as ErrExternalCall, keeping the cause.
func External(reason string, cause error) error {
	if cause == nil {
		return New(ErrExternalCall, reason)
	}

	var tagged *TaggedError
	if errors.As(cause, &tagged) && tagged.Kind == ErrExternalCall {
		return cause
	}

	return fmt.Errorf("%w: %w", &TaggedError{Kind: ErrExternalCall, Reason: reason}, cause)
}

// KindOf reports the taxonomy kind of err, or "" when err is outside the taxonomy.
// The outermost tagged error decides, so an external failure wrapping an inner
// InvalidState still reports ErrExternalCall.
func KindOf(err error) Error {
	var tagged *TaggedError
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	for _, kind := range []Error{
		ErrPermissionDenied,
		ErrNotFound,
		ErrInvalidState,
		ErrExternalCall,
		ErrPolicyViolation,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}

	return ""
}

// ReasonOf returns the reason tag of the outermost tagged error in err's chain.
func ReasonOf(err error) string {
	var tagged *TaggedError
	if errors.As(err, &tagged) {
		return tagged.Reason
	}

	return ""
}
