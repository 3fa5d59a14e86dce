// Package fault defines the error taxonomy surfaced to callers. Services
// never leak raw transport errors; everything crossing a manager boundary is
// one of the kinds below, with the underlying cause preserved for logs.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindValidation covers bad input: malformed amounts, duplicate external
	// contract ids, unknown oracle condition types. Never retried.
	KindValidation Kind = "VALIDATION"
	// KindIllegalState covers operations invalid for the escrow's current
	// status, or partial releases exceeding the remaining balance.
	KindIllegalState Kind = "ILLEGAL_STATE"
	// KindNotFound covers unknown escrow ids.
	KindNotFound Kind = "NOT_FOUND"
	// KindChainSubmission is raised only after the submitter exhausts its
	// retry budget; the last underlying cause is wrapped.
	KindChainSubmission Kind = "CHAIN_SUBMISSION"
	// KindChainVerification covers externally supplied transaction hashes
	// that resolve to a missing or reverted receipt. The fact is settled, so
	// it is never retried.
	KindChainVerification Kind = "CHAIN_VERIFICATION"
)

type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

func IllegalState(format string, args ...any) *Error {
	return &Error{Kind: KindIllegalState, msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

func ChainSubmission(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindChainSubmission, msg: fmt.Sprintf(format, args...), cause: cause}
}

func ChainVerification(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindChainVerification, msg: fmt.Sprintf(format, args...), cause: cause}
}

// IsKind reports whether err is (or wraps) a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
