package market

import (
	"errors"
	"fmt"
)

// Kind classifies an engine rejection.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnauthorized
	KindInvalidStateTransition
	KindExpired
	KindInsufficientStock
	KindInsufficientPoints
	KindNoActiveEntitlement
	KindSelfDealNotAllowed
	KindInvalidArgument
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindInvalidStateTransition:
		return "INVALID_STATE_TRANSITION"
	case KindExpired:
		return "EXPIRED"
	case KindInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case KindInsufficientPoints:
		return "INSUFFICIENT_POINTS"
	case KindNoActiveEntitlement:
		return "NO_ACTIVE_ENTITLEMENT"
	case KindSelfDealNotAllowed:
		return "SELF_DEAL_NOT_ALLOWED"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindConflict:
		return "CONFLICT"
	default:
		return "UNKNOWN"
	}
}

// Error is returned for every rejection in the taxonomy. Two Errors match
// under errors.Is when their kinds match, so callers compare against the
// Err* sentinels below.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrExpired                = &Error{Kind: KindExpired}
	ErrInsufficientStock      = &Error{Kind: KindInsufficientStock}
	ErrInsufficientPoints     = &Error{Kind: KindInsufficientPoints}
	ErrNoActiveEntitlement    = &Error{Kind: KindNoActiveEntitlement}
	ErrSelfDealNotAllowed     = &Error{Kind: KindSelfDealNotAllowed}
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument}

	// ErrConflict is returned by repositories when a versioned update lost
	// the race. Services re-read and re-check before giving up.
	ErrConflict = &Error{Kind: KindConflict, Msg: "concurrent modification"}
)

// KindOf extracts the taxonomy kind, KindUnknown for storage and other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
