package giftcart

import (
	"fmt"
)

// Kind classifies a gift operation failure.
type Kind string

const (
	KindMissingParameters  Kind = "missing_parameters"
	KindGiftNotAvailable   Kind = "gift_not_available"
	KindLimitReached       Kind = "limit_reached"
	KindProductUnavailable Kind = "product_unavailable"
	KindOutOfStock         Kind = "out_of_stock"
	KindCouldNotAdd        Kind = "could_not_add"
	KindCouldNotRemove     Kind = "could_not_remove"
	KindNotFound           Kind = "not_found"
	KindQuantityLocked     Kind = "quantity_locked"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrMissingParameters  = &Error{Kind: KindMissingParameters}
	ErrGiftNotAvailable   = &Error{Kind: KindGiftNotAvailable}
	ErrLimitReached       = &Error{Kind: KindLimitReached}
	ErrProductUnavailable = &Error{Kind: KindProductUnavailable}
	ErrOutOfStock         = &Error{Kind: KindOutOfStock}
	ErrCouldNotAdd        = &Error{Kind: KindCouldNotAdd}
	ErrCouldNotRemove     = &Error{Kind: KindCouldNotRemove}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrQuantityLocked     = &Error{Kind: KindQuantityLocked}
)

// Error is returned by every Controller operation that rejects a request.
type Error struct {
	Kind Kind

	// Allowed is set for KindLimitReached.
	Allowed int

	// Err is the underlying cause, if any.
	Err error
}

// Error returns the shopper-facing message for the failure.
func (e *Error) Error() string {
	msg := e.Message()
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Message is the human-readable text without the underlying cause.
func (e *Error) Message() string {
	switch e.Kind {
	case KindMissingParameters:
		return "Missing parameters"
	case KindGiftNotAvailable:
		return "Gift not available"
	case KindLimitReached:
		return fmt.Sprintf("You can only select %d gift(s)", e.Allowed)
	case KindProductUnavailable:
		return "This gift is currently unavailable"
	case KindOutOfStock:
		return "This gift is out of stock"
	case KindCouldNotAdd:
		return "Could not add gift"
	case KindCouldNotRemove:
		return "Could not remove gift"
	case KindNotFound:
		return "Gift line not found"
	case KindQuantityLocked:
		return "Free gifts are limited to quantity 1 per selection."
	default:
		return string(e.Kind)
	}
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}
