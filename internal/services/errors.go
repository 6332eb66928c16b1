package services

import (
	"errors"
	"fmt"

	"github.com/bazaar-market/ledger/internal/repositories"
)

var (
	// ErrNotFound indicates the order, product or gateway resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor may not perform the operation on the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid indicates bad input or an operation the order's state does not allow.
	ErrInvalid = errors.New("invalid request")
	// ErrUpstream indicates the payment gateway rejected or failed the call.
	ErrUpstream = errors.New("payment gateway failure")
)

// Error pairs one of the sentinel kinds with a caller-facing message.
type Error struct {
	Kind    error
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func notFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) error {
	return &Error{Kind: ErrInvalid, Message: fmt.Sprintf(format, args...)}
}

func upstream(cause error, message string) error {
	return &Error{Kind: ErrUpstream, Message: message, Err: cause}
}

// mapRepositoryError translates persistence failures into the service taxonomy. notFoundMessage
// is used when the repository reports a missing document.
func mapRepositoryError(err error, notFoundMessage string) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return &Error{Kind: ErrNotFound, Message: notFoundMessage, Err: err}
	}
	return err
}

// mapStockError converts a refused reservation into NotFound or Invalid.
func mapStockError(err error) error {
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) {
		return err
	}
	switch stockErr.Code {
	case repositories.StockErrorProductNotFound:
		return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("Product with ID %s not found", stockErr.ProductID), Err: err}
	case repositories.StockErrorInsufficient:
		return &Error{Kind: ErrInvalid, Message: fmt.Sprintf("%s. Available: %d", capitalise(stockErr.Message), stockErr.Available), Err: err}
	default:
		return &Error{Kind: ErrInvalid, Message: capitalise(stockErr.Message), Err: err}
	}
}

func capitalise(message string) string {
	if message == "" {
		return message
	}
	if c := message[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + message[1:]
	}
	return message
}
