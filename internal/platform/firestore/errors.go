package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind classifies a Firestore failure for the service layer.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

var kindByCode = map[codes.Code]ErrorKind{
	codes.NotFound:           KindNotFound,
	codes.AlreadyExists:      KindConflict,
	codes.FailedPrecondition: KindConflict,
	codes.Aborted:            KindConflict,
	codes.OutOfRange:         KindConflict,
	codes.Unavailable:        KindUnavailable,
	codes.ResourceExhausted:  KindUnavailable,
	codes.Internal:           KindUnavailable,
}

// Error is a Firestore failure tagged with the operation that produced it. It satisfies
// repositories.RepositoryError.
type Error struct {
	Op   string
	Kind ErrorKind
	Code codes.Code
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// WrapError tags gRPC failures from Firestore with op. Context errors come back as the
// context sentinels. Anything that is not a gRPC status, such as a stock refusal returned
// from inside a transaction, is returned unchanged so callers can still match it.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		if tagged.Op == "" {
			tagged.Op = op
		}
		return err
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return &Error{Op: op, Kind: kindByCode[st.Code()], Code: st.Code(), err: err}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
