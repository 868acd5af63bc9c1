package tapscript

import (
	"fmt"

	"github.com/go-errors/errors"
)

// ErrorKind uniquely identifies the kind of Error returned while deriving
// taproot outputs.
type ErrorKind uint8

const (
	// ErrInvalidInternalKey is returned when the internal key cannot be
	// lifted to an even-y point.
	ErrInvalidInternalKey ErrorKind = iota

	// ErrTweakOverflow is returned when a tweak hash exceeds the curve
	// order.
	ErrTweakOverflow

	// ErrInfinity is returned when a tweak yields the point at infinity.
	ErrInfinity

	// ErrAddressEncoding is returned when an output key cannot be encoded
	// as an address of the requested network.
	ErrAddressEncoding

	// ErrControlBlock is returned when a control block cannot be created.
	ErrControlBlock
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidInternalKey:
		return "invalid internal key"
	case ErrTweakOverflow:
		return "tweak exceeds curve order"
	case ErrInfinity:
		return "tweaked key is the point at infinity"
	case ErrAddressEncoding:
		return "unable to encode address"
	case ErrControlBlock:
		return "unable to create control block"
	default:
		return "unknown"
	}
}

// DerivationError is returned when a taproot output cannot be derived.
type DerivationError struct {
	Kind  ErrorKind
	Inner error
}

func newErrKind(kind ErrorKind) DerivationError {
	return DerivationError{Kind: kind}
}

func newErrInner(kind ErrorKind, inner error) DerivationError {
	return DerivationError{Kind: kind, Inner: inner}
}

func (e DerivationError) Error() string {
	if e.Inner == nil {
		return e.Kind.String()
	}
	return fmt.Errorf("%v: %w", e.Kind, e.Inner).Error()
}

func (e DerivationError) Unwrap() error {
	return e.Inner
}

// SignatureError is returned when a freshly produced signature fails to
// verify against the key it was made for. It carries the stack of the
// signing call since it points to a broken key or tweak.
type SignatureError struct {
	err *errors.Error
}

func newSignatureError(format string, args ...interface{}) *SignatureError {
	return &SignatureError{
		err: errors.Wrap(fmt.Errorf(format, args...), 1),
	}
}

func (e *SignatureError) Error() string {
	return e.err.Error()
}

// ErrorStack returns the message and the stack trace of the signing call.
func (e *SignatureError) ErrorStack() string {
	return e.err.ErrorStack()
}

func (e *SignatureError) Unwrap() error {
	return e.err.Err
}
