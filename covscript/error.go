package covscript

import (
	"fmt"
)

// ErrorKind uniquely identifies the kind of AssemblyError.
type ErrorKind uint8

const (
	// ErrUnknownOpcode is returned for an ASM token that is neither an
	// opcode name nor a hex literal.
	ErrUnknownOpcode ErrorKind = iota

	// ErrMalformedPush is returned when a serialized script ends inside a
	// push.
	ErrMalformedPush

	// ErrSizeNotSettled is returned when the nested size prefix does not
	// reach a fixed point.
	ErrSizeNotSettled

	// ErrScriptTooLarge is returned for sizes that cannot be pushed.
	ErrScriptTooLarge

	// ErrScriptTooSmall is returned when the recursive body is so short
	// its length would be pushed as a small integer opcode.
	ErrScriptTooSmall

	// ErrInvalidRoles is returned when the input or output role mapping
	// does not match the transaction.
	ErrInvalidRoles

	// ErrInvalidConfig is returned for an incomplete covenant config.
	ErrInvalidConfig

	// ErrMalformedDescriptor is returned when a stored descriptor cannot
	// be decoded.
	ErrMalformedDescriptor

	// ErrElementTooLarge is returned when the script would push or build
	// a stack element larger than txscript.MaxScriptElementSize.
	ErrElementTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case ErrUnknownOpcode:
		return "unknown opcode"
	case ErrMalformedPush:
		return "malformed push"
	case ErrSizeNotSettled:
		return "nested size prefix did not settle"
	case ErrScriptTooLarge:
		return "script too large"
	case ErrScriptTooSmall:
		return "script too small"
	case ErrInvalidRoles:
		return "invalid input/output roles"
	case ErrInvalidConfig:
		return "invalid covenant config"
	case ErrMalformedDescriptor:
		return "malformed descriptor"
	case ErrElementTooLarge:
		return "stack element too large"
	default:
		return "unknown"
	}
}

// AssemblyError is returned when a script cannot be assembled or parsed.
type AssemblyError struct {
	Kind  ErrorKind
	Inner error
}

func newErrKind(kind ErrorKind) AssemblyError {
	return AssemblyError{Kind: kind}
}

func newErrInner(kind ErrorKind, inner error) AssemblyError {
	return AssemblyError{Kind: kind, Inner: inner}
}

func newErrf(kind ErrorKind, format string, args ...interface{}) AssemblyError {
	return newErrInner(kind, fmt.Errorf(format, args...))
}

func (e AssemblyError) Error() string {
	if e.Inner == nil {
		return e.Kind.String()
	}
	return fmt.Errorf("%v: %w", e.Kind, e.Inner).Error()
}

func (e AssemblyError) Unwrap() error {
	return e.Inner
}

// Is matches assembly errors by kind so callers can use errors.Is with a
// bare AssemblyError{Kind: ...} target.
func (e AssemblyError) Is(target error) bool {
	t, ok := target.(AssemblyError)
	return ok && t.Kind == e.Kind
}
