package vm

import (
	"fmt"
)

// ErrorKind uniquely identifies the kind of Error returned by the covenant
// VM.
type ErrorKind uint8

const (
	// ErrNoInputs represents an error case where the transaction does not
	// have the input the virtual machine was asked to execute.
	ErrNoInputs ErrorKind = iota

	// ErrInputMismatch represents an error case where the set of
	// previous outputs does not match the inputs of the transaction.
	ErrInputMismatch

	// ErrNotTaproot represents an error case where the output being spent
	// is not a segwit v1 output.
	ErrNotTaproot

	// ErrInvalidWitness represents an error case where the witness of the
	// input is empty or carries an annex.
	ErrInvalidWitness

	// ErrInvalidControlBlock represents an error case where the control
	// block does not commit the revealed script to the spent output.
	ErrInvalidControlBlock

	// ErrInvalidSignature represents an error case where a key path or
	// script path signature does not verify.
	ErrInvalidSignature

	// ErrInvalidSigHashFlag represents an error case where a signature
	// commits to an unsupported sighash type.
	ErrInvalidSigHashFlag

	// ErrUnsupportedOpcode represents an error case where the script uses
	// an opcode outside of the covenant vocabulary.
	ErrUnsupportedOpcode

	// ErrStackUnderflow represents an error case where an opcode needs
	// more stack items than available.
	ErrStackUnderflow

	// ErrInvalidStackOperation represents an error case where a stack
	// item has the wrong size or encoding for the opcode using it.
	ErrInvalidStackOperation

	// ErrVerifyFailed represents an error case where OP_VERIFY, or the
	// VERIFY form of an opcode, found a false value.
	ErrVerifyFailed

	// ErrEqualVerify represents an error case where OP_EQUALVERIFY found
	// two different items.
	ErrEqualVerify

	// ErrTweakVerify represents an error case where OP_TWEAKVERIFY found
	// a key that is not the tweaked internal key.
	ErrTweakVerify

	// ErrIndexOutOfRange represents an error case where an introspection
	// opcode refers to an input or output that does not exist.
	ErrIndexOutOfRange

	// ErrCleanStack represents an error case where the script finished
	// with anything but a single true item on the stack.
	ErrCleanStack

	// ErrEarlyReturn represents an error case where OP_RETURN was
	// executed.
	ErrEarlyReturn

	// ErrElementTooLarge represents an error case where a witness item,
	// a push or the result of an opcode exceeds the stack element size
	// limit.
	ErrElementTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNoInputs:
		return "missing input"
	case ErrInputMismatch:
		return "previous outputs mismatch inputs"
	case ErrNotTaproot:
		return "spent output is not taproot"
	case ErrInvalidWitness:
		return "invalid witness"
	case ErrInvalidControlBlock:
		return "invalid control block"
	case ErrInvalidSignature:
		return "invalid signature"
	case ErrInvalidSigHashFlag:
		return "invalid sighash flag"
	case ErrUnsupportedOpcode:
		return "unsupported opcode"
	case ErrStackUnderflow:
		return "stack underflow"
	case ErrInvalidStackOperation:
		return "invalid stack operation"
	case ErrVerifyFailed:
		return "verify failed"
	case ErrEqualVerify:
		return "equal verify failed"
	case ErrTweakVerify:
		return "tweak verify failed"
	case ErrIndexOutOfRange:
		return "introspection index out of range"
	case ErrCleanStack:
		return "stack not clean after execution"
	case ErrEarlyReturn:
		return "script returned early"
	case ErrElementTooLarge:
		return "stack element too large"
	default:
		return "unknown"
	}
}

// Error represents an error returned by the covenant VM.
type Error struct {
	Kind  ErrorKind
	Inner error
}

func newErrKind(kind ErrorKind) Error {
	return Error{Kind: kind}
}

func newErrInner(kind ErrorKind, inner error) Error {
	return Error{Kind: kind, Inner: inner}
}

func newErrf(kind ErrorKind, format string, args ...interface{}) Error {
	return newErrInner(kind, fmt.Errorf(format, args...))
}

func (e Error) Error() string {
	if e.Inner == nil {
		return e.Kind.String()
	}
	return fmt.Errorf("%v: %w", e.Kind, e.Inner).Error()
}

func (e Error) String() string {
	return e.Error()
}

func (e Error) Unwrap() error {
	return e.Inner
}

// Is matches VM errors by kind.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Kind == e.Kind
}
