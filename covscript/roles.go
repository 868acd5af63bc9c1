package covscript

import (
	"github.com/lightninglabs/tapcov/elwire"
)

// Role names what an input or output of a covenant spend is for. The
// covenant script refers to outputs by fixed index, so the position of
// every input and output is part of the contract.
type Role uint8

const (
	// RoleCovenant is the covenant input being spent, or the output that
	// recreates the covenant.
	RoleCovenant Role = iota

	// RoleCounterparty is an input of a cooperating party that funds the
	// fee and possibly the other side of a swap, or a change output back
	// to that party.
	RoleCounterparty

	// RolePayment is an output demanded by the covenant, e.g. a royalty.
	RolePayment

	// RoleFee is the explicit fee output.
	RoleFee
)

func (r Role) String() string {
	switch r {
	case RoleCovenant:
		return "covenant"
	case RoleCounterparty:
		return "counterparty"
	case RolePayment:
		return "payment"
	case RoleFee:
		return "fee"
	default:
		return "unknown"
	}
}

// InputRoles maps the inputs of a covenant spend. The covenant input comes
// first, followed by NumCounterparty inputs that are signed with ordinary
// segwit v0 signatures.
type InputRoles struct {
	// Covenant is the index of the covenant input.
	Covenant uint32

	// NumCounterparty is the number of counterparty inputs.
	NumCounterparty uint32
}

// DefaultInputRoles returns the mapping with the covenant at input 0 and
// numCounterparty counterparty inputs after it.
func DefaultInputRoles(numCounterparty uint32) InputRoles {
	return InputRoles{
		Covenant:        0,
		NumCounterparty: numCounterparty,
	}
}

// NumInputs returns the number of inputs the mapping describes.
func (r InputRoles) NumInputs() int {
	return int(r.NumCounterparty) + 1
}

// Role returns the role of input idx.
func (r InputRoles) Role(idx int) Role {
	if idx == int(r.Covenant) {
		return RoleCovenant
	}
	return RoleCounterparty
}

// Validate checks the mapping against the number of inputs of a
// transaction.
func (r InputRoles) Validate(numInputs int) error {
	if numInputs != r.NumInputs() {
		return newErrf(ErrInvalidRoles, "have %d inputs, roles "+
			"describe %d", numInputs, r.NumInputs())
	}
	if int(r.Covenant) >= numInputs {
		return newErrf(ErrInvalidRoles, "covenant input %d out of "+
			"range", r.Covenant)
	}

	return nil
}

// OutputRoles maps the outputs of a covenant spend.
type OutputRoles struct {
	// Covenant is the index of the output that recreates the covenant.
	Covenant uint32

	// Fee is the index of the fee output.
	Fee uint32

	// Payments are the indexes of outputs demanded by the covenant's
	// conditions.
	Payments []uint32
}

// DefaultOutputRoles returns the mapping with the covenant output first and
// the fee output last among numOutputs outputs.
func DefaultOutputRoles(numOutputs uint32) OutputRoles {
	return OutputRoles{
		Covenant: 0,
		Fee:      numOutputs - 1,
	}
}

// Role returns the role of output idx.
func (r OutputRoles) Role(idx int) Role {
	switch {
	case idx == int(r.Covenant):
		return RoleCovenant
	case idx == int(r.Fee):
		return RoleFee
	}
	for _, p := range r.Payments {
		if idx == int(p) {
			return RolePayment
		}
	}
	return RoleCounterparty
}

// Validate checks the mapping against the outputs of a transaction: every
// named index must exist, the fee output must have an empty script and no
// other output may.
func (r OutputRoles) Validate(outputs []*elwire.TxOut) error {
	n := len(outputs)
	if int(r.Covenant) >= n {
		return newErrf(ErrInvalidRoles, "covenant output %d out of "+
			"range", r.Covenant)
	}
	if int(r.Fee) >= n {
		return newErrf(ErrInvalidRoles, "fee output %d out of range",
			r.Fee)
	}
	if r.Fee == r.Covenant {
		return newErrf(ErrInvalidRoles, "fee and covenant share "+
			"output %d", r.Fee)
	}
	for _, p := range r.Payments {
		if int(p) >= n {
			return newErrf(ErrInvalidRoles, "payment output %d out "+
				"of range", p)
		}
		if p == r.Covenant || p == r.Fee {
			return newErrf(ErrInvalidRoles, "payment output %d "+
				"overlaps", p)
		}
	}

	for i, out := range outputs {
		isFee := i == int(r.Fee)
		if isFee != out.IsFee() {
			return newErrf(ErrInvalidRoles, "output %d: fee role "+
				"%v but script of %d bytes", i, isFee,
				len(out.Script))
		}
	}

	return nil
}
