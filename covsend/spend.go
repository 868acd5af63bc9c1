package covsend

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/covscript"
	"github.com/lightninglabs/tapcov/elwire"
)

var (
	// ErrCovenantOutput is returned when the output at the covenant's
	// index does not recreate the covenant.
	ErrCovenantOutput = errors.New("send: output does not recreate " +
		"covenant")
)

// Counterparty is a P2WPKH input of a cooperating party, together with the
// key that signs it.
type Counterparty struct {
	// Input is the output being spent.
	Input *Input

	// Key controls the input.
	Key *btcec.PrivateKey
}

// SpendRequest describes a spend of a covenant output. The covenant input
// is always input 0, the counterparty inputs follow in order.
type SpendRequest struct {
	// Covenant is the covenant locking Input.
	Covenant *covscript.Covenant

	// Input is the covenant output being spent.
	Input *Input

	// Counterparties are the inputs funding the fee and the other side of
	// the spend.
	Counterparties []*Counterparty

	// Outputs are the outputs of the spend, in order.
	Outputs []*Output

	// OutputRoles maps Outputs. The covenant role must point at the
	// covenant's output index.
	OutputRoles covscript.OutputRoles

	// Params is the chain of the covenant.
	Params *address.ChainParams

	// InternalKey, if set, spends the covenant input through the key path
	// and releases it from the covenant.
	InternalKey *btcec.PrivateKey

	// Signer signs for a SignerCheck prefix of a script path spend.
	Signer *btcec.PrivateKey
}

// SpendCovenant assembles, signs and preflights a complete covenant spend.
func SpendCovenant(req *SpendRequest) (*Packet, error) {
	c := req.Covenant
	if req.OutputRoles.Covenant != c.OutputIndex {
		return nil, covscript.AssemblyError{
			Kind: covscript.ErrInvalidRoles,
			Inner: fmt.Errorf("covenant role at output %d, "+
				"covenant recreates at %d",
				req.OutputRoles.Covenant, c.OutputIndex),
		}
	}

	inputs := make([]*Input, 0, len(req.Counterparties)+1)
	inputs = append(inputs, req.Input)
	for _, cp := range req.Counterparties {
		inputs = append(inputs, cp.Input)
	}

	inputRoles := covscript.DefaultInputRoles(
		uint32(len(req.Counterparties)),
	)
	pkt, err := New(
		inputs, req.Outputs, inputRoles, req.OutputRoles, req.Params,
	)
	if err != nil {
		return nil, err
	}

	for i, cp := range req.Counterparties {
		if err := pkt.SignCounterparty(i+1, cp.Key); err != nil {
			return nil, err
		}
	}

	covenantIdx := int(inputRoles.Covenant)
	switch {
	case req.InternalKey != nil:
		root := c.LeafHash()
		err := pkt.SignKeyPath(covenantIdx, req.InternalKey, root[:])
		if err != nil {
			return nil, err
		}

	default:
		next, err := c.Output(req.Params)
		if err != nil {
			return nil, err
		}

		outScript := req.Outputs[c.OutputIndex].PkScript
		if !bytes.Equal(outScript, next.PkScript) {
			return nil, fmt.Errorf("%w: output %d pays to %x",
				ErrCovenantOutput, c.OutputIndex, outScript)
		}

		err = pkt.SignScriptPath(
			covenantIdx, c, next.OutputKey, req.Signer,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := pkt.Preflight(); err != nil {
		return nil, err
	}

	return pkt, nil
}

// RecursiveOutputs returns the outputs of a plain recursive spend: the
// covenant output carrying value units of asset, the counterparty's change
// and the fee. A zero change omits the change output.
func RecursiveOutputs(c *covscript.Covenant, params *address.ChainParams,
	asset elwire.AssetID, value uint64, changeScript []byte,
	change, fee uint64) ([]*Output, covscript.OutputRoles, error) {

	if c.OutputIndex != 0 {
		return nil, covscript.OutputRoles{}, covscript.AssemblyError{
			Kind: covscript.ErrInvalidRoles,
			Inner: fmt.Errorf("covenant recreates at output %d",
				c.OutputIndex),
		}
	}

	next, err := c.Output(params)
	if err != nil {
		return nil, covscript.OutputRoles{}, err
	}

	outputs := []*Output{{
		Value:    value,
		Asset:    asset,
		PkScript: next.PkScript,
	}}
	if change > 0 {
		outputs = append(outputs, &Output{
			Value:    change,
			Asset:    params.PolicyAsset,
			PkScript: changeScript,
		})
	}
	outputs = append(outputs, &Output{
		Value: fee,
		Asset: params.PolicyAsset,
	})

	return outputs, covscript.DefaultOutputRoles(uint32(len(outputs))), nil
}
