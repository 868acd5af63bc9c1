package covsend

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/covscript"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/lightninglabs/tapcov/vm"
)

const (
	// DefaultSigHashType is the sighash type of key path and counterparty
	// signatures.
	DefaultSigHashType = txscript.SigHashAll
)

var (
	// ErrNoInputs is returned when building a transaction without inputs.
	ErrNoInputs = errors.New("send: no inputs")

	// ErrUnbalanced is returned when the outputs of an asset do not add up
	// to its inputs.
	ErrUnbalanced = errors.New("send: inputs and outputs unbalanced")

	// ErrInvalidInput is returned for an input whose script does not fit
	// its role.
	ErrInvalidInput = errors.New("send: invalid input")

	// ErrInputIndex is returned for an input index that does not exist.
	ErrInputIndex = errors.New("send: input index out of range")

	// ErrAlreadyFinalized is returned when attaching a witness to an input
	// that already carries one.
	ErrAlreadyFinalized = errors.New("send: input already finalized")

	// ErrNotFinalized is returned when extracting a transaction with an
	// input that has no witness yet.
	ErrNotFinalized = errors.New("send: input not finalized")

	// ErrWrongKey is returned when signing an input with a key that does
	// not control it.
	ErrWrongKey = errors.New("send: key does not match input")
)

// Input is an explicit output of the ledger spent by a covenant
// transaction.
type Input struct {
	// OutPoint is the output being spent.
	OutPoint wire.OutPoint

	// Asset is the explicit asset of the output.
	Asset elwire.AssetID

	// Value is the explicit value of the output.
	Value uint64

	// PkScript is the script of the output.
	PkScript []byte
}

// TxOut returns the output the input spends.
func (i *Input) TxOut() *elwire.TxOut {
	return elwire.NewTxOut(i.Asset, i.Value, i.PkScript)
}

// Output is an explicit output of a covenant transaction. An empty PkScript
// marks the fee output.
type Output struct {
	// Value is the explicit value of the output.
	Value uint64

	// Asset is the explicit asset of the output.
	Asset elwire.AssetID

	// PkScript is the script the output pays to.
	PkScript []byte
}

// Witness is the witness of a single input.
type Witness interface {
	// Stack returns the witness items, bottom of the stack first.
	Stack() wire.TxWitness
}

// ScriptPathWitness spends a taproot output through its only leaf.
type ScriptPathWitness struct {
	// Args are the items the leaf script consumes, top of stack last.
	Args [][]byte

	// Script is the revealed leaf script.
	Script []byte

	// ControlBlock is the serialized control block.
	ControlBlock []byte
}

// Stack returns [args..., script, control block].
func (w *ScriptPathWitness) Stack() wire.TxWitness {
	stack := make(wire.TxWitness, 0, len(w.Args)+2)
	stack = append(stack, w.Args...)
	return append(stack, w.Script, w.ControlBlock)
}

// KeyPathWitness spends a taproot output with a signature of its tweaked
// key.
type KeyPathWitness struct {
	// Signature is the schnorr signature, with the sighash byte appended
	// unless it is the default.
	Signature []byte
}

// Stack returns [signature].
func (w *KeyPathWitness) Stack() wire.TxWitness {
	return wire.TxWitness{w.Signature}
}

// RawWitness is a witness produced elsewhere, e.g. by psbt finalization.
type RawWitness wire.TxWitness

// Stack returns the witness as is.
func (w RawWitness) Stack() wire.TxWitness {
	return wire.TxWitness(w)
}

// Packet is a covenant transaction under construction. The covenant
// conditions refer to inputs and outputs by index, so the order of both is
// fixed when the packet is created and validated against the roles.
type Packet struct {
	// Inputs are the spent outputs, in input order.
	Inputs []*Input

	// Outputs are the outputs, in output order.
	Outputs []*Output

	// InputRoles maps the inputs.
	InputRoles covscript.InputRoles

	// OutputRoles maps the outputs.
	OutputRoles covscript.OutputRoles

	// Params is the chain the transaction is for.
	Params *address.ChainParams

	// SigHashType is used for key path and counterparty signatures.
	SigHashType txscript.SigHashType

	tx        *elwire.MsgTx
	prevOuts  []*elwire.TxOut
	finalized []bool
}

// New creates the unsigned packet spending inputs to outputs.
func New(inputs []*Input, outputs []*Output, inputRoles covscript.InputRoles,
	outputRoles covscript.OutputRoles,
	params *address.ChainParams) (*Packet, error) {

	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if err := inputRoles.Validate(len(inputs)); err != nil {
		return nil, err
	}

	tx := elwire.NewMsgTx(elwire.TxVersion)
	prevOuts := make([]*elwire.TxOut, 0, len(inputs))
	balance := make(map[elwire.AssetID]int64)
	for idx, in := range inputs {
		err := checkInputScript(inputRoles.Role(idx), in.PkScript)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}

		outPoint := in.OutPoint
		tx.AddTxIn(elwire.NewTxIn(&outPoint))
		prevOuts = append(prevOuts, in.TxOut())
		balance[in.Asset] += int64(in.Value)
	}
	for _, out := range outputs {
		tx.AddTxOut(elwire.NewTxOut(out.Asset, out.Value, out.PkScript))
		balance[out.Asset] -= int64(out.Value)
	}

	if err := outputRoles.Validate(tx.TxOut); err != nil {
		return nil, err
	}
	for asset, diff := range balance {
		if diff != 0 {
			return nil, fmt.Errorf("%w: asset %v off by %d",
				ErrUnbalanced, asset, diff)
		}
	}

	return &Packet{
		Inputs:      inputs,
		Outputs:     outputs,
		InputRoles:  inputRoles,
		OutputRoles: outputRoles,
		Params:      params,
		SigHashType: DefaultSigHashType,
		tx:          tx,
		prevOuts:    prevOuts,
		finalized:   make([]bool, len(inputs)),
	}, nil
}

// checkInputScript makes sure the covenant input is a taproot output and
// counterparty inputs are P2WPKH outputs.
func checkInputScript(role covscript.Role, pkScript []byte) error {
	switch role {
	case covscript.RoleCovenant:
		if !txscript.IsPayToTaproot(pkScript) {
			return fmt.Errorf("%w: covenant input is not taproot",
				ErrInvalidInput)
		}

	default:
		if !txscript.IsPayToWitnessPubKeyHash(pkScript) {
			return fmt.Errorf("%w: %v input is not P2WPKH",
				ErrInvalidInput, role)
		}
	}

	return nil
}

func (p *Packet) checkIndex(idx int) error {
	if idx < 0 || idx >= len(p.Inputs) {
		return fmt.Errorf("%w: %d", ErrInputIndex, idx)
	}
	return nil
}

// UnsignedTx returns a copy of the transaction without any witness.
func (p *Packet) UnsignedTx() *elwire.MsgTx {
	tx := p.tx.Copy()
	for _, txIn := range tx.TxIn {
		txIn.Witness = nil
	}
	return tx
}

// PrevOuts returns the outputs spent by the transaction, in input order.
func (p *Packet) PrevOuts() []*elwire.TxOut {
	return p.prevOuts
}

// IsFinalized returns true once input idx carries its witness.
func (p *Packet) IsFinalized(idx int) bool {
	return idx >= 0 && idx < len(p.finalized) && p.finalized[idx]
}

// AttachWitness finalizes input idx with witness.
func (p *Packet) AttachWitness(idx int, witness Witness) error {
	if err := p.checkIndex(idx); err != nil {
		return err
	}
	if p.finalized[idx] {
		return fmt.Errorf("%w: %d", ErrAlreadyFinalized, idx)
	}

	stack := witness.Stack()
	if len(stack) == 0 {
		return fmt.Errorf("%w: empty witness for input %d",
			ErrInvalidInput, idx)
	}

	p.tx.TxIn[idx].Witness = stack
	p.finalized[idx] = true

	log.Tracef("Attached witness of %d items to input %d", len(stack),
		idx)

	return nil
}

// p2pkhScriptCode returns the script code of a segwit v0 key hash spend.
func p2pkhScriptCode(keyHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(keyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// SigHash returns the signature hash of input idx. P2WPKH inputs use the
// segwit v0 algorithm, taproot inputs the taproot one. A non-nil leaf
// selects the script path hash of that leaf.
func (p *Packet) SigHash(idx int, hashType txscript.SigHashType,
	leaf *chainhash.Hash) ([]byte, error) {

	if err := p.checkIndex(idx); err != nil {
		return nil, err
	}

	sigHashes, err := elwire.NewTxSigHashes(p.tx, p.prevOuts)
	if err != nil {
		return nil, err
	}

	pkScript := p.Inputs[idx].PkScript
	switch {
	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		scriptCode, err := p2pkhScriptCode(pkScript[2:])
		if err != nil {
			return nil, err
		}

		return elwire.CalcWitnessSigHash(
			scriptCode, sigHashes, hashType, p.tx, idx,
			p.Inputs[idx].Value,
		)

	case txscript.IsPayToTaproot(pkScript):
		var opts *elwire.TaprootSigHashOptions
		if leaf != nil {
			opts = &elwire.TaprootSigHashOptions{LeafHash: *leaf}
		}

		return elwire.CalcTaprootSigHash(
			sigHashes, hashType, p.tx, idx, p.prevOuts,
			p.Params.GenesisHash, opts,
		)

	default:
		return nil, fmt.Errorf("%w: unsupported script %x",
			ErrInvalidInput, pkScript)
	}
}

// Finalize makes sure every input carries its witness.
func (p *Packet) Finalize() error {
	for idx, done := range p.finalized {
		if !done {
			return fmt.Errorf("%w: %d", ErrNotFinalized, idx)
		}
	}
	return nil
}

// Extract returns the signed transaction. Every input must be finalized.
func (p *Packet) Extract() (*elwire.MsgTx, error) {
	if err := p.Finalize(); err != nil {
		return nil, err
	}

	return p.tx.Copy(), nil
}

// Serialize returns the network serialization of the signed transaction.
func (p *Packet) Serialize() ([]byte, error) {
	tx, err := p.Extract()
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := tx.Serialize(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Preflight runs every finalized input through the local interpreter.
// Counterparty inputs that are not signed yet are skipped.
func (p *Packet) Preflight() error {
	for idx := range p.Inputs {
		if !p.finalized[idx] {
			continue
		}

		engine, err := vm.New(p.tx, p.prevOuts, idx, p.Params.GenesisHash)
		if err != nil {
			return err
		}
		if err := engine.Execute(); err != nil {
			return fmt.Errorf("preflight of input %d (%v): %w", idx,
				p.InputRoles.Role(idx), err)
		}
	}

	return nil
}

// Fee returns the value of the fee output.
func (p *Packet) Fee() btcutil.Amount {
	return btcutil.Amount(p.Outputs[p.OutputRoles.Fee].Value)
}
