package covsend

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/tapcov/covscript"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/lightninglabs/tapcov/tapscript"
)

// mirrorPacket returns a bitcoin psbt with the same inputs and output
// scripts as the packet. It only carries the partial signatures of
// counterparty inputs through the psbt finalizer; the explicit asset fields
// have no place in it.
func (p *Packet) mirrorPacket() (*psbt.Packet, error) {
	outPoints := make([]*wire.OutPoint, 0, len(p.Inputs))
	sequences := make([]uint32, 0, len(p.Inputs))
	for idx, in := range p.Inputs {
		outPoint := in.OutPoint
		outPoints = append(outPoints, &outPoint)
		sequences = append(sequences, p.tx.TxIn[idx].Sequence)
	}

	outputs := make([]*wire.TxOut, 0, len(p.Outputs))
	for _, out := range p.Outputs {
		outputs = append(outputs, wire.NewTxOut(
			int64(out.Value), out.PkScript,
		))
	}

	return psbt.New(
		outPoints, outputs, p.tx.Version, p.tx.LockTime, sequences,
	)
}

// SignCounterparty signs the P2WPKH input idx with key and finalizes it. The
// signature goes through a psbt partial signature and the psbt finalizer,
// which assembles the [signature, public key] witness.
func (p *Packet) SignCounterparty(idx int, key *btcec.PrivateKey) error {
	if err := p.checkIndex(idx); err != nil {
		return err
	}
	if p.InputRoles.Role(idx) != covscript.RoleCounterparty {
		return fmt.Errorf("%w: input %d is the covenant input",
			ErrInvalidInput, idx)
	}

	in := p.Inputs[idx]
	pubKey := key.PubKey().SerializeCompressed()
	if !bytes.Equal(in.PkScript[2:], btcutil.Hash160(pubKey)) {
		return fmt.Errorf("%w: input %d", ErrWrongKey, idx)
	}

	sigHash, err := p.SigHash(idx, p.SigHashType, nil)
	if err != nil {
		return err
	}
	sig := ecdsa.Sign(key, sigHash)
	sigBytes := append(sig.Serialize(), byte(p.SigHashType))

	pkt, err := p.mirrorPacket()
	if err != nil {
		return err
	}
	updater, err := psbt.NewUpdater(pkt)
	if err != nil {
		return err
	}

	witnessUtxo := wire.NewTxOut(int64(in.Value), in.PkScript)
	if err := updater.AddInWitnessUtxo(witnessUtxo, idx); err != nil {
		return err
	}
	if err := updater.AddInSighashType(p.SigHashType, idx); err != nil {
		return err
	}

	outcome, err := updater.Sign(idx, sigBytes, pubKey, nil, nil)
	if err != nil {
		return fmt.Errorf("unable to add partial signature: %w", err)
	}
	if outcome != psbt.SignSuccesful {
		return fmt.Errorf("unable to add partial signature to input "+
			"%d: outcome %v", idx, outcome)
	}

	if err := psbt.Finalize(pkt, idx); err != nil {
		return fmt.Errorf("unable to finalize input %d: %w", idx, err)
	}

	witness, err := elwire.ParseWitness(pkt.Inputs[idx].FinalScriptWitness)
	if err != nil {
		return err
	}

	log.Debugf("Signed counterparty input %d", idx)

	return p.AttachWitness(idx, RawWitness(witness))
}

// SignKeyPath spends the covenant input idx through the key path: the
// internal key is tweaked with the script root and signs the taproot
// sighash.
func (p *Packet) SignKeyPath(idx int, internalKey *btcec.PrivateKey,
	root []byte) error {

	if err := p.checkIndex(idx); err != nil {
		return err
	}

	outputKey, err := tapscript.ComputeOutputKey(
		internalKey.PubKey(), root,
	)
	if err != nil {
		return err
	}
	taprootScript, err := tapscript.PayToTaprootScript(outputKey)
	if err != nil {
		return err
	}
	if !bytes.Equal(taprootScript, p.Inputs[idx].PkScript) {
		return fmt.Errorf("%w: tweaked key does not match input %d",
			ErrWrongKey, idx)
	}

	sigHash, err := p.SigHash(idx, p.SigHashType, nil)
	if err != nil {
		return err
	}
	sig, err := tapscript.SignKeyPath(
		sigHash, root, internalKey, p.SigHashType,
	)
	if err != nil {
		return err
	}

	log.Debugf("Signed key path of input %d", idx)

	return p.AttachWitness(idx, &KeyPathWitness{Signature: sig})
}

// SignScriptPath spends the covenant input idx through the covenant leaf.
// nextOutputKey is the key of the output that recreates the covenant, its
// parity is the first witness argument. If the covenant has a SignerCheck
// prefix, signer signs the script path sighash.
func (p *Packet) SignScriptPath(idx int, c *covscript.Covenant,
	nextOutputKey *btcec.PublicKey, signer *btcec.PrivateKey) error {

	if err := p.checkIndex(idx); err != nil {
		return err
	}

	stack, err := c.ControlStack()
	if err != nil {
		return err
	}

	var prefixArgs [][]byte
	if signer != nil {
		leafHash := tapscript.LeafHash(stack.LeafScript)
		sigHash, err := p.SigHash(
			idx, txscript.SigHashDefault, &leafHash,
		)
		if err != nil {
			return err
		}

		sig, err := tapscript.SignScriptPath(
			sigHash, signer, txscript.SigHashDefault,
		)
		if err != nil {
			return err
		}
		prefixArgs = append(prefixArgs, sig)
	}

	log.Debugf("Spending input %d through the covenant leaf of %d bytes",
		idx, len(stack.LeafScript))

	return p.AttachWitness(idx, &ScriptPathWitness{
		Args:         c.WitnessArgs(nextOutputKey, prefixArgs...),
		Script:       stack.LeafScript,
		ControlBlock: stack.ControlBlock,
	})
}
