package vm

import (
	"bytes"
	"crypto/sha256"
	"encoding"
	"fmt"
	"hash"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightninglabs/tapcov/covscript"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/lightninglabs/tapcov/tapscript"
)

const (
	// annexTag marks the optional last witness item of a taproot spend.
	annexTag = 0x50

	// xOnlyKeySize is the size of the keys checked inside tapscript.
	xOnlyKeySize = 32

	// compressedKeySize is the size of the full output key checked by
	// OP_TWEAKVERIFY.
	compressedKeySize = 33

	// maxElementSize is the largest stack element a tapscript may push
	// or build.
	maxElementSize = txscript.MaxScriptElementSize
)

// Engine is a virtual machine that verifies a single input of an explicit
// Elements transaction. It understands key path spends, tapscript spends
// limited to the covenant vocabulary, and P2WPKH spends of counterparty
// inputs. It is not a consensus implementation: the ledger remains the
// final verifier.
type Engine struct {
	// tx is the transaction that spends the input.
	tx *elwire.MsgTx

	// prevOuts holds the output spent by each input of tx.
	prevOuts []*elwire.TxOut

	// inputIdx is the input being verified.
	inputIdx int

	// genesis is the genesis block hash of the chain, committed to by
	// taproot signatures.
	genesis chainhash.Hash

	sigHashes *elwire.TxSigHashes

	// leafHash is the tapleaf hash of the executing script.
	leafHash chainhash.Hash

	dstack stack
	astack stack
}

// New returns a new virtual machine that verifies input inputIdx of tx.
func New(tx *elwire.MsgTx, prevOuts []*elwire.TxOut, inputIdx int,
	genesis chainhash.Hash) (*Engine, error) {

	if inputIdx < 0 || inputIdx >= len(tx.TxIn) {
		return nil, newErrf(ErrNoInputs, "input %d of %d", inputIdx,
			len(tx.TxIn))
	}
	if len(prevOuts) != len(tx.TxIn) {
		return nil, newErrf(ErrInputMismatch, "%d previous outputs "+
			"for %d inputs", len(prevOuts), len(tx.TxIn))
	}

	sigHashes, err := elwire.NewTxSigHashes(tx, prevOuts)
	if err != nil {
		return nil, newErrInner(ErrInputMismatch, err)
	}

	return &Engine{
		tx:        tx,
		prevOuts:  prevOuts,
		inputIdx:  inputIdx,
		genesis:   genesis,
		sigHashes: sigHashes,
	}, nil
}

// Execute verifies the witness of the input against the output it spends.
func (vm *Engine) Execute() error {
	prevOut := vm.prevOuts[vm.inputIdx]
	version, program, err := txscript.ExtractWitnessProgramInfo(
		prevOut.Script,
	)
	if err != nil {
		return newErrInner(ErrNotTaproot, err)
	}

	witness := vm.tx.TxIn[vm.inputIdx].Witness
	if len(witness) == 0 {
		return newErrf(ErrInvalidWitness, "empty witness")
	}

	switch {
	case version == 0 && len(program) == 20:
		return vm.validateWitnessV0KeyHash(program, witness)

	case version == 1 && len(program) == 32:
		return vm.validateTaproot(program, witness)

	default:
		return newErrf(ErrNotTaproot, "witness v%d program of %d "+
			"bytes", version, len(program))
	}
}

// validateWitnessV0KeyHash verifies a P2WPKH spend.
func (vm *Engine) validateWitnessV0KeyHash(keyHash []byte,
	witness [][]byte) error {

	if len(witness) != 2 {
		return newErrf(ErrInvalidWitness, "p2wpkh witness of %d items",
			len(witness))
	}

	sigBytes, pubKeyBytes := witness[0], witness[1]
	if !bytes.Equal(btcutil.Hash160(pubKeyBytes), keyHash) {
		return newErrf(ErrInvalidWitness, "key does not match hash")
	}
	if len(sigBytes) == 0 {
		return newErrKind(ErrInvalidSignature)
	}

	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return newErrInner(ErrInvalidWitness, err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes[:len(sigBytes)-1])
	if err != nil {
		return newErrInner(ErrInvalidSignature, err)
	}
	hashType := txscript.SigHashType(sigBytes[len(sigBytes)-1])

	scriptCode, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(keyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return err
	}

	prevOut := vm.prevOuts[vm.inputIdx]
	if prevOut.IsConfidential() {
		return newErrInner(ErrInvalidWitness, elwire.ErrConfidential)
	}
	sigHash, err := elwire.CalcWitnessSigHash(
		scriptCode, vm.sigHashes, hashType, vm.tx, vm.inputIdx,
		prevOut.Value,
	)
	if err != nil {
		return newErrInner(ErrInvalidSigHashFlag, err)
	}
	if !sig.Verify(sigHash, pubKey) {
		return newErrf(ErrInvalidSignature, "input %d", vm.inputIdx)
	}

	return nil
}

// validateTaproot verifies a key path or script path spend of a taproot
// output.
func (vm *Engine) validateTaproot(program []byte, witness [][]byte) error {
	if len(witness) >= 2 {
		last := witness[len(witness)-1]
		if len(last) > 0 && last[0] == annexTag {
			return newErrf(ErrInvalidWitness, "annex not supported")
		}
	}

	if len(witness) == 1 {
		return vm.validateKeyPath(program, witness[0])
	}

	ctrlBlock := witness[len(witness)-1]
	leafScript := witness[len(witness)-2]
	args := witness[:len(witness)-2]

	err := tapscript.VerifyScriptPath(program, leafScript, ctrlBlock)
	if err != nil {
		return newErrInner(ErrInvalidControlBlock, err)
	}

	script, err := covscript.ParseScript(leafScript)
	if err != nil {
		return newErrInner(ErrInvalidWitness, err)
	}

	vm.leafHash = tapscript.LeafHash(leafScript)
	vm.dstack = stack{}
	vm.astack = stack{}
	for i, arg := range args {
		if len(arg) > maxElementSize {
			return newErrf(ErrElementTooLarge, "witness item %d "+
				"of %d bytes", i, len(arg))
		}
		vm.dstack.push(append([]byte{}, arg...))
	}

	for i, tok := range script.Tokens() {
		if err := vm.step(tok); err != nil {
			log.Debugf("Script of input %d failed at token %d (%v) "+
				"with stack: %v", vm.inputIdx, i, tok,
				spew.Sdump(vm.dstack.items))

			return err
		}
	}

	if vm.dstack.depth() != 1 {
		return newErrf(ErrCleanStack, "%d items left",
			vm.dstack.depth())
	}
	if ok, _ := vm.dstack.popBool(); !ok {
		return newErrf(ErrCleanStack, "false result")
	}

	return nil
}

// validateKeyPath verifies a key path signature against the output key.
func (vm *Engine) validateKeyPath(program, sigBytes []byte) error {
	outputKey, err := schnorr.ParsePubKey(program)
	if err != nil {
		return newErrInner(ErrNotTaproot, err)
	}

	_, hashType, err := tapscript.ParseSig(sigBytes)
	if err != nil {
		return newErrInner(ErrInvalidSignature, err)
	}

	sigHash, err := elwire.CalcTaprootSigHash(
		vm.sigHashes, hashType, vm.tx, vm.inputIdx, vm.prevOuts,
		vm.genesis, nil,
	)
	if err != nil {
		return newErrInner(ErrInvalidSigHashFlag, err)
	}

	var msgHash chainhash.Hash
	copy(msgHash[:], sigHash)
	err = tapscript.VerifyKeyPath(sigBytes, msgHash, outputKey)
	if err != nil {
		return newErrInner(ErrInvalidSignature, err)
	}

	return nil
}

// checkSig verifies a tapscript signature. An empty signature is a valid
// way to fail the check, any other failing signature aborts the script.
func (vm *Engine) checkSig(sigBytes, keyBytes []byte) (bool, error) {
	if len(keyBytes) != xOnlyKeySize {
		return false, newErrf(ErrInvalidStackOperation, "key of %d "+
			"bytes", len(keyBytes))
	}
	if len(sigBytes) == 0 {
		return false, nil
	}

	pubKey, err := schnorr.ParsePubKey(keyBytes)
	if err != nil {
		return false, newErrInner(ErrInvalidStackOperation, err)
	}
	sig, hashType, err := tapscript.ParseSig(sigBytes)
	if err != nil {
		return false, newErrInner(ErrInvalidSignature, err)
	}

	sigHash, err := elwire.CalcTaprootSigHash(
		vm.sigHashes, hashType, vm.tx, vm.inputIdx, vm.prevOuts,
		vm.genesis, &elwire.TaprootSigHashOptions{
			LeafHash: vm.leafHash,
		},
	)
	if err != nil {
		return false, newErrInner(ErrInvalidSigHashFlag, err)
	}

	if !sig.Verify(sigHash, pubKey) {
		return false, newErrf(ErrInvalidSignature, "key %x", keyBytes)
	}

	return true, nil
}

// tweakVerify checks that Q = P + k*G, where P is the x-only key on top of
// the stack, k the scalar below it and Q the compressed key below that.
func (vm *Engine) tweakVerify() error {
	internalKeyBytes, err := vm.dstack.pop()
	if err != nil {
		return err
	}
	tweakBytes, err := vm.dstack.pop()
	if err != nil {
		return err
	}
	outputKeyBytes, err := vm.dstack.pop()
	if err != nil {
		return err
	}

	switch {
	case len(internalKeyBytes) != xOnlyKeySize:
		return newErrf(ErrInvalidStackOperation, "internal key of %d "+
			"bytes", len(internalKeyBytes))

	case len(tweakBytes) != chainhash.HashSize:
		return newErrf(ErrInvalidStackOperation, "tweak of %d bytes",
			len(tweakBytes))

	case len(outputKeyBytes) != compressedKeySize:
		return newErrf(ErrInvalidStackOperation, "output key of %d "+
			"bytes", len(outputKeyBytes))
	}

	internalKey, err := schnorr.ParsePubKey(internalKeyBytes)
	if err != nil {
		return newErrInner(ErrInvalidStackOperation, err)
	}
	if _, err := btcec.ParsePubKey(outputKeyBytes); err != nil {
		return newErrInner(ErrInvalidStackOperation, err)
	}

	var tweak chainhash.Hash
	copy(tweak[:], tweakBytes)
	tweaked, err := tapscript.TweakPubKey(internalKey, tweak)
	if err != nil {
		return newErrInner(ErrTweakVerify, err)
	}

	if !bytes.Equal(tweaked.SerializeCompressed(), outputKeyBytes) {
		return newErrf(ErrTweakVerify, "expected %x, got %x",
			tweaked.SerializeCompressed(), outputKeyBytes)
	}

	return nil
}

// step executes a single token.
func (vm *Engine) step(tok covscript.Token) error {
	if tok.IsPush() {
		value := tok.StackValue()
		if len(value) > maxElementSize {
			return newErrf(ErrElementTooLarge, "push of %d bytes",
				len(value))
		}
		vm.dstack.push(value)
		return nil
	}

	s := &vm.dstack
	switch tok.Op {
	case txscript.OP_NOP:

	case txscript.OP_VERIFY:
		ok, err := s.popBool()
		if err != nil {
			return err
		}
		if !ok {
			return newErrKind(ErrVerifyFailed)
		}

	case txscript.OP_RETURN:
		return newErrKind(ErrEarlyReturn)

	case txscript.OP_TOALTSTACK:
		item, err := s.pop()
		if err != nil {
			return err
		}
		vm.astack.push(item)

	case txscript.OP_FROMALTSTACK:
		item, err := vm.astack.pop()
		if err != nil {
			return err
		}
		s.push(item)

	case txscript.OP_DROP:
		if _, err := s.pop(); err != nil {
			return err
		}

	case txscript.OP_2DROP:
		if _, err := s.pop(); err != nil {
			return err
		}
		if _, err := s.pop(); err != nil {
			return err
		}

	case txscript.OP_DUP:
		item, err := s.peek(0)
		if err != nil {
			return err
		}
		s.push(append([]byte{}, item...))

	case txscript.OP_2DUP:
		a, err := s.peek(1)
		if err != nil {
			return err
		}
		b, err := s.peek(0)
		if err != nil {
			return err
		}
		s.push(append([]byte{}, a...))
		s.push(append([]byte{}, b...))

	case txscript.OP_OVER:
		item, err := s.peek(1)
		if err != nil {
			return err
		}
		s.push(append([]byte{}, item...))

	case txscript.OP_NIP:
		if _, err := s.remove(1); err != nil {
			return err
		}

	case txscript.OP_SWAP:
		item, err := s.remove(1)
		if err != nil {
			return err
		}
		s.push(item)

	case txscript.OP_ROT:
		item, err := s.remove(2)
		if err != nil {
			return err
		}
		s.push(item)

	case txscript.OP_PICK, txscript.OP_ROLL:
		n, err := s.popInt()
		if err != nil {
			return err
		}

		var item []byte
		if tok.Op == txscript.OP_PICK {
			item, err = s.peek(int(n))
			item = append([]byte{}, item...)
		} else {
			item, err = s.remove(int(n))
		}
		if err != nil {
			return err
		}
		s.push(item)

	case txscript.OP_DEPTH:
		s.pushInt(int64(s.depth()))

	case txscript.OP_SIZE:
		item, err := s.peek(0)
		if err != nil {
			return err
		}
		s.pushInt(int64(len(item)))

	case txscript.OP_CAT:
		b, err := s.pop()
		if err != nil {
			return err
		}
		a, err := s.pop()
		if err != nil {
			return err
		}
		if len(a)+len(b) > maxElementSize {
			return newErrf(ErrElementTooLarge, "OP_CAT result of "+
				"%d bytes", len(a)+len(b))
		}
		s.push(append(append([]byte{}, a...), b...))

	case txscript.OP_EQUAL, txscript.OP_EQUALVERIFY:
		b, err := s.pop()
		if err != nil {
			return err
		}
		a, err := s.pop()
		if err != nil {
			return err
		}

		equal := bytes.Equal(a, b)
		if tok.Op == txscript.OP_EQUALVERIFY {
			if !equal {
				return newErrf(ErrEqualVerify, "%x != %x", a, b)
			}
			break
		}
		s.pushBool(equal)

	case txscript.OP_SHA256:
		item, err := s.pop()
		if err != nil {
			return err
		}
		h := sha256.Sum256(item)
		s.push(h[:])

	case txscript.OP_HASH160:
		item, err := s.pop()
		if err != nil {
			return err
		}
		s.push(btcutil.Hash160(item))

	case txscript.OP_HASH256:
		item, err := s.pop()
		if err != nil {
			return err
		}
		s.push(chainhash.DoubleHashB(item))

	case txscript.OP_CHECKSIG, txscript.OP_CHECKSIGVERIFY:
		keyBytes, err := s.pop()
		if err != nil {
			return err
		}
		sigBytes, err := s.pop()
		if err != nil {
			return err
		}

		ok, err := vm.checkSig(sigBytes, keyBytes)
		if err != nil {
			return err
		}
		if tok.Op == txscript.OP_CHECKSIGVERIFY {
			if !ok {
				return newErrKind(ErrVerifyFailed)
			}
			break
		}
		s.pushBool(ok)

	case covscript.OP_SHA256INITIALIZE:
		data, err := s.pop()
		if err != nil {
			return err
		}
		h := sha256.New()
		h.Write(data)
		return pushSHA256Context(s, h)

	case covscript.OP_SHA256UPDATE, covscript.OP_SHA256FINALIZE:
		ctxBytes, err := s.pop()
		if err != nil {
			return err
		}
		data, err := s.pop()
		if err != nil {
			return err
		}

		h := sha256.New()
		unmarshaler := h.(encoding.BinaryUnmarshaler)
		if err := unmarshaler.UnmarshalBinary(ctxBytes); err != nil {
			return newErrInner(ErrInvalidStackOperation, err)
		}
		h.Write(data)

		if tok.Op == covscript.OP_SHA256FINALIZE {
			s.push(h.Sum(nil))
			break
		}
		return pushSHA256Context(s, h)

	case covscript.OP_TWEAKVERIFY:
		return vm.tweakVerify()

	default:
		return vm.executeIntrospection(tok.Op)
	}

	return nil
}

// pushSHA256Context pushes the serialized state of an unfinished SHA256
// computation.
func pushSHA256Context(s *stack, h hash.Hash) error {
	ctxBytes, err := h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		return newErrInner(ErrInvalidStackOperation, err)
	}
	s.push(ctxBytes)
	return nil
}

// VerifyTx runs the virtual machine over every input of tx.
func VerifyTx(tx *elwire.MsgTx, prevOuts []*elwire.TxOut,
	genesis chainhash.Hash) error {

	for i := range tx.TxIn {
		engine, err := New(tx, prevOuts, i, genesis)
		if err != nil {
			return err
		}
		if err := engine.Execute(); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}

	return nil
}
