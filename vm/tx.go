package vm

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/txscript"
	"github.com/lightninglabs/tapcov/covscript"
	"github.com/lightninglabs/tapcov/elwire"
)

// explicitPrefix is pushed on top of an introspected asset or value to mark
// it as explicit.
var explicitPrefix = []byte{0x01}

// output returns the output at the index popped from the stack.
func (vm *Engine) output() (*elwire.TxOut, error) {
	idx, err := vm.dstack.popInt()
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= int64(len(vm.tx.TxOut)) {
		return nil, newErrf(ErrIndexOutOfRange, "output %d of %d", idx,
			len(vm.tx.TxOut))
	}

	return vm.tx.TxOut[idx], nil
}

// input returns the input, and the output it spends, at the index popped
// from the stack.
func (vm *Engine) input() (*elwire.TxIn, *elwire.TxOut, error) {
	idx, err := vm.dstack.popInt()
	if err != nil {
		return nil, nil, err
	}
	if idx < 0 || idx >= int64(len(vm.tx.TxIn)) {
		return nil, nil, newErrf(ErrIndexOutOfRange, "input %d of %d",
			idx, len(vm.tx.TxIn))
	}

	return vm.tx.TxIn[idx], vm.prevOuts[idx], nil
}

// pushAsset pushes the asset of out followed by its prefix. A blinded asset
// is pushed as the commitment without its prefix byte.
func (vm *Engine) pushAsset(out *elwire.TxOut) {
	if len(out.AssetCommitment) != 0 {
		vm.dstack.push(out.AssetCommitment[1:])
		vm.dstack.push(out.AssetCommitment[:1])
		return
	}
	vm.dstack.push(out.Asset.ScriptBytes())
	vm.dstack.push(explicitPrefix)
}

// pushValue pushes the value of out followed by its prefix. An explicit
// value is pushed as 8 little-endian bytes.
func (vm *Engine) pushValue(out *elwire.TxOut) {
	if len(out.ValueCommitment) != 0 {
		vm.dstack.push(out.ValueCommitment[1:])
		vm.dstack.push(out.ValueCommitment[:1])
		return
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], out.Value)
	vm.dstack.push(b[:])
	vm.dstack.push(explicitPrefix)
}

// pushScriptPubKey pushes the witness program and then the witness version
// of a script. Scripts that are not witness programs are pushed as their
// SHA256 with a version of -1.
func (vm *Engine) pushScriptPubKey(pkScript []byte) {
	version, program, err := txscript.ExtractWitnessProgramInfo(pkScript)
	if err != nil {
		scriptHash := sha256.Sum256(pkScript)
		vm.dstack.push(scriptHash[:])
		vm.dstack.pushInt(-1)
		return
	}

	vm.dstack.push(program)
	vm.dstack.pushInt(int64(version))
}

func (vm *Engine) pushUint32(n uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	vm.dstack.push(b[:])
}

// executeIntrospection runs one of the Elements introspection opcodes.
func (vm *Engine) executeIntrospection(op byte) error {
	switch op {
	case covscript.OP_INSPECTOUTPUTASSET:
		out, err := vm.output()
		if err != nil {
			return err
		}
		vm.pushAsset(out)

	case covscript.OP_INSPECTOUTPUTVALUE:
		out, err := vm.output()
		if err != nil {
			return err
		}
		vm.pushValue(out)

	case covscript.OP_INSPECTOUTPUTNONCE:
		out, err := vm.output()
		if err != nil {
			return err
		}
		vm.dstack.push(out.Nonce)

	case covscript.OP_INSPECTOUTPUTSCRIPTPUBKEY:
		out, err := vm.output()
		if err != nil {
			return err
		}
		vm.pushScriptPubKey(out.Script)

	case covscript.OP_INSPECTINPUTASSET:
		_, prevOut, err := vm.input()
		if err != nil {
			return err
		}
		vm.pushAsset(prevOut)

	case covscript.OP_INSPECTINPUTVALUE:
		_, prevOut, err := vm.input()
		if err != nil {
			return err
		}
		vm.pushValue(prevOut)

	case covscript.OP_INSPECTINPUTSCRIPTPUBKEY:
		_, prevOut, err := vm.input()
		if err != nil {
			return err
		}
		vm.pushScriptPubKey(prevOut.Script)

	case covscript.OP_INSPECTINPUTSEQUENCE:
		txIn, _, err := vm.input()
		if err != nil {
			return err
		}
		vm.pushUint32(txIn.Sequence)

	case covscript.OP_PUSHCURRENTINPUTINDEX:
		vm.dstack.pushInt(int64(vm.inputIdx))

	case covscript.OP_INSPECTVERSION:
		vm.pushUint32(uint32(vm.tx.Version))

	case covscript.OP_INSPECTLOCKTIME:
		vm.pushUint32(vm.tx.LockTime)

	case covscript.OP_INSPECTNUMINPUTS:
		vm.dstack.pushInt(int64(len(vm.tx.TxIn)))

	case covscript.OP_INSPECTNUMOUTPUTS:
		vm.dstack.pushInt(int64(len(vm.tx.TxOut)))

	default:
		return newErrf(ErrUnsupportedOpcode, "%s",
			covscript.OpcodeName(op))
	}

	return nil
}
