package covscript

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/lightninglabs/tapcov/tapscript"
)

// explicitPrefix is the prefix byte the introspection opcodes push for an
// explicit asset or value. OP_1 pushes the same byte.
const explicitPrefix = txscript.OP_1

// SelfVerification returns the subroutine that rebuilds the leaf hash of
// the output at outputIndex and checks that the output pays to internalKey
// tweaked by that leaf. It runs right after the body and its size prefix
// have been pushed, and expects the parity byte of the output key beneath
// them. head is hashed in front of the reconstructed tail to form the
// committed leaf script, including its compact size.
//
// The leaf is never concatenated on the stack. It is fed to the streaming
// SHA256 opcodes in three pieces, so every stack element stays within
// txscript.MaxScriptElementSize.
func SelfVerification(internalKey *btcec.PublicKey, outputIndex uint32,
	head []byte) Script {

	tweakPrefix := tapscript.TaggedHashPrefix(tapscript.TagTapTweak)

	return NewBuilder().
		// <B> <L> -> <B> <B> <L>.
		AddOps(txscript.OP_SWAP, txscript.OP_DUP, txscript.OP_ROT).

		// H_TapLeaf(0xc4 || head || L || B || B).
		AddData(leafHashHead(head)).
		AddOps(txscript.OP_SWAP, txscript.OP_CAT, OP_SHA256INITIALIZE,
			OP_SHA256UPDATE, OP_SHA256FINALIZE).

		// Keep the internal key for the final check.
		AddData(schnorr.SerializePubKey(internalKey)).
		AddOps(txscript.OP_DUP, txscript.OP_TOALTSTACK).

		// tweak = H_TapTweak(P || leaf hash).
		AddData(tweakPrefix).
		AddOps(txscript.OP_SWAP, txscript.OP_CAT, txscript.OP_SWAP,
			txscript.OP_CAT, txscript.OP_SHA256,
			txscript.OP_TOALTSTACK).

		// Read the output key and complete it with the parity byte
		// from the witness.
		AddInt64(int64(outputIndex)).
		AddOps(OP_INSPECTOUTPUTSCRIPTPUBKEY, txscript.OP_VERIFY,
			txscript.OP_CAT, txscript.OP_FROMALTSTACK,
			txscript.OP_FROMALTSTACK, OP_TWEAKVERIFY).
		Script()
}

// leafHashHead is the constant start of the tagged leaf hash preimage: the
// doubled tag hash, the leaf version and head.
func leafHashHead(head []byte) []byte {
	prefix := tapscript.TaggedHashPrefix(tapscript.TagTapLeaf)
	prefix = append(prefix, byte(tapscript.LeafVersion))
	return append(prefix, head...)
}

// AssetCheck requires the output at outputIndex to carry the explicit asset.
func AssetCheck(outputIndex uint32, asset elwire.AssetID) Script {
	return NewBuilder().
		AddInt64(int64(outputIndex)).
		AddOp(OP_INSPECTOUTPUTASSET).
		AddOps(explicitPrefix, txscript.OP_EQUALVERIFY).
		AddData(asset.ScriptBytes()).
		AddOp(txscript.OP_EQUALVERIFY).
		Script()
}

// ValueCheck requires the output at outputIndex to carry exactly value.
func ValueCheck(outputIndex uint32, value uint64) Script {
	return NewBuilder().
		AddInt64(int64(outputIndex)).
		AddOp(OP_INSPECTOUTPUTVALUE).
		AddOps(explicitPrefix, txscript.OP_EQUALVERIFY).
		AddData(EncodeValue(value)).
		AddOp(txscript.OP_EQUALVERIFY).
		Script()
}

// ScriptCheck requires the output at outputIndex to pay to pkScript. Witness
// outputs are compared by version and program, other scripts by their
// SHA256 as reported by the introspection opcode.
func ScriptCheck(outputIndex uint32, pkScript []byte) Script {
	b := NewBuilder().
		AddInt64(int64(outputIndex)).
		AddOp(OP_INSPECTOUTPUTSCRIPTPUBKEY)

	version, program, err := txscript.ExtractWitnessProgramInfo(pkScript)
	if err != nil {
		scriptHash := sha256.Sum256(pkScript)
		return b.AddOps(txscript.OP_1NEGATE, txscript.OP_EQUALVERIFY).
			AddData(scriptHash[:]).
			AddOp(txscript.OP_EQUALVERIFY).
			Script()
	}

	return b.AddInt64(int64(version)).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(program).
		AddOp(txscript.OP_EQUALVERIFY).
		Script()
}

// PaymentCheck requires the output at outputIndex to pay value units of
// asset to pkScript, as used for royalties and swaps.
func PaymentCheck(outputIndex uint32, asset elwire.AssetID, value uint64,
	pkScript []byte) Script {

	return Concat(
		ScriptCheck(outputIndex, pkScript),
		AssetCheck(outputIndex, asset),
		ValueCheck(outputIndex, value),
	)
}

// InputAssetCheck requires the input being spent to carry the explicit
// asset.
func InputAssetCheck(asset elwire.AssetID) Script {
	return NewBuilder().
		AddOps(OP_PUSHCURRENTINPUTINDEX, OP_INSPECTINPUTASSET).
		AddOps(explicitPrefix, txscript.OP_EQUALVERIFY).
		AddData(asset.ScriptBytes()).
		AddOp(txscript.OP_EQUALVERIFY).
		Script()
}

// ValueConservation requires the output at outputIndex to carry the same
// explicit value as the input being spent.
func ValueConservation(outputIndex uint32) Script {
	return NewBuilder().
		AddOps(OP_PUSHCURRENTINPUTINDEX, OP_INSPECTINPUTVALUE).
		AddOps(explicitPrefix, txscript.OP_EQUALVERIFY).
		AddInt64(int64(outputIndex)).
		AddOp(OP_INSPECTOUTPUTVALUE).
		AddOps(explicitPrefix, txscript.OP_EQUALVERIFY,
			txscript.OP_EQUALVERIFY).
		Script()
}

// AssetConservation requires the output at outputIndex to carry the same
// explicit asset as the input being spent.
func AssetConservation(outputIndex uint32) Script {
	return NewBuilder().
		AddOps(OP_PUSHCURRENTINPUTINDEX, OP_INSPECTINPUTASSET).
		AddOps(explicitPrefix, txscript.OP_EQUALVERIFY).
		AddInt64(int64(outputIndex)).
		AddOp(OP_INSPECTOUTPUTASSET).
		AddOps(explicitPrefix, txscript.OP_EQUALVERIFY,
			txscript.OP_EQUALVERIFY).
		Script()
}

// SignerCheck is a prefix that requires a signature of key on top of the
// witness stack.
func SignerCheck(key *btcec.PublicKey) Script {
	return NewBuilder().
		AddData(schnorr.SerializePubKey(key)).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		Script()
}

// DefaultConditions are the checks of a covenant that keeps a fixed amount
// of one asset locked: the covenant output must carry asset and value, and
// so must the input being spent.
func DefaultConditions(outputIndex uint32, asset elwire.AssetID,
	value uint64) []Script {

	return []Script{
		AssetCheck(outputIndex, asset),
		ValueCheck(outputIndex, value),
		InputAssetCheck(asset),
	}
}
