package tapscript

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightninglabs/tapcov/address"
)

// TweakPubKey returns Q = lift_x(P) + t*G, the key P tweaked by t.
func TweakPubKey(internalKey *btcec.PublicKey,
	tweak chainhash.Hash) (*btcec.PublicKey, error) {

	// Only the x coordinate of the internal key is committed to, so we
	// first lift it to the point with an even y coordinate.
	evenKey, err := schnorr.ParsePubKey(
		schnorr.SerializePubKey(internalKey),
	)
	if err != nil {
		return nil, newErrInner(ErrInvalidInternalKey, err)
	}

	var tweakScalar btcec.ModNScalar
	if overflow := tweakScalar.SetBytes((*[32]byte)(&tweak)); overflow != 0 {
		return nil, newErrKind(ErrTweakOverflow)
	}

	var internalPoint, tweakPoint, outputPoint btcec.JacobianPoint
	evenKey.AsJacobian(&internalPoint)
	btcec.ScalarBaseMultNonConst(&tweakScalar, &tweakPoint)
	btcec.AddNonConst(&internalPoint, &tweakPoint, &outputPoint)

	if (outputPoint.X.IsZero() && outputPoint.Y.IsZero()) ||
		outputPoint.Z.IsZero() {

		return nil, newErrKind(ErrInfinity)
	}

	outputPoint.ToAffine()
	return btcec.NewPublicKey(&outputPoint.X, &outputPoint.Y), nil
}

// ComputeOutputKey computes the taproot output key of internalKey committing
// to the script tree root.
func ComputeOutputKey(internalKey *btcec.PublicKey,
	root []byte) (*btcec.PublicKey, error) {

	return TweakPubKey(internalKey, TweakHash(internalKey, root))
}

// IsOdd returns true if the y coordinate of key is odd.
func IsOdd(key *btcec.PublicKey) bool {
	prefix := key.SerializeCompressed()[0]
	return prefix == secp256k1.PubKeyFormatCompressedOdd
}

// ParityByte returns the compressed key prefix 0x02 or 0x03 matching the y
// parity of key.
func ParityByte(key *btcec.PublicKey) byte {
	return key.SerializeCompressed()[0]
}

// PayToTaprootScript creates a pk script for a pay-to-taproot output key.
func PayToTaprootScript(taprootKey *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(schnorr.SerializePubKey(taprootKey)).
		Script()
}

// TaprootOutput is everything known about a single leaf taproot output.
type TaprootOutput struct {
	// InternalKey is the untweaked key of the output.
	InternalKey *btcec.PublicKey

	// LeafScript is the only script of the tree.
	LeafScript []byte

	// LeafHash is the tapleaf hash of LeafScript.
	LeafHash chainhash.Hash

	// TreeHash is the merkle root of the tree, equal to LeafHash.
	TreeHash chainhash.Hash

	// Tweak is the tweak applied to the internal key.
	Tweak chainhash.Hash

	// OutputKey is the tweaked key the output pays to.
	OutputKey *btcec.PublicKey

	// OutputKeyYIsOdd is the parity of the output key, as committed to in
	// the control block.
	OutputKeyYIsOdd bool

	// PkScript is the v1 witness output script.
	PkScript []byte

	// Address is the unconfidential address of the output.
	Address string
}

// Derive computes the taproot output of a tree that holds leafScript as its
// only leaf.
func Derive(internalKey *btcec.PublicKey, leafScript []byte,
	params *address.ChainParams) (*TaprootOutput, error) {

	leafHash := LeafHash(leafScript)
	treeHash := TreeHash(leafHash)
	tweak := TweakHash(internalKey, treeHash[:])

	outputKey, err := TweakPubKey(internalKey, tweak)
	if err != nil {
		return nil, err
	}

	pkScript, err := PayToTaprootScript(outputKey)
	if err != nil {
		return nil, newErrInner(ErrAddressEncoding, err)
	}

	addr, err := address.EncodeTaproot(outputKey, params)
	if err != nil {
		return nil, newErrInner(ErrAddressEncoding, err)
	}

	return &TaprootOutput{
		InternalKey:     internalKey,
		LeafScript:      leafScript,
		LeafHash:        leafHash,
		TreeHash:        treeHash,
		Tweak:           tweak,
		OutputKey:       outputKey,
		OutputKeyYIsOdd: IsOdd(outputKey),
		PkScript:        pkScript,
		Address:         addr,
	}, nil
}

// ScriptPathStack holds what a script path spend of a single leaf output
// reveals besides the script arguments.
type ScriptPathStack struct {
	// LeafScript is the revealed script.
	LeafScript []byte

	// ControlBlock is the serialized control block with an empty
	// inclusion proof.
	ControlBlock []byte

	// OutputKeyYIsOdd is the parity of the output key being spent.
	OutputKeyYIsOdd bool
}

// ControlStack builds the control block that proves leafScript is committed
// to by the output key of internalKey.
func ControlStack(internalKey *btcec.PublicKey,
	leafScript []byte) (*ScriptPathStack, error) {

	treeHash := TreeHash(LeafHash(leafScript))
	outputKey, err := ComputeOutputKey(internalKey, treeHash[:])
	if err != nil {
		return nil, err
	}

	ctrlBlock := txscript.ControlBlock{
		InternalKey:     internalKey,
		OutputKeyYIsOdd: IsOdd(outputKey),
		LeafVersion:     LeafVersion,
	}
	ctrlBlockBytes, err := ctrlBlock.ToBytes()
	if err != nil {
		return nil, newErrInner(ErrControlBlock, err)
	}

	return &ScriptPathStack{
		LeafScript:      leafScript,
		ControlBlock:    ctrlBlockBytes,
		OutputKeyYIsOdd: ctrlBlock.OutputKeyYIsOdd,
	}, nil
}

// VerifyScriptPath checks that the control block commits leafScript to the
// given x-only output key.
func VerifyScriptPath(witnessProgram, leafScript, ctrlBlockBytes []byte) error {
	ctrlBlock, err := txscript.ParseControlBlock(ctrlBlockBytes)
	if err != nil {
		return err
	}
	if ctrlBlock.LeafVersion != LeafVersion {
		return fmt.Errorf("unexpected leaf version %x",
			ctrlBlock.LeafVersion)
	}
	if len(ctrlBlock.InclusionProof) != 0 {
		return fmt.Errorf("inclusion proof of %d bytes for single "+
			"leaf tree", len(ctrlBlock.InclusionProof))
	}

	treeHash := TreeHash(LeafHash(leafScript))
	outputKey, err := ComputeOutputKey(ctrlBlock.InternalKey, treeHash[:])
	if err != nil {
		return err
	}

	if !bytes.Equal(schnorr.SerializePubKey(outputKey), witnessProgram) {
		return fmt.Errorf("control block does not commit to output "+
			"key %x", witnessProgram)
	}
	if IsOdd(outputKey) != ctrlBlock.OutputKeyYIsOdd {
		return fmt.Errorf("control block parity mismatch")
	}

	return nil
}
