package tapscript

import (
	"crypto/rand"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// TweakPrivKey tweaks a private key by the tweak of the given script tree
// root. The key is negated first if its public key has an odd y coordinate,
// matching the even lift of the internal key.
func TweakPrivKey(privKey *btcec.PrivateKey,
	root []byte) (*btcec.PrivateKey, error) {

	privScalar := privKey.Key
	if IsOdd(privKey.PubKey()) {
		privScalar.Negate()
	}

	tweak := TweakHash(privKey.PubKey(), root)

	var tweakScalar btcec.ModNScalar
	if overflow := tweakScalar.SetBytes((*[32]byte)(&tweak)); overflow != 0 {
		return nil, newErrKind(ErrTweakOverflow)
	}

	privScalar.Add(&tweakScalar)
	if privScalar.IsZero() {
		return nil, newErrKind(ErrInfinity)
	}

	return btcec.PrivKeyFromScalar(&privScalar), nil
}

// serializeSig appends the sighash byte to a signature unless the hash type
// is the implicit default.
func serializeSig(sig *schnorr.Signature,
	hashType txscript.SigHashType) []byte {

	sigBytes := sig.Serialize()
	if hashType != txscript.SigHashDefault {
		sigBytes = append(sigBytes, byte(hashType))
	}

	return sigBytes
}

func signWithAux(privKey *btcec.PrivateKey,
	msgHash []byte) (*schnorr.Signature, error) {

	var aux [32]byte
	if _, err := rand.Read(aux[:]); err != nil {
		return nil, err
	}

	return schnorr.Sign(privKey, msgHash, schnorr.CustomNonce(aux))
}

// SignKeyPath produces a key path signature over msgHash with the internal
// private key tweaked by root. The signature is verified against the output
// key before it is returned.
func SignKeyPath(msgHash, root []byte, internalPriv *btcec.PrivateKey,
	hashType txscript.SigHashType) ([]byte, error) {

	tweakedPriv, err := TweakPrivKey(internalPriv, root)
	if err != nil {
		return nil, err
	}

	sig, err := signWithAux(tweakedPriv, msgHash)
	if err != nil {
		return nil, err
	}

	outputKey, err := ComputeOutputKey(internalPriv.PubKey(), root)
	if err != nil {
		return nil, err
	}
	if !sig.Verify(msgHash, outputKey) {
		return nil, newSignatureError("key path signature does not "+
			"verify against output key %x",
			schnorr.SerializePubKey(outputKey))
	}

	log.Tracef("Signed key path msg %x for output key %x", msgHash,
		schnorr.SerializePubKey(outputKey))

	return serializeSig(sig, hashType), nil
}

// SignScriptPath produces an untweaked signature over msgHash as checked by
// OP_CHECKSIG(VERIFY) inside a leaf script.
func SignScriptPath(msgHash []byte, privKey *btcec.PrivateKey,
	hashType txscript.SigHashType) ([]byte, error) {

	sig, err := signWithAux(privKey, msgHash)
	if err != nil {
		return nil, err
	}
	if !sig.Verify(msgHash, privKey.PubKey()) {
		return nil, newSignatureError("script path signature does "+
			"not verify against key %x",
			schnorr.SerializePubKey(privKey.PubKey()))
	}

	return serializeSig(sig, hashType), nil
}

// ParseSig splits a serialized schnorr signature into the signature and its
// sighash type.
func ParseSig(sigBytes []byte) (*schnorr.Signature, txscript.SigHashType,
	error) {

	hashType := txscript.SigHashDefault
	switch len(sigBytes) {
	case schnorr.SignatureSize:
	case schnorr.SignatureSize + 1:
		hashType = txscript.SigHashType(sigBytes[schnorr.SignatureSize])
		if hashType == txscript.SigHashDefault {
			return nil, 0, newSignatureError("explicit default " +
				"sighash byte")
		}
		sigBytes = sigBytes[:schnorr.SignatureSize]
	default:
		return nil, 0, newSignatureError("invalid signature length %d",
			len(sigBytes))
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return nil, 0, err
	}

	return sig, hashType, nil
}

// VerifyKeyPath checks a key path signature against an output key.
func VerifyKeyPath(sigBytes []byte, msgHash chainhash.Hash,
	outputKey *btcec.PublicKey) error {

	sig, _, err := ParseSig(sigBytes)
	if err != nil {
		return err
	}
	if !sig.Verify(msgHash[:], outputKey) {
		return newSignatureError("invalid signature for key %x",
			schnorr.SerializePubKey(outputKey))
	}

	return nil
}
