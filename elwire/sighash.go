package elwire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// TagTapSighash is the tag of the taproot signature hash on an
	// Elements ledger.
	TagTapSighash = []byte("TapSighash/elements")
)

const (
	// sigHashMask selects the output bits of a sighash type.
	sigHashMask = 0x1f

	// leafKeyVersion is the key version committed to by tapscript
	// signatures.
	leafKeyVersion = 0x00

	// noCodeSeparator is the code separator position when none was
	// executed.
	noCodeSeparator = 0xffffffff
)

// TxSigHashes holds the intermediate hashes shared by all inputs of a
// transaction, for both the segwit v0 and the taproot signature algorithms.
type TxSigHashes struct {
	HashPrevOutsV0 chainhash.Hash
	HashSequenceV0 chainhash.Hash
	HashIssuanceV0 chainhash.Hash
	HashOutputsV0  chainhash.Hash

	HashOutPointFlagsV1   chainhash.Hash
	HashPrevOutsV1        chainhash.Hash
	HashSpentAmountsV1    chainhash.Hash
	HashSpentScriptsV1    chainhash.Hash
	HashSequenceV1        chainhash.Hash
	HashIssuancesV1       chainhash.Hash
	HashIssuanceProofsV1  chainhash.Hash
	HashOutputsV1         chainhash.Hash
	HashOutputWitnessesV1 chainhash.Hash
}

// NewTxSigHashes computes the shared sighash midstate of tx. prevOuts must
// hold the output spent by each input, in input order.
func NewTxSigHashes(tx *MsgTx, prevOuts []*TxOut) (*TxSigHashes, error) {
	if len(prevOuts) != len(tx.TxIn) {
		return nil, fmt.Errorf("have %d prevouts for %d inputs",
			len(prevOuts), len(tx.TxIn))
	}

	var (
		prevOutsBuf, seqBuf, issuanceBuf      bytes.Buffer
		flagsBuf, amountsBuf, scriptsBuf      bytes.Buffer
		issuanceProofsBuf, outputWitnessesBuf bytes.Buffer
		outputsBuf                            bytes.Buffer
		scratch                               [4]byte
	)
	for i, txIn := range tx.TxIn {
		if prevOuts[i] == nil {
			return nil, fmt.Errorf("missing prevout for input %d",
				i)
		}

		_ = writeOutPoint(&prevOutsBuf, &txIn.PreviousOutPoint)

		binary.LittleEndian.PutUint32(scratch[:], txIn.Sequence)
		seqBuf.Write(scratch[:])

		// Issuances are never set, so every input contributes a
		// single null byte and no outpoint flags.
		issuanceBuf.WriteByte(nullPrefix)
		flagsBuf.WriteByte(0)
		issuanceProofsBuf.Write([]byte{0x00, 0x00})

		_ = prevOuts[i].writeAssetValue(&amountsBuf)
		_ = wire.WriteVarBytes(&scriptsBuf, 0, prevOuts[i].Script)
	}
	for _, txOut := range tx.TxOut {
		if err := txOut.Serialize(&outputsBuf); err != nil {
			return nil, err
		}
		if err := txOut.writeWitness(&outputWitnessesBuf); err != nil {
			return nil, err
		}
	}

	return &TxSigHashes{
		HashPrevOutsV0: chainhash.DoubleHashH(prevOutsBuf.Bytes()),
		HashSequenceV0: chainhash.DoubleHashH(seqBuf.Bytes()),
		HashIssuanceV0: chainhash.DoubleHashH(issuanceBuf.Bytes()),
		HashOutputsV0:  chainhash.DoubleHashH(outputsBuf.Bytes()),

		HashOutPointFlagsV1:   chainhash.HashH(flagsBuf.Bytes()),
		HashPrevOutsV1:        chainhash.HashH(prevOutsBuf.Bytes()),
		HashSpentAmountsV1:    chainhash.HashH(amountsBuf.Bytes()),
		HashSpentScriptsV1:    chainhash.HashH(scriptsBuf.Bytes()),
		HashSequenceV1:        chainhash.HashH(seqBuf.Bytes()),
		HashIssuancesV1:       chainhash.HashH(issuanceBuf.Bytes()),
		HashIssuanceProofsV1:  chainhash.HashH(issuanceProofsBuf.Bytes()),
		HashOutputsV1:         chainhash.HashH(outputsBuf.Bytes()),
		HashOutputWitnessesV1: chainhash.HashH(outputWitnessesBuf.Bytes()),
	}, nil
}

// CalcWitnessSigHash computes the segwit v0 signature hash of input idx,
// which spends an explicit output worth value. The script code is the
// P2PKH form of the key hash for P2WPKH inputs. Unlike the taproot hash it
// does not commit to the chain's genesis block.
func CalcWitnessSigHash(scriptCode []byte, sigHashes *TxSigHashes,
	hashType txscript.SigHashType, tx *MsgTx, idx int,
	value uint64) ([]byte, error) {

	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range [0, %d)",
			idx, len(tx.TxIn))
	}

	var (
		w        bytes.Buffer
		zeroHash chainhash.Hash
		scratch  [4]byte
	)

	anyoneCanPay := hashType&txscript.SigHashAnyOneCanPay != 0
	outputType := hashType & sigHashMask

	binary.LittleEndian.PutUint32(scratch[:], uint32(tx.Version))
	w.Write(scratch[:])

	if anyoneCanPay {
		w.Write(zeroHash[:])
	} else {
		w.Write(sigHashes.HashPrevOutsV0[:])
	}

	if anyoneCanPay || outputType == txscript.SigHashSingle ||
		outputType == txscript.SigHashNone {

		w.Write(zeroHash[:])
	} else {
		w.Write(sigHashes.HashSequenceV0[:])
	}

	if anyoneCanPay {
		w.Write(zeroHash[:])
	} else {
		w.Write(sigHashes.HashIssuanceV0[:])
	}

	txIn := tx.TxIn[idx]
	_ = writeOutPoint(&w, &txIn.PreviousOutPoint)
	_ = wire.WriteVarBytes(&w, 0, scriptCode)
	_ = writeExplicitValue(&w, value)

	binary.LittleEndian.PutUint32(scratch[:], txIn.Sequence)
	w.Write(scratch[:])

	switch {
	case outputType != txscript.SigHashSingle &&
		outputType != txscript.SigHashNone:

		w.Write(sigHashes.HashOutputsV0[:])

	case outputType == txscript.SigHashSingle && idx < len(tx.TxOut):
		var b bytes.Buffer
		if err := tx.TxOut[idx].Serialize(&b); err != nil {
			return nil, err
		}
		h := chainhash.DoubleHashH(b.Bytes())
		w.Write(h[:])

	default:
		w.Write(zeroHash[:])
	}

	binary.LittleEndian.PutUint32(scratch[:], tx.LockTime)
	w.Write(scratch[:])

	binary.LittleEndian.PutUint32(scratch[:], uint32(hashType))
	w.Write(scratch[:])

	return chainhash.DoubleHashB(w.Bytes()), nil
}

// TaprootSigHashOptions carries the script path specific fields of the
// taproot signature hash. A nil value signals a key path spend.
type TaprootSigHashOptions struct {
	// LeafHash is the tapleaf hash of the executed script.
	LeafHash chainhash.Hash
}

func isValidTaprootSigHash(hashType txscript.SigHashType) bool {
	switch hashType {
	case txscript.SigHashDefault, txscript.SigHashAll,
		txscript.SigHashNone, txscript.SigHashSingle,
		0x81, 0x82, 0x83:

		return true
	default:
		return false
	}
}

// CalcTaprootSigHash computes the taproot signature hash of input idx. The
// hash commits to the genesis block of the chain twice in place of the epoch
// byte. When opts is non-nil, the tapscript extension for the given leaf is
// included.
func CalcTaprootSigHash(sigHashes *TxSigHashes, hashType txscript.SigHashType,
	tx *MsgTx, idx int, prevOuts []*TxOut, genesis chainhash.Hash,
	opts *TaprootSigHashOptions) ([]byte, error) {

	if !isValidTaprootSigHash(hashType) {
		return nil, fmt.Errorf("invalid taproot sighash type: %v",
			hashType)
	}
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range [0, %d)",
			idx, len(tx.TxIn))
	}
	if len(prevOuts) != len(tx.TxIn) {
		return nil, fmt.Errorf("have %d prevouts for %d inputs",
			len(prevOuts), len(tx.TxIn))
	}

	outputType := txscript.SigHashAll
	if hashType != txscript.SigHashDefault {
		outputType = hashType & sigHashMask
	}
	anyoneCanPay := hashType&txscript.SigHashAnyOneCanPay != 0

	var (
		w       bytes.Buffer
		scratch [4]byte
	)

	w.Write(genesis[:])
	w.Write(genesis[:])
	w.WriteByte(byte(hashType))

	binary.LittleEndian.PutUint32(scratch[:], uint32(tx.Version))
	w.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:], tx.LockTime)
	w.Write(scratch[:])

	if !anyoneCanPay {
		w.Write(sigHashes.HashOutPointFlagsV1[:])
		w.Write(sigHashes.HashPrevOutsV1[:])
		w.Write(sigHashes.HashSpentAmountsV1[:])
		w.Write(sigHashes.HashSpentScriptsV1[:])
		w.Write(sigHashes.HashSequenceV1[:])
		w.Write(sigHashes.HashIssuancesV1[:])
		w.Write(sigHashes.HashIssuanceProofsV1[:])
	}
	if outputType == txscript.SigHashAll {
		w.Write(sigHashes.HashOutputsV1[:])
		w.Write(sigHashes.HashOutputWitnessesV1[:])
	}

	// The annex is never present.
	var spendType byte
	if opts != nil {
		spendType = 1 << 1
	}
	w.WriteByte(spendType)

	if anyoneCanPay {
		txIn := tx.TxIn[idx]
		w.WriteByte(0)
		_ = writeOutPoint(&w, &txIn.PreviousOutPoint)
		_ = prevOuts[idx].writeAssetValue(&w)
		_ = wire.WriteVarBytes(&w, 0, prevOuts[idx].Script)
		binary.LittleEndian.PutUint32(scratch[:], txIn.Sequence)
		w.Write(scratch[:])
		w.WriteByte(nullPrefix)
	} else {
		binary.LittleEndian.PutUint32(scratch[:], uint32(idx))
		w.Write(scratch[:])
	}

	if outputType == txscript.SigHashSingle {
		if idx >= len(tx.TxOut) {
			return nil, fmt.Errorf("no output for SIGHASH_SINGLE "+
				"input %d", idx)
		}

		var b bytes.Buffer
		if err := tx.TxOut[idx].Serialize(&b); err != nil {
			return nil, err
		}
		h := chainhash.HashH(b.Bytes())
		w.Write(h[:])

		var wb bytes.Buffer
		if err := tx.TxOut[idx].writeWitness(&wb); err != nil {
			return nil, err
		}
		witnessHash := chainhash.HashH(wb.Bytes())
		w.Write(witnessHash[:])
	}

	if opts != nil {
		w.Write(opts.LeafHash[:])
		w.WriteByte(leafKeyVersion)
		binary.LittleEndian.PutUint32(scratch[:], noCodeSeparator)
		w.Write(scratch[:])
	}

	sigHash := chainhash.TaggedHash(TagTapSighash, w.Bytes())
	return sigHash[:], nil
}
