package elwire

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// TxVersion is the transaction version used for covenant spends.
	TxVersion = 2

	// MaxTxInSequenceNum is the maximum sequence number of an input.
	MaxTxInSequenceNum uint32 = 0xffffffff

	// explicitPrefix marks an explicit (unblinded) asset, value or nonce.
	explicitPrefix = 0x01

	// nullPrefix marks a missing asset, value or nonce.
	nullPrefix = 0x00

	// Prefixes of blinded values and assets.
	valueCommitmentPrefixEven = 0x08
	valueCommitmentPrefixOdd  = 0x09
	assetCommitmentPrefixEven = 0x0a
	assetCommitmentPrefixOdd  = 0x0b

	// outPointIssuanceFlag and outPointPeginFlag are carried in the high
	// bits of a prevout index.
	outPointIssuanceFlag = uint32(1 << 31)
	outPointPeginFlag    = uint32(1 << 30)
	outPointIndexMask    = uint32(0x3fffffff)

	// witnessFlag is set in the flags byte when witness data follows.
	witnessFlag = 0x01

	// maxWitnessItemSize bounds a single witness element during decoding.
	maxWitnessItemSize = wire.MaxMessagePayload

	// maxTxInOut bounds the number of inputs or outputs we'll decode.
	maxTxInOut = 1 << 16

	// explicitValueSize is the size of a serialized explicit value.
	explicitValueSize = 9

	// explicitAssetSize is the size of a serialized explicit asset.
	explicitAssetSize = 33

	// commitmentSize is the size of a blinded asset or value.
	commitmentSize = 33
)

var (
	// ErrConfidential is returned when an explicit asset or amount is
	// needed from a blinded output.
	ErrConfidential = errors.New("output is confidential")

	// ErrInvalidPrefix is returned when decoding an asset or value with an
	// unknown prefix byte.
	ErrInvalidPrefix = errors.New("invalid commitment prefix")

	// ErrIssuance is returned when decoding an input that carries an asset
	// issuance or a peg-in.
	ErrIssuance = errors.New("issuance and peg-in inputs are not " +
		"supported")
)

// TxIn is an input of an Elements transaction.
type TxIn struct {
	PreviousOutPoint wire.OutPoint
	SignatureScript  []byte
	Sequence         uint32
	Witness          wire.TxWitness
}

// NewTxIn returns a new input spending prevOut with the maximum sequence.
func NewTxIn(prevOut *wire.OutPoint) *TxIn {
	return &TxIn{
		PreviousOutPoint: *prevOut,
		Sequence:         MaxTxInSequenceNum,
	}
}

// TxOut is an output of an Elements transaction. An output with an empty
// script is a fee output.
//
// Blinded outputs are carried opaquely: their commitments and proofs survive
// a decode and encode round trip, but Asset and Value are left unset.
type TxOut struct {
	Asset  AssetID
	Value  uint64
	Nonce  []byte
	Script []byte

	// AssetCommitment is the 33-byte blinded asset, nil if explicit.
	AssetCommitment []byte

	// ValueCommitment is the 33-byte blinded value, nil if explicit.
	ValueCommitment []byte

	// SurjectionProof and RangeProof form the output witness.
	SurjectionProof []byte
	RangeProof      []byte
}

// NewTxOut returns an explicit output paying value units of asset to script.
func NewTxOut(asset AssetID, value uint64, script []byte) *TxOut {
	return &TxOut{
		Asset:  asset,
		Value:  value,
		Script: script,
	}
}

// IsFee returns true if the output is a fee output.
func (t *TxOut) IsFee() bool {
	return len(t.Script) == 0
}

// IsConfidential returns true if the asset or the value of the output is
// blinded.
func (t *TxOut) IsConfidential() bool {
	return len(t.AssetCommitment) != 0 || len(t.ValueCommitment) != 0
}

// hasWitness returns true if the output carries proofs.
func (t *TxOut) hasWitness() bool {
	return len(t.SurjectionProof) != 0 || len(t.RangeProof) != 0
}

// SerializeSize returns the number of bytes the output occupies on the wire.
func (t *TxOut) SerializeSize() int {
	nonceSize := 1
	if len(t.Nonce) != 0 {
		nonceSize = len(t.Nonce)
	}
	valueSize := explicitValueSize
	if len(t.ValueCommitment) != 0 {
		valueSize = commitmentSize
	}

	return explicitAssetSize + valueSize + nonceSize +
		wire.VarIntSerializeSize(uint64(len(t.Script))) + len(t.Script)
}

// writeAssetValue writes the asset and the value of the output, explicit or
// blinded.
func (t *TxOut) writeAssetValue(w io.Writer) error {
	var err error
	if len(t.AssetCommitment) != 0 {
		_, err = w.Write(t.AssetCommitment)
	} else {
		err = writeExplicitAsset(w, t.Asset)
	}
	if err != nil {
		return err
	}

	if len(t.ValueCommitment) != 0 {
		_, err = w.Write(t.ValueCommitment)
		return err
	}
	return writeExplicitValue(w, t.Value)
}

// writeWitness writes the surjection proof and the range proof.
func (t *TxOut) writeWitness(w io.Writer) error {
	if err := wire.WriteVarBytes(w, 0, t.SurjectionProof); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, 0, t.RangeProof)
}

// Serialize writes the output in its consensus form: asset, value, nonce and
// script.
func (t *TxOut) Serialize(w io.Writer) error {
	if err := t.writeAssetValue(w); err != nil {
		return err
	}

	nonce := t.Nonce
	if len(nonce) == 0 {
		nonce = []byte{nullPrefix}
	}
	if _, err := w.Write(nonce); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, t.Script)
}

// MsgTx is an Elements transaction restricted to plain inputs.
type MsgTx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// NewMsgTx returns an empty transaction of the given version.
func NewMsgTx(version int32) *MsgTx {
	return &MsgTx{
		Version: version,
	}
}

// AddTxIn appends an input.
func (msg *MsgTx) AddTxIn(ti *TxIn) {
	msg.TxIn = append(msg.TxIn, ti)
}

// AddTxOut appends an output.
func (msg *MsgTx) AddTxOut(to *TxOut) {
	msg.TxOut = append(msg.TxOut, to)
}

// HasWitness returns true if any input carries a witness or any output
// carries proofs.
func (msg *MsgTx) HasWitness() bool {
	for _, txIn := range msg.TxIn {
		if len(txIn.Witness) != 0 {
			return true
		}
	}
	for _, txOut := range msg.TxOut {
		if txOut.hasWitness() {
			return true
		}
	}

	return false
}

// TxHash returns the transaction id, the double SHA256 of the serialization
// without witness data.
func (msg *MsgTx) TxHash() chainhash.Hash {
	var buf bytes.Buffer
	_ = msg.serialize(&buf, false)
	return chainhash.DoubleHashH(buf.Bytes())
}

// WitnessHash returns the hash of the full serialization.
func (msg *MsgTx) WitnessHash() chainhash.Hash {
	var buf bytes.Buffer
	_ = msg.serialize(&buf, true)
	return chainhash.DoubleHashH(buf.Bytes())
}

// Serialize writes the transaction including witness data, if any.
func (msg *MsgTx) Serialize(w io.Writer) error {
	return msg.serialize(w, true)
}

// SerializeNoWitness writes the transaction without witness data.
func (msg *MsgTx) SerializeNoWitness(w io.Writer) error {
	return msg.serialize(w, false)
}

// Bytes returns the full serialization of the transaction.
func (msg *MsgTx) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := msg.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hex returns the hex encoded full serialization of the transaction.
func (msg *MsgTx) Hex() (string, error) {
	b, err := msg.Bytes()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Copy returns a deep copy of the transaction.
func (msg *MsgTx) Copy() *MsgTx {
	newTx := &MsgTx{
		Version:  msg.Version,
		TxIn:     make([]*TxIn, 0, len(msg.TxIn)),
		TxOut:    make([]*TxOut, 0, len(msg.TxOut)),
		LockTime: msg.LockTime,
	}

	for _, oldIn := range msg.TxIn {
		newIn := &TxIn{
			PreviousOutPoint: oldIn.PreviousOutPoint,
			SignatureScript:  cloneBytes(oldIn.SignatureScript),
			Sequence:         oldIn.Sequence,
		}
		if len(oldIn.Witness) != 0 {
			newIn.Witness = make(wire.TxWitness, len(oldIn.Witness))
			for i, item := range oldIn.Witness {
				newIn.Witness[i] = cloneBytes(item)
			}
		}
		newTx.TxIn = append(newTx.TxIn, newIn)
	}

	for _, oldOut := range msg.TxOut {
		newTx.TxOut = append(newTx.TxOut, &TxOut{
			Asset:           oldOut.Asset,
			Value:           oldOut.Value,
			Nonce:           cloneBytes(oldOut.Nonce),
			Script:          cloneBytes(oldOut.Script),
			AssetCommitment: cloneBytes(oldOut.AssetCommitment),
			ValueCommitment: cloneBytes(oldOut.ValueCommitment),
			SurjectionProof: cloneBytes(oldOut.SurjectionProof),
			RangeProof:      cloneBytes(oldOut.RangeProof),
		})
	}

	return newTx
}

func (msg *MsgTx) serialize(w io.Writer, withWitness bool) error {
	var scratch [4]byte

	binary.LittleEndian.PutUint32(scratch[:], uint32(msg.Version))
	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}

	// Unlike Bitcoin, the flags byte is always present. It is zero for
	// the txid serialization.
	var flags byte
	if withWitness && msg.HasWitness() {
		flags = witnessFlag
	}
	if _, err := w.Write([]byte{flags}); err != nil {
		return err
	}

	err := wire.WriteVarInt(w, 0, uint64(len(msg.TxIn)))
	if err != nil {
		return err
	}
	for _, ti := range msg.TxIn {
		if err := writeTxIn(w, ti); err != nil {
			return err
		}
	}

	err = wire.WriteVarInt(w, 0, uint64(len(msg.TxOut)))
	if err != nil {
		return err
	}
	for _, to := range msg.TxOut {
		if err := to.Serialize(w); err != nil {
			return err
		}
	}

	binary.LittleEndian.PutUint32(scratch[:], msg.LockTime)
	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}

	if flags&witnessFlag == 0 {
		return nil
	}

	// Input witnesses: issuance amount range proof, inflation keys range
	// proof, script witness and peg-in witness.
	for _, ti := range msg.TxIn {
		if err := wire.WriteVarBytes(w, 0, nil); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, 0, nil); err != nil {
			return err
		}
		if err := writeWitness(w, ti.Witness); err != nil {
			return err
		}
		if err := wire.WriteVarInt(w, 0, 0); err != nil {
			return err
		}
	}

	// Output witnesses: surjection proof and range proof, both empty for
	// explicit outputs.
	for _, to := range msg.TxOut {
		if err := to.writeWitness(w); err != nil {
			return err
		}
	}

	return nil
}

// Deserialize decodes a transaction from r.
func (msg *MsgTx) Deserialize(r io.Reader) error {
	var scratch [4]byte

	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return err
	}
	msg.Version = int32(binary.LittleEndian.Uint32(scratch[:]))

	var flags [1]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return err
	}

	numIn, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if numIn > maxTxInOut {
		return fmt.Errorf("too many inputs: %d", numIn)
	}
	msg.TxIn = make([]*TxIn, numIn)
	for i := range msg.TxIn {
		ti, err := readTxIn(r)
		if err != nil {
			return fmt.Errorf("unable to read input %d: %w", i, err)
		}
		msg.TxIn[i] = ti
	}

	numOut, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if numOut > maxTxInOut {
		return fmt.Errorf("too many outputs: %d", numOut)
	}
	msg.TxOut = make([]*TxOut, numOut)
	for i := range msg.TxOut {
		to, err := readTxOut(r)
		if err != nil {
			return fmt.Errorf("unable to read output %d: %w", i,
				err)
		}
		msg.TxOut[i] = to
	}

	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return err
	}
	msg.LockTime = binary.LittleEndian.Uint32(scratch[:])

	if flags[0]&witnessFlag == 0 {
		return nil
	}

	for i, ti := range msg.TxIn {
		for _, field := range []string{"issuance amount rangeproof",
			"inflation keys rangeproof"} {

			proof, err := wire.ReadVarBytes(
				r, 0, maxWitnessItemSize, field,
			)
			if err != nil {
				return err
			}
			if len(proof) != 0 {
				return fmt.Errorf("input %d: %w", i, ErrIssuance)
			}
		}

		ti.Witness, err = readWitness(r)
		if err != nil {
			return fmt.Errorf("input %d witness: %w", i, err)
		}

		pegin, err := readWitness(r)
		if err != nil {
			return fmt.Errorf("input %d pegin witness: %w", i, err)
		}
		if len(pegin) != 0 {
			return fmt.Errorf("input %d: %w", i, ErrIssuance)
		}
	}

	for i, to := range msg.TxOut {
		to.SurjectionProof, err = readProof(r, "surjection proof")
		if err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
		to.RangeProof, err = readProof(r, "range proof")
		if err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}

	return nil
}

// NewTxFromBytes decodes a serialized transaction.
func NewTxFromBytes(b []byte) (*MsgTx, error) {
	var tx MsgTx
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &tx, nil
}

// NewTxFromHex decodes a hex encoded transaction.
func NewTxFromHex(s string) (*MsgTx, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return NewTxFromBytes(b)
}

func writeOutPoint(w io.Writer, op *wire.OutPoint) error {
	if _, err := w.Write(op.Hash[:]); err != nil {
		return err
	}

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], op.Index)
	_, err := w.Write(scratch[:])
	return err
}

func writeTxIn(w io.Writer, ti *TxIn) error {
	if err := writeOutPoint(w, &ti.PreviousOutPoint); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, ti.SignatureScript); err != nil {
		return err
	}

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], ti.Sequence)
	_, err := w.Write(scratch[:])
	return err
}

func readTxIn(r io.Reader) (*TxIn, error) {
	var (
		ti      TxIn
		scratch [4]byte
	)

	if _, err := io.ReadFull(r, ti.PreviousOutPoint.Hash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return nil, err
	}
	index := binary.LittleEndian.Uint32(scratch[:])
	if index != wire.MaxPrevOutIndex {
		if index&(outPointIssuanceFlag|outPointPeginFlag) != 0 {
			return nil, ErrIssuance
		}
		index &= outPointIndexMask
	}
	ti.PreviousOutPoint.Index = index

	sigScript, err := wire.ReadVarBytes(
		r, 0, maxWitnessItemSize, "signature script",
	)
	if err != nil {
		return nil, err
	}
	ti.SignatureScript = sigScript

	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return nil, err
	}
	ti.Sequence = binary.LittleEndian.Uint32(scratch[:])

	return &ti, nil
}

// readProof reads one element of an output witness. Empty proofs decode as
// nil.
func readProof(r io.Reader, field string) ([]byte, error) {
	proof, err := wire.ReadVarBytes(r, 0, maxWitnessItemSize, field)
	if err != nil || len(proof) == 0 {
		return nil, err
	}
	return proof, nil
}

// readCommitment reads the remaining 32 bytes of a blinded asset or value
// whose prefix was already read.
func readCommitment(r io.Reader, prefix byte) ([]byte, error) {
	commitment := make([]byte, commitmentSize)
	commitment[0] = prefix
	if _, err := io.ReadFull(r, commitment[1:]); err != nil {
		return nil, err
	}
	return commitment, nil
}

func readTxOut(r io.Reader) (*TxOut, error) {
	var (
		to     TxOut
		prefix [1]byte
		err    error
	)

	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	switch prefix[0] {
	case explicitPrefix:
		if _, err := io.ReadFull(r, to.Asset[:]); err != nil {
			return nil, err
		}

	case assetCommitmentPrefixEven, assetCommitmentPrefixOdd:
		to.AssetCommitment, err = readCommitment(r, prefix[0])
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("asset prefix %x: %w", prefix[0],
			ErrInvalidPrefix)
	}

	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	switch prefix[0] {
	case explicitPrefix:
		var value [8]byte
		if _, err := io.ReadFull(r, value[:]); err != nil {
			return nil, err
		}
		to.Value = binary.BigEndian.Uint64(value[:])

	case valueCommitmentPrefixEven, valueCommitmentPrefixOdd:
		to.ValueCommitment, err = readCommitment(r, prefix[0])
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("value prefix %x: %w", prefix[0],
			ErrInvalidPrefix)
	}

	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	if prefix[0] != nullPrefix {
		nonce := make([]byte, 33)
		nonce[0] = prefix[0]
		if _, err := io.ReadFull(r, nonce[1:]); err != nil {
			return nil, err
		}
		to.Nonce = nonce
	}

	script, err := wire.ReadVarBytes(
		r, 0, maxWitnessItemSize, "script pubkey",
	)
	if err != nil {
		return nil, err
	}
	to.Script = script

	return &to, nil
}

func writeWitness(w io.Writer, witness wire.TxWitness) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(witness))); err != nil {
		return err
	}
	for _, item := range witness {
		if err := wire.WriteVarBytes(w, 0, item); err != nil {
			return err
		}
	}
	return nil
}

func readWitness(r io.Reader) (wire.TxWitness, error) {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > maxTxInOut {
		return nil, fmt.Errorf("too many witness items: %d", count)
	}
	if count == 0 {
		return nil, nil
	}

	witness := make(wire.TxWitness, count)
	for i := range witness {
		witness[i], err = wire.ReadVarBytes(
			r, 0, maxWitnessItemSize, "witness item",
		)
		if err != nil {
			return nil, err
		}
	}

	return witness, nil
}

// ParseWitness decodes a witness stack serialized as a var-int count followed
// by var-bytes items, as stored in a finalized PSBT input.
func ParseWitness(b []byte) (wire.TxWitness, error) {
	return readWitness(bytes.NewReader(b))
}

// SerializeWitness encodes a witness stack as a var-int count followed by
// var-bytes items.
func SerializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeWitness(&buf, witness); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeExplicitAsset(w io.Writer, asset AssetID) error {
	var b [explicitAssetSize]byte
	b[0] = explicitPrefix
	copy(b[1:], asset[:])
	_, err := w.Write(b[:])
	return err
}

func writeExplicitValue(w io.Writer, value uint64) error {
	_, err := w.Write(ExplicitValue(value))
	return err
}

// ExplicitValue returns the consensus serialization of an explicit amount:
// the explicit prefix followed by the 8-byte big-endian value.
func ExplicitValue(value uint64) []byte {
	var b [explicitValueSize]byte
	b[0] = explicitPrefix
	binary.BigEndian.PutUint64(b[1:], value)
	return b[:]
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// String returns a short description of the output for logging.
func (t *TxOut) String() string {
	if t.IsConfidential() {
		return fmt.Sprintf("TxOut(confidential, script=%s)",
			hexBytes(t.Script))
	}
	return fmt.Sprintf("TxOut(asset=%v, value=%d, script=%s)", t.Asset,
		t.Value, hexBytes(t.Script))
}
