package ledger

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/lightninglabs/tapcov/internal/test"
	"github.com/stretchr/testify/require"
)

var testParams = &address.LiquidRegTest

// keyAddress returns the P2WPKH address and script of key.
func keyAddress(t *testing.T, key *btcec.PrivateKey) (string, []byte) {
	pkScript, err := address.WitnessScript(
		0, btcutil.Hash160(key.PubKey().SerializeCompressed()),
	)
	require.NoError(t, err)

	addr, err := address.FromOutputScript(pkScript, testParams)
	require.NoError(t, err)

	return addr, pkScript
}

// signP2WPKH adds the witness of input idx spending a P2WPKH output of key.
func signP2WPKH(t *testing.T, tx *elwire.MsgTx, prevOuts []*elwire.TxOut,
	idx int, key *btcec.PrivateKey) {

	sigHashes, err := elwire.NewTxSigHashes(tx, prevOuts)
	require.NoError(t, err)

	pubKey := key.PubKey().SerializeCompressed()
	scriptCode, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pubKey)).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	sigHash, err := elwire.CalcWitnessSigHash(
		scriptCode, sigHashes, txscript.SigHashAll, tx, idx,
		prevOuts[idx].Value,
	)
	require.NoError(t, err)

	sig := ecdsa.Sign(key, sigHash)
	tx.TxIn[idx].Witness = wire.TxWitness{
		append(sig.Serialize(), byte(txscript.SigHashAll)), pubKey,
	}
}

func rawBytes(t *testing.T, tx *elwire.MsgTx) []byte {
	b, err := tx.Bytes()
	require.NoError(t, err)
	return b
}

// TestMockIssueAndSend checks the wallet side of the mock ledger.
func TestMockIssueAndSend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMockClient(testParams)

	issuance, err := m.IssueAsset(ctx, 1000, 0)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(1000), m.Balance(issuance.Asset))

	key := test.RandPrivKey(t)
	addr, pkScript := keyAddress(t, key)

	txid, err := m.SendToAddress(ctx, addr, 600, issuance.Asset)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(400), m.Balance(issuance.Asset))

	_, err = m.SendToAddress(ctx, addr, 401, issuance.Asset)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	rawTx, err := m.GetRawTransaction(ctx, *txid)
	require.NoError(t, err)
	require.Equal(t, txid.String(), rawTx.TxID)
	require.Zero(t, rawTx.Confirmations)
	require.Len(t, rawTx.Vout, 2)

	payment := rawTx.Vout[0]
	require.Equal(t, issuance.Asset.String(), payment.Asset)
	require.Equal(t, addr, payment.ScriptPubKey.Address)
	require.Equal(t, "witness_v0_keyhash", payment.ScriptPubKey.Type)
	require.NotEmpty(t, payment.ScriptPubKey.Asm)
	require.False(t, payment.IsFee())

	amt, err := payment.Amount()
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(600), amt)

	script, err := payment.ScriptPubKey.Script()
	require.NoError(t, err)
	require.Equal(t, pkScript, script)

	require.True(t, rawTx.Vout[1].IsFee())

	msgTx, err := rawTx.MsgTx()
	require.NoError(t, err)
	require.Equal(t, *txid, msgTx.TxHash())

	blocks, err := m.GenerateToAddress(ctx, 10, addr)
	require.NoError(t, err)
	require.Len(t, blocks, 10)

	rawTx, err = m.GetRawTransaction(ctx, *txid)
	require.NoError(t, err)
	require.EqualValues(t, 10, rawTx.Confirmations)
	require.Equal(t, blocks[0].String(), rawTx.BlockHash)

	_, err = m.GetRawTransaction(ctx, test.RandHash())
	require.ErrorIs(t, err, ErrTxNotFound)
}

// TestMockSendRawTransaction checks that the mock ledger only accepts
// transactions that spend known outputs, balance every asset and carry
// valid witnesses.
func TestMockSendRawTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMockClient(testParams)
	policy := testParams.PolicyAsset

	key := test.RandPrivKey(t)
	addr, pkScript := keyAddress(t, key)

	fundingID, err := m.SendToAddress(ctx, addr, 5000, policy)
	require.NoError(t, err)

	fundingOut := wire.OutPoint{Hash: *fundingID, Index: 0}
	prevOut, ok := m.UTXO(fundingOut)
	require.True(t, ok)
	prevOuts := []*elwire.TxOut{prevOut}

	newSpend := func(change uint64) *elwire.MsgTx {
		tx := elwire.NewMsgTx(elwire.TxVersion)
		tx.AddTxIn(elwire.NewTxIn(&fundingOut))
		tx.AddTxOut(elwire.NewTxOut(policy, change, pkScript))
		tx.AddTxOut(elwire.NewTxOut(policy, 5000-4600, nil))
		return tx
	}

	// Creating value is rejected.
	tx := newSpend(4700)
	signP2WPKH(t, tx, prevOuts, 0, key)
	_, err = m.SendRawTransaction(ctx, rawBytes(t, tx))
	require.ErrorIs(t, err, ErrTxRejected)
	require.ErrorContains(t, err, "in-ne-out")

	// So is a signature of another key.
	tx = newSpend(4600)
	signP2WPKH(t, tx, prevOuts, 0, test.RandPrivKey(t))
	_, err = m.SendRawTransaction(ctx, rawBytes(t, tx))
	require.ErrorIs(t, err, ErrTxRejected)

	// A missing fee output is rejected as well.
	noFee := elwire.NewMsgTx(elwire.TxVersion)
	noFee.AddTxIn(elwire.NewTxIn(&fundingOut))
	noFee.AddTxOut(elwire.NewTxOut(policy, 5000, pkScript))
	signP2WPKH(t, noFee, prevOuts, 0, key)
	_, err = m.SendRawTransaction(ctx, rawBytes(t, noFee))
	require.ErrorIs(t, err, ErrTxRejected)

	tx = newSpend(4600)
	signP2WPKH(t, tx, prevOuts, 0, key)
	txid, err := m.SendRawTransaction(ctx, rawBytes(t, tx))
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), *txid)

	_, ok = m.UTXO(fundingOut)
	require.False(t, ok)
	_, ok = m.UTXO(wire.OutPoint{Hash: *txid, Index: 0})
	require.True(t, ok)

	// The funding output is gone now.
	tx = newSpend(4599)
	signP2WPKH(t, tx, prevOuts, 0, key)
	_, err = m.SendRawTransaction(ctx, rawBytes(t, tx))
	require.ErrorIs(t, err, ErrTxRejected)
	require.ErrorContains(t, err, "missingorspent")

	_, err = m.SendRawTransaction(ctx, []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrTxRejected)
}

// TestMockBlindedChange checks that a wallet blinding its change produces
// transactions that still decode, with the change reported by commitment.
func TestMockBlindedChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMockClient(testParams, WithBlindedChange())

	key := test.RandPrivKey(t)
	addr, _ := keyAddress(t, key)

	txid, err := m.SendToAddress(ctx, addr, 600, testParams.PolicyAsset)
	require.NoError(t, err)

	rawTx, err := m.GetRawTransaction(ctx, *txid)
	require.NoError(t, err)
	require.Len(t, rawTx.Vout, 3)

	require.False(t, rawTx.Vout[0].IsConfidential())
	require.Equal(t, addr, rawTx.Vout[0].ScriptPubKey.Address)

	change := rawTx.Vout[1]
	require.True(t, change.IsConfidential())
	require.Empty(t, change.Asset)
	require.Len(t, change.AssetCommitment, 66)
	_, err = change.AssetID()
	require.Error(t, err)

	require.True(t, rawTx.Vout[2].IsFee())

	msgTx, err := rawTx.MsgTx()
	require.NoError(t, err)
	require.Equal(t, *txid, msgTx.TxHash())
	require.True(t, msgTx.TxOut[1].IsConfidential())
	require.NotEmpty(t, msgTx.TxOut[1].RangeProof)

	// The mock cannot unblind, so spending the change is rejected.
	changeOut := wire.OutPoint{Hash: *txid, Index: 1}
	_, ok := m.UTXO(changeOut)
	require.True(t, ok)

	tx := elwire.NewMsgTx(elwire.TxVersion)
	tx.AddTxIn(elwire.NewTxIn(&changeOut))
	tx.AddTxOut(elwire.NewTxOut(testParams.PolicyAsset, 100, nil))
	_, err = m.SendRawTransaction(ctx, rawBytes(t, tx))
	require.ErrorIs(t, err, ErrTxRejected)
}
