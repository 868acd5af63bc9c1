package vm

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/covscript"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/lightninglabs/tapcov/internal/test"
	"github.com/lightninglabs/tapcov/tapscript"
	"github.com/stretchr/testify/require"
)

var (
	testParams = &address.LiquidRegTest

	testAsset = elwire.MustAssetID(
		"d0f6b7a3b8e5e7c7f1d6c1a6b9e9c6d0f1a2b3c4d5e6f708192a3b4c5d6e7f80",
	)
)

const (
	covenantValue = 1000
	offerValue    = 5000
	feeValue      = 400
)

// spendFixture is a transaction spending a taproot output at input 0 and a
// P2WPKH output of a counterparty at input 1.
type spendFixture struct {
	tx       *elwire.MsgTx
	prevOuts []*elwire.TxOut

	output *tapscript.TaprootOutput

	counterpartyKey *btcec.PrivateKey
}

func p2wpkhScript(t *testing.T, key *btcec.PublicKey) []byte {
	pkScript, err := address.WitnessScript(
		0, btcutil.Hash160(key.SerializeCompressed()),
	)
	require.NoError(t, err)
	return pkScript
}

// newSpendFixture builds the unsigned spend of a taproot output committing
// to leafScript, recreating the same output at index 0.
func newSpendFixture(t *testing.T, internalKey *btcec.PublicKey,
	leafScript []byte) *spendFixture {

	out, err := tapscript.Derive(internalKey, leafScript, testParams)
	require.NoError(t, err)

	counterpartyKey := test.RandPrivKey(t)
	counterpartyScript := p2wpkhScript(t, counterpartyKey.PubKey())
	policy := testParams.PolicyAsset

	tx := elwire.NewMsgTx(elwire.TxVersion)
	covenantOutPoint := test.RandOutPoint(t)
	counterpartyOutPoint := test.RandOutPoint(t)
	tx.AddTxIn(elwire.NewTxIn(&covenantOutPoint))
	tx.AddTxIn(elwire.NewTxIn(&counterpartyOutPoint))

	tx.AddTxOut(elwire.NewTxOut(testAsset, covenantValue, out.PkScript))
	tx.AddTxOut(elwire.NewTxOut(
		policy, offerValue-feeValue, counterpartyScript,
	))
	tx.AddTxOut(elwire.NewTxOut(policy, feeValue, nil))

	return &spendFixture{
		tx: tx,
		prevOuts: []*elwire.TxOut{
			elwire.NewTxOut(testAsset, covenantValue, out.PkScript),
			elwire.NewTxOut(policy, offerValue, counterpartyScript),
		},
		output:          out,
		counterpartyKey: counterpartyKey,
	}
}

// signCounterparty adds the P2WPKH witness of input 1.
func (f *spendFixture) signCounterparty(t *testing.T) {
	sigHashes, err := elwire.NewTxSigHashes(f.tx, f.prevOuts)
	require.NoError(t, err)

	pubKey := f.counterpartyKey.PubKey().SerializeCompressed()
	scriptCode, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pubKey)).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	sigHash, err := elwire.CalcWitnessSigHash(
		scriptCode, sigHashes, txscript.SigHashAll, f.tx, 1,
		f.prevOuts[1].Value,
	)
	require.NoError(t, err)

	sig := ecdsa.Sign(f.counterpartyKey, sigHash)
	f.tx.TxIn[1].Witness = wire.TxWitness{
		append(sig.Serialize(), byte(txscript.SigHashAll)), pubKey,
	}
}

// scriptPathWitness sets the script path witness of input 0.
func (f *spendFixture) scriptPathWitness(t *testing.T, args ...[]byte) {
	stack, err := tapscript.ControlStack(
		f.output.InternalKey, f.output.LeafScript,
	)
	require.NoError(t, err)

	witness := make(wire.TxWitness, 0, len(args)+2)
	witness = append(witness, args...)
	witness = append(witness, f.output.LeafScript, stack.ControlBlock)
	f.tx.TxIn[0].Witness = witness
}

func (f *spendFixture) execute(t *testing.T, idx int) error {
	engine, err := New(f.tx, f.prevOuts, idx, testParams.GenesisHash)
	require.NoError(t, err)
	return engine.Execute()
}

func newTestCovenant(t *testing.T, prefix covscript.Script) (
	*covscript.Covenant, *btcec.PrivateKey) {

	internalPriv := test.RandPrivKey(t)
	c, err := covscript.NewCovenant(covscript.CovenantConfig{
		InternalKey: internalPriv.PubKey(),
		OutputIndex: 0,
		Prefix:      prefix,
		Conditions: covscript.DefaultConditions(
			0, testAsset, covenantValue,
		),
	})
	require.NoError(t, err)

	return c, internalPriv
}

// TestCovenantScriptPath executes the recursive covenant and makes sure
// every deviation from the committed outputs is rejected.
func TestCovenantScriptPath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		modify  func(t *testing.T, f *spendFixture)
		errKind *ErrorKind
	}{{
		name:   "valid spend",
		modify: func(*testing.T, *spendFixture) {},
	}, {
		name: "altered value",
		modify: func(_ *testing.T, f *spendFixture) {
			f.tx.TxOut[0].Value = covenantValue - 1
		},
		errKind: kindPtr(ErrEqualVerify),
	}, {
		name: "altered asset",
		modify: func(_ *testing.T, f *spendFixture) {
			f.tx.TxOut[0].Asset = testParams.PolicyAsset
		},
		errKind: kindPtr(ErrEqualVerify),
	}, {
		name: "altered input asset",
		modify: func(_ *testing.T, f *spendFixture) {
			f.prevOuts[0].Asset = testParams.PolicyAsset
		},
		errKind: kindPtr(ErrEqualVerify),
	}, {
		name: "altered output script",
		modify: func(t *testing.T, f *spendFixture) {
			other, err := tapscript.PayToTaprootScript(
				test.RandPubKey(t),
			)
			require.NoError(t, err)
			f.tx.TxOut[0].Script = other
		},
		errKind: kindPtr(ErrTweakVerify),
	}, {
		name: "wrong parity",
		modify: func(_ *testing.T, f *spendFixture) {
			f.tx.TxIn[0].Witness[0][0] ^= 0x01
		},
		errKind: kindPtr(ErrTweakVerify),
	}, {
		name: "covenant output moved",
		modify: func(_ *testing.T, f *spendFixture) {
			f.tx.TxOut[0], f.tx.TxOut[1] = f.tx.TxOut[1],
				f.tx.TxOut[0]
		},

		// A v0 program reports an empty version.
		errKind: kindPtr(ErrVerifyFailed),
	}, {
		name: "tampered control block",
		modify: func(_ *testing.T, f *spendFixture) {
			witness := f.tx.TxIn[0].Witness
			witness[len(witness)-1][1] ^= 0xff
		},
		errKind: kindPtr(ErrInvalidControlBlock),
	}}

	for _, testCase := range testCases {
		testCase := testCase

		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			c, _ := newTestCovenant(t, covscript.Script{})
			f := newSpendFixture(t, c.InternalKey, c.Full.Bytes())
			f.scriptPathWitness(
				t, c.WitnessArgs(f.output.OutputKey)...,
			)

			testCase.modify(t, f)
			f.signCounterparty(t)

			err := f.execute(t, 0)
			if testCase.errKind == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(
					t, err, Error{Kind: *testCase.errKind},
				)
			}

			// The counterparty input signs over the final
			// transaction, so it is valid in every case.
			require.NoError(t, f.execute(t, 1))
		})
	}
}

func kindPtr(k ErrorKind) *ErrorKind {
	return &k
}

// TestCovenantWrongLeaf makes sure a script that is not committed to by the
// output is rejected before it runs.
func TestCovenantWrongLeaf(t *testing.T) {
	t.Parallel()

	c, _ := newTestCovenant(t, covscript.Script{})
	f := newSpendFixture(t, c.InternalKey, c.Full.Bytes())
	f.scriptPathWitness(t, c.WitnessArgs(f.output.OutputKey)...)

	other, err := covscript.NewCovenant(covscript.CovenantConfig{
		InternalKey: c.InternalKey,
		Conditions: covscript.DefaultConditions(
			0, testAsset, covenantValue+1,
		),
	})
	require.NoError(t, err)

	witness := f.tx.TxIn[0].Witness
	witness[len(witness)-2] = other.Full.Bytes()

	require.ErrorIs(
		t, f.execute(t, 0), Error{Kind: ErrInvalidControlBlock},
	)
}

// TestCovenantSignerPrefix spends a covenant that also requires a
// signature.
func TestCovenantSignerPrefix(t *testing.T) {
	t.Parallel()

	signer := test.RandPrivKey(t)
	c, _ := newTestCovenant(t, covscript.SignerCheck(signer.PubKey()))
	f := newSpendFixture(t, c.InternalKey, c.Full.Bytes())

	// An empty signature fails the check.
	f.scriptPathWitness(t, c.WitnessArgs(f.output.OutputKey, nil)...)
	f.signCounterparty(t)
	require.ErrorIs(t, f.execute(t, 0), Error{Kind: ErrVerifyFailed})

	sigHashes, err := elwire.NewTxSigHashes(f.tx, f.prevOuts)
	require.NoError(t, err)
	sigHash, err := elwire.CalcTaprootSigHash(
		sigHashes, txscript.SigHashDefault, f.tx, 0, f.prevOuts,
		testParams.GenesisHash, &elwire.TaprootSigHashOptions{
			LeafHash: f.output.LeafHash,
		},
	)
	require.NoError(t, err)

	sig, err := tapscript.SignScriptPath(
		sigHash, signer, txscript.SigHashDefault,
	)
	require.NoError(t, err)

	f.scriptPathWitness(t, c.WitnessArgs(f.output.OutputKey, sig)...)
	require.NoError(t, f.execute(t, 0))

	// A signature of another key aborts the script.
	otherSig, err := tapscript.SignScriptPath(
		sigHash, test.RandPrivKey(t), txscript.SigHashDefault,
	)
	require.NoError(t, err)
	f.scriptPathWitness(
		t, c.WitnessArgs(f.output.OutputKey, otherSig)...,
	)
	require.ErrorIs(t, f.execute(t, 0), Error{Kind: ErrInvalidSignature})
}

// TestKeyPath spends the covenant output through the key path.
func TestKeyPath(t *testing.T) {
	t.Parallel()

	c, internalPriv := newTestCovenant(t, covscript.Script{})
	f := newSpendFixture(t, c.InternalKey, c.Full.Bytes())

	// Leaving the covenant through the key path may pay anywhere.
	f.tx.TxOut[0].Script = p2wpkhScript(t, internalPriv.PubKey())
	f.signCounterparty(t)

	sigHashes, err := elwire.NewTxSigHashes(f.tx, f.prevOuts)
	require.NoError(t, err)
	sigHash, err := elwire.CalcTaprootSigHash(
		sigHashes, txscript.SigHashDefault, f.tx, 0, f.prevOuts,
		testParams.GenesisHash, nil,
	)
	require.NoError(t, err)

	sig, err := tapscript.SignKeyPath(
		sigHash, f.output.TreeHash[:], internalPriv,
		txscript.SigHashDefault,
	)
	require.NoError(t, err)

	f.tx.TxIn[0].Witness = wire.TxWitness{sig}
	require.NoError(t, f.execute(t, 0))
	require.NoError(
		t, VerifyTx(f.tx, f.prevOuts, testParams.GenesisHash),
	)

	// The signature commits to the chain.
	engine, err := New(f.tx, f.prevOuts, 0, testParams.GenesisHash)
	require.NoError(t, err)
	engine.genesis = address.LiquidTestNet.GenesisHash
	require.ErrorIs(t, engine.Execute(), Error{Kind: ErrInvalidSignature})

	// And to the outputs.
	f.tx.TxOut[2].Value++
	require.ErrorIs(t, f.execute(t, 0), Error{Kind: ErrInvalidSignature})
	require.ErrorIs(t, f.execute(t, 1), Error{Kind: ErrInvalidSignature})
}

// TestUnsupportedOpcode makes sure scripts outside of the covenant
// vocabulary are rejected.
func TestUnsupportedOpcode(t *testing.T) {
	t.Parallel()

	leaf := covscript.MustParseASM("OP_1 OP_1 OP_ADD64").Bytes()
	f := newSpendFixture(t, test.RandPubKey(t), leaf)
	f.scriptPathWitness(t)

	require.ErrorIs(
		t, f.execute(t, 0), Error{Kind: ErrUnsupportedOpcode},
	)
}

// TestIntrospection runs small scripts over the fixture transaction.
func TestIntrospection(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		asm     string
		errKind *ErrorKind
	}{{
		name: "num outputs",
		asm:  "OP_INSPECTNUMOUTPUTS OP_3 OP_EQUAL",
	}, {
		name: "num inputs",
		asm:  "OP_INSPECTNUMINPUTS OP_2 OP_EQUAL",
	}, {
		name: "current index",
		asm:  "OP_PUSHCURRENTINPUTINDEX OP_0 OP_EQUAL",
	}, {
		name: "fee output is not a witness program",
		asm: "OP_2 OP_INSPECTOUTPUTSCRIPTPUBKEY OP_1NEGATE " +
			"OP_EQUALVERIFY OP_0 OP_SHA256 OP_EQUAL",
	}, {
		name: "fee value",
		asm: "OP_2 OP_INSPECTOUTPUTVALUE OP_1 OP_EQUALVERIFY " +
			"9001000000000000 OP_EQUAL",
	}, {
		name: "input value",
		asm: "OP_1 OP_INSPECTINPUTVALUE OP_1 OP_EQUALVERIFY " +
			"8813000000000000 OP_EQUAL",
	}, {
		name: "counterparty witness version",
		asm: "OP_1 OP_INSPECTINPUTSCRIPTPUBKEY OP_0 OP_EQUALVERIFY " +
			"OP_SIZE 14 OP_EQUALVERIFY OP_DROP OP_1",
	}, {
		name:    "output out of range",
		asm:     "OP_3 OP_INSPECTOUTPUTVALUE",
		errKind: kindPtr(ErrIndexOutOfRange),
	}, {
		name:    "stack underflow",
		asm:     "OP_CAT",
		errKind: kindPtr(ErrStackUnderflow),
	}, {
		name:    "unclean stack",
		asm:     "OP_1 OP_1",
		errKind: kindPtr(ErrCleanStack),
	}, {
		name:    "false result",
		asm:     "OP_0",
		errKind: kindPtr(ErrCleanStack),
	}, {
		name:    "return",
		asm:     "OP_RETURN",
		errKind: kindPtr(ErrEarlyReturn),
	}, {
		name: "streaming sha256",
		asm: "aa OP_SHA256INITIALIZE bb OP_SWAP OP_SHA256UPDATE " +
			"cc OP_SWAP OP_SHA256FINALIZE " +
			"fa22dfe1da9013b3c1145040acae9089e0c08bc1c1a0719614f4b73add6f6ef5 " +
			"OP_EQUAL",
	}, {
		name: "streaming sha256 matches single shot",
		asm: "aabb OP_SHA256INITIALIZE cc OP_SWAP OP_SHA256FINALIZE " +
			"aabbcc OP_SHA256 OP_EQUAL",
	}, {
		name:    "finalize without context",
		asm:     "aa bb OP_SHA256FINALIZE",
		errKind: kindPtr(ErrInvalidStackOperation),
	}, {
		name: "cat up to the element limit",
		asm: strings.Repeat("00", 260) + " " +
			strings.Repeat("00", 260) + " OP_CAT OP_SIZE " +
			"0802 OP_EQUALVERIFY OP_DROP OP_1",
	}, {
		name: "cat over the element limit",
		asm: strings.Repeat("00", 300) + " " +
			strings.Repeat("00", 300) + " OP_CAT OP_DROP OP_1",
		errKind: kindPtr(ErrElementTooLarge),
	}, {
		name:    "push over the element limit",
		asm:     strings.Repeat("00", 521) + " OP_DROP OP_1",
		errKind: kindPtr(ErrElementTooLarge),
	}}

	for _, testCase := range testCases {
		testCase := testCase

		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			leaf := covscript.MustParseASM(testCase.asm).Bytes()
			f := newSpendFixture(t, test.RandPubKey(t), leaf)
			f.scriptPathWitness(t)

			err := f.execute(t, 0)
			if testCase.errKind == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, Error{Kind: *testCase.errKind})
		})
	}
}

// TestWitnessElementLimit makes sure witness items larger than the element
// limit are rejected before the leaf runs.
func TestWitnessElementLimit(t *testing.T) {
	t.Parallel()

	leaf := covscript.MustParseASM("OP_DROP OP_1").Bytes()

	f := newSpendFixture(t, test.RandPubKey(t), leaf)
	f.scriptPathWitness(t, make([]byte, txscript.MaxScriptElementSize))
	require.NoError(t, f.execute(t, 0))

	f = newSpendFixture(t, test.RandPubKey(t), leaf)
	f.scriptPathWitness(t, make([]byte, txscript.MaxScriptElementSize+1))
	require.ErrorIs(
		t, f.execute(t, 0), Error{Kind: ErrElementTooLarge},
	)
}

// TestScriptNum checks the script number codec used for indexes.
func TestScriptNum(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		n       int64
		encoded []byte
	}{
		{0, nil},
		{1, []byte{0x01}},
		{-1, []byte{0x81}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x00}},
		{-128, []byte{0x80, 0x80}},
		{255, []byte{0xff, 0x00}},
		{256, []byte{0x00, 0x01}},
		{-256, []byte{0x00, 0x81}},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.encoded, encodeScriptNum(tc.n), tc.n)

		decoded, err := decodeScriptNum(tc.encoded)
		require.NoError(t, err)
		require.Equal(t, tc.n, decoded)
	}

	for _, nonMinimal := range [][]byte{
		{0x00}, {0x80}, {0x01, 0x00}, {0x01, 0x80},
		{0x01, 0x02, 0x03, 0x04, 0x05},
	} {
		_, err := decodeScriptNum(nonMinimal)
		require.ErrorIs(
			t, err, Error{Kind: ErrInvalidStackOperation},
		)
	}
}
