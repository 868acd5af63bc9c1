package covscript

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/lightninglabs/tapcov/internal/test"
	"github.com/lightninglabs/tapcov/tapscript"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testAsset = elwire.MustAssetID(
	"5ac9f65c0efcc4775e0baec4ec03abdde22473cd3cf33c0419ca290e0751b225",
)

// assertCovenantStructure checks the self-referential layout of an assembled
// covenant.
func assertCovenantStructure(t require.TestingT, c *Covenant) {
	bodyBytes := c.Body.Bytes()

	// The tail is the push of B followed by B itself.
	tailTokens := c.Tail.Tokens()
	require.Equal(t, bodyBytes, tailTokens[0].StackValue())

	sizePrefix, err := EncodePushDataPrefix(uint64(len(bodyBytes)))
	require.NoError(t, err)
	expectedTail := append(append(append([]byte{}, sizePrefix...),
		bodyBytes...), bodyBytes...)
	require.Equal(t, expectedTail, c.Tail.Bytes())

	// B starts by pushing its own size prefix.
	bodyTokens := c.Body.Tokens()
	require.Equal(t, sizePrefix, bodyTokens[0].StackValue())
	require.Equal(t, byte(txscript.OP_1), bodyTokens[len(bodyTokens)-1].Op)

	// The head pins the size of the full script and the prefix.
	full := c.Full.Bytes()
	expectedHead := append(compactSize(uint64(len(full))),
		c.Prefix.Bytes()...)
	require.Equal(t, expectedHead, c.Head)
	require.Equal(
		t, append(compactSize(uint64(len(full))), full...),
		c.RebuiltLeaf(),
	)
	require.Equal(t, append(c.Prefix.Bytes(), c.Tail.Bytes()...), full)
}

// TestCovenantStructure assembles the default covenant and checks its
// layout.
func TestCovenantStructure(t *testing.T) {
	t.Parallel()

	internalKey := test.RandPubKey(t)
	c, err := NewCovenant(CovenantConfig{
		InternalKey: internalKey,
		OutputIndex: 0,
		Conditions:  DefaultConditions(0, testAsset, 1000),
	})
	require.NoError(t, err)
	assertCovenantStructure(t, c)
	require.True(t, c.Prefix.IsEmpty())

	// Without a prefix the head is the compact size alone.
	require.Equal(t, compactSize(uint64(c.Full.Len())), c.Head)

	// Every generation pays to the same output.
	out, err := c.Output(&address.LiquidRegTest)
	require.NoError(t, err)

	again, err := NewCovenant(CovenantConfig{
		InternalKey: internalKey,
		OutputIndex: 0,
		Conditions:  DefaultConditions(0, testAsset, 1000),
	})
	require.NoError(t, err)
	outAgain, err := again.Output(&address.LiquidRegTest)
	require.NoError(t, err)
	require.Equal(t, out.Address, outAgain.Address)
	require.Equal(t, out.PkScript, outAgain.PkScript)

	// The control block proves the full script.
	stack, err := c.ControlStack()
	require.NoError(t, err)
	require.NoError(t, tapscript.VerifyScriptPath(
		schnorr.SerializePubKey(out.OutputKey), c.Full.Bytes(),
		stack.ControlBlock,
	))
	require.Equal(t, out.OutputKeyYIsOdd, stack.OutputKeyYIsOdd)

	// The witness arguments start with the parity of the next output.
	args := c.WitnessArgs(out.OutputKey, []byte{0xaa})
	require.Len(t, args, 2)
	require.Equal(t, []byte{tapscript.ParityByte(out.OutputKey)}, args[0])
	require.Equal(t, []byte{0xaa}, args[1])
}

// TestCovenantWithPrefix makes sure a signer prefix ends up in the head.
func TestCovenantWithPrefix(t *testing.T) {
	t.Parallel()

	signer := test.RandPubKey(t)
	c, err := NewCovenant(CovenantConfig{
		InternalKey: test.RandPubKey(t),
		OutputIndex: 1,
		Prefix:      SignerCheck(signer),
		Conditions: []Script{
			AssetConservation(1), ValueConservation(1),
		},
	})
	require.NoError(t, err)
	assertCovenantStructure(t, c)

	prefix := c.Prefix.Bytes()
	require.Len(t, prefix, 34)
	require.True(t, bytes.HasSuffix(c.Head, prefix))
	require.True(t, bytes.HasPrefix(c.Full.Bytes(), prefix))
}

// paddedConditions returns a condition that pushes and drops padding bytes.
func paddedConditions(padding int) []Script {
	return []Script{
		NewBuilder().
			AddData(make([]byte, padding)).
			AddOp(txscript.OP_DROP).
			Script(),
	}
}

// TestCovenantSizes assembles covenants over a range of condition sizes,
// including those where the body size crosses a push-data boundary. Bodies
// that do not fit a stack element are rejected.
func TestCovenantSizes(t *testing.T) {
	t.Parallel()

	internalKey := test.RandPubKey(t)
	rapid.Check(t, func(t *rapid.T) {
		padding := rapid.IntRange(0, 1000).Draw(t, "padding")

		c, err := NewCovenant(CovenantConfig{
			InternalKey: internalKey,
			Conditions:  paddedConditions(padding),
		})
		if err != nil {
			require.ErrorIs(
				t, err, AssemblyError{Kind: ErrElementTooLarge},
			)
			require.Greater(t, padding, 200)
			return
		}

		assertCovenantStructure(t, c)
		require.LessOrEqual(
			t, c.Body.Len(), txscript.MaxScriptElementSize,
		)
	})
}

// TestCovenantElementLimit makes sure the assembled covenants keep every
// stack element within the element size limit.
func TestCovenantElementLimit(t *testing.T) {
	t.Parallel()

	internalKey := test.RandPubKey(t)

	// The default covenant, with and without a signer prefix, leaves
	// plenty of room.
	for _, prefix := range []Script{{}, SignerCheck(test.RandPubKey(t))} {
		c, err := NewCovenant(CovenantConfig{
			InternalKey: internalKey,
			Prefix:      prefix,
			Conditions:  DefaultConditions(0, testAsset, 1000),
		})
		require.NoError(t, err)
		require.Less(t, c.Body.Len(), txscript.MaxScriptElementSize)

		// The full leaf itself is larger than an element, it is only
		// ever hashed in pieces.
		require.Greater(
			t, len(c.RebuiltLeaf()), txscript.MaxScriptElementSize,
		)
	}

	// A body that no longer fits a single push.
	_, err := NewCovenant(CovenantConfig{
		InternalKey: internalKey,
		Conditions:  paddedConditions(400),
	})
	require.ErrorIs(t, err, AssemblyError{Kind: ErrElementTooLarge})

	// A condition push that is too large on its own.
	_, err = NewCovenant(CovenantConfig{
		InternalKey: internalKey,
		Conditions:  paddedConditions(txscript.MaxScriptElementSize + 1),
	})
	require.ErrorIs(t, err, AssemblyError{Kind: ErrElementTooLarge})

	// A prefix so large the start of the leaf hash preimage overflows.
	_, err = NewCovenant(CovenantConfig{
		InternalKey: internalKey,
		Prefix: NewBuilder().
			AddData(make([]byte, 300)).
			AddData(make([]byte, 300)).
			AddOp(txscript.OP_2DROP).
			Script(),
		Conditions: DefaultConditions(0, testAsset, 1000),
	})
	require.ErrorIs(t, err, AssemblyError{Kind: ErrElementTooLarge})
}

// TestCovenantErrors checks the rejected configurations.
func TestCovenantErrors(t *testing.T) {
	t.Parallel()

	_, err := NewCovenant(CovenantConfig{})
	require.ErrorIs(t, err, AssemblyError{Kind: ErrInvalidConfig})

	_, err = FromScripts(test.RandPubKey(t), 0, nil, []byte{0x51})
	require.ErrorIs(t, err, AssemblyError{Kind: ErrInvalidConfig})

	_, err = FromScripts(test.RandPubKey(t), 0, nil, []byte{0x4d, 0x01})
	require.ErrorIs(t, err, AssemblyError{Kind: ErrMalformedPush})
}

// TestDescriptor stores a covenant as a descriptor and rebuilds it.
func TestDescriptor(t *testing.T) {
	t.Parallel()

	c, err := NewCovenant(CovenantConfig{
		InternalKey: test.RandPubKey(t),
		OutputIndex: 2,
		Prefix:      SignerCheck(test.RandPubKey(t)),
		Conditions:  DefaultConditions(2, testAsset, 5000),
	})
	require.NoError(t, err)

	d := NewDescriptor(c, address.LiquidRegTest.Name)
	b, err := d.Bytes()
	require.NoError(t, err)

	decoded, err := DecodeDescriptor(b)
	require.NoError(t, err)
	require.Equal(t, d, decoded)

	rebuilt, err := decoded.Covenant()
	require.NoError(t, err)
	require.True(t, c.Full.Equal(rebuilt.Full))
	require.True(t, c.Body.Equal(rebuilt.Body))
	require.Equal(t, c.Head, rebuilt.Head)
	require.Equal(t, c.OutputIndex, rebuilt.OutputIndex)
	require.Equal(
		t, schnorr.SerializePubKey(c.InternalKey),
		schnorr.SerializePubKey(rebuilt.InternalKey),
	)

	_, err = DecodeDescriptor(b[:len(b)-3])
	require.ErrorIs(t, err, AssemblyError{Kind: ErrMalformedDescriptor})
}

// TestRoles checks the input and output role mappings.
func TestRoles(t *testing.T) {
	t.Parallel()

	inputs := DefaultInputRoles(2)
	require.Equal(t, 3, inputs.NumInputs())
	require.Equal(t, RoleCovenant, inputs.Role(0))
	require.Equal(t, RoleCounterparty, inputs.Role(2))
	require.NoError(t, inputs.Validate(3))
	require.ErrorIs(
		t, inputs.Validate(2), AssemblyError{Kind: ErrInvalidRoles},
	)

	outputs := []*elwire.TxOut{
		elwire.NewTxOut(testAsset, 1000, []byte{0x51, 0x20}),
		elwire.NewTxOut(testAsset, 4600, []byte{0x00, 0x14}),
		elwire.NewTxOut(testAsset, 400, nil),
	}
	roles := DefaultOutputRoles(3)
	require.NoError(t, roles.Validate(outputs))
	require.Equal(t, RoleCovenant, roles.Role(0))
	require.Equal(t, RoleCounterparty, roles.Role(1))
	require.Equal(t, RoleFee, roles.Role(2))
	require.Equal(t, "fee", roles.Role(2).String())

	roles.Payments = []uint32{1}
	require.Equal(t, RolePayment, roles.Role(1))
	require.NoError(t, roles.Validate(outputs))

	// The fee output must be the only one without a script.
	noFee := DefaultOutputRoles(2)
	require.ErrorIs(
		t, noFee.Validate(outputs), AssemblyError{Kind: ErrInvalidRoles},
	)

	roles.Payments = []uint32{2}
	require.ErrorIs(
		t, roles.Validate(outputs), AssemblyError{Kind: ErrInvalidRoles},
	)
}
