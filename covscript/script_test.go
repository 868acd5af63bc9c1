package covscript

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestPushMinimal checks the minimal push rules.
func TestPushMinimal(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		data []byte
		hex  string
	}{
		{name: "empty", data: nil, hex: "00"},
		{name: "zero byte", data: []byte{0x00}, hex: "0100"},
		{name: "small int", data: []byte{0x05}, hex: "55"},
		{name: "sixteen", data: []byte{0x10}, hex: "60"},
		{name: "seventeen", data: []byte{0x11}, hex: "0111"},
		{name: "negate", data: []byte{0x81}, hex: "4f"},
		{name: "two bytes", data: []byte{0x4c, 0x4e}, hex: "024c4e"},
		{
			name: "pushdata1",
			data: bytes.Repeat([]byte{0xaa}, 76),
			hex:  "4c4c" + hex.EncodeToString(bytes.Repeat([]byte{0xaa}, 76)),
		},
	}
	for _, tc := range testCases {
		tok := Push(tc.data)
		require.Equal(t, tc.hex, hex.EncodeToString(tok.Bytes()), tc.name)
		require.True(t, tok.IsPush(), tc.name)

		// Every push leaves the original bytes on the stack.
		expected := tc.data
		if expected == nil {
			expected = []byte{}
		}
		require.Equal(t, expected, tok.StackValue(), tc.name)
	}
}

// TestInt checks script number pushes.
func TestInt(t *testing.T) {
	t.Parallel()

	require.Equal(t, Op(txscript.OP_0), Int(0))
	require.Equal(t, Op(txscript.OP_1), Int(1))
	require.Equal(t, Op(txscript.OP_16), Int(16))
	require.Equal(t, Op(txscript.OP_1NEGATE), Int(-1))
	require.Equal(t, []byte{0x01, 0x11}, Int(17).Bytes())
	require.Equal(t, []byte{0x02, 0xe8, 0x03}, Int(1000).Bytes())
}

// TestParseASM checks the text form of scripts.
func TestParseASM(t *testing.T) {
	t.Parallel()

	s, err := ParseASM("OP_DUP sha256 OP_TWEAKVERIFY inspectoutputvalue " +
		"e803000000000000 0x16 OP_1 OP_TRUE")
	require.NoError(t, err)

	expected := NewBuilder().
		AddOps(txscript.OP_DUP, txscript.OP_SHA256, OP_TWEAKVERIFY,
			OP_INSPECTOUTPUTVALUE).
		AddData(EncodeValue(1000)).
		AddData([]byte{0x16}).
		AddOps(txscript.OP_1, txscript.OP_1).
		Script()
	require.True(t, expected.Equal(s))
	require.Equal(t, 8, s.NumTokens())

	// The printed form is canonical and parses back to the same bytes.
	require.Equal(
		t, "OP_DUP OP_SHA256 OP_TWEAKVERIFY OP_INSPECTOUTPUTVALUE "+
			"e803000000000000 16 OP_1 OP_1", s.String(),
	)
	reparsed, err := ParseASM(s.String())
	require.NoError(t, err)
	require.Equal(t, s.Bytes(), reparsed.Bytes())

	_, err = ParseASM("OP_DUP OP_FROBNICATE")
	require.ErrorIs(t, err, AssemblyError{Kind: ErrUnknownOpcode})

	_, err = ParseASM("xyz")
	require.ErrorIs(t, err, AssemblyError{Kind: ErrUnknownOpcode})

	_, err = ParseASM("OP_DATA_2")
	require.ErrorIs(t, err, AssemblyError{Kind: ErrUnknownOpcode})
}

// TestOpcodeNames checks the display names of aliased and Elements opcodes.
func TestOpcodeNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, "OP_0", OpcodeName(txscript.OP_0))
	require.Equal(t, "OP_1", OpcodeName(txscript.OP_1))
	require.Equal(t, "OP_CAT", OpcodeName(txscript.OP_CAT))
	require.Equal(
		t, "OP_CHECKLOCKTIMEVERIFY",
		OpcodeName(txscript.OP_CHECKLOCKTIMEVERIFY),
	)
	require.Equal(t, "OP_TWEAKVERIFY", OpcodeName(0xe4))
	require.Equal(
		t, "OP_PUSHCURRENTINPUTINDEX", OpcodeName(0xcd),
	)

	op, ok := LookupOpcode("inspectoutputscriptpubkey")
	require.True(t, ok)
	require.Equal(t, byte(0xd1), op)
}

// TestScriptBytesRoundTrip parses random token sequences back from their
// serialization.
func TestScriptBytesRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		pushes := rapid.SliceOfN(
			rapid.SliceOfN(rapid.Byte(), 0, 300), 0, 8,
		).Draw(t, "pushes")
		ops := rapid.SliceOfN(
			rapid.SampledFrom([]byte{
				txscript.OP_CAT, txscript.OP_SWAP,
				OP_TWEAKVERIFY, OP_INSPECTOUTPUTASSET,
			}), len(pushes), len(pushes),
		).Draw(t, "ops")

		b := NewBuilder()
		for i, data := range pushes {
			b.AddData(data).AddOp(ops[i])
		}
		s := b.Script()

		require.Equal(t, len(s.Bytes()), s.Len())

		parsed, err := ParseScript(s.Bytes())
		require.NoError(t, err)
		require.True(t, s.Equal(parsed))
		require.Equal(t, s.String(), parsed.String())
	})
}

// TestScriptImmutable makes sure scripts don't share token memory.
func TestScriptImmutable(t *testing.T) {
	t.Parallel()

	data := []byte{0xaa, 0xbb}
	s := NewBuilder().AddData(data).Script()
	data[0] = 0x00

	tokens := s.Tokens()
	tokens[0].Data[1] = 0x00
	require.Equal(t, []byte{0x02, 0xaa, 0xbb}, s.Bytes())

	longer := s.Append(Op(txscript.OP_DROP))
	require.Equal(t, 1, s.NumTokens())
	require.Equal(t, 2, longer.NumTokens())

	_, err := ParseScript([]byte{0x4c})
	require.ErrorIs(t, err, AssemblyError{Kind: ErrMalformedPush})
}

// TestAssetScriptEncoding checks that asset ids are embedded byte reversed.
func TestAssetScriptEncoding(t *testing.T) {
	t.Parallel()

	canonical := "aa" + hex.EncodeToString(make([]byte, 30)) + "bb"
	asset, err := elwire.NewAssetIDFromStr(canonical)
	require.NoError(t, err)

	check := AssetCheck(0, asset)
	tokens := check.Tokens()
	require.Len(t, tokens, 6)

	embedded := tokens[4].StackValue()
	require.Len(t, embedded, 32)
	require.Equal(t, byte(0xbb), embedded[0])
	require.Equal(t, byte(0xaa), embedded[31])
	require.Equal(t, "OP_0 OP_INSPECTOUTPUTASSET OP_1 OP_EQUALVERIFY "+
		hex.EncodeToString(embedded)+" OP_EQUALVERIFY", check.String())
}
