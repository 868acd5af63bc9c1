package elwire

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightninglabs/tapcov/internal/test"
	"github.com/stretchr/testify/require"
)

type prevOutVector struct {
	Asset  string `json:"asset"`
	Value  uint64 `json:"value"`
	Script string `json:"script"`
}

type sigHashVector struct {
	Kind       string `json:"kind"`
	Input      int    `json:"input"`
	HashType   uint32 `json:"hash_type"`
	ScriptCode string `json:"script_code,omitempty"`
	LeafHash   string `json:"leaf_hash,omitempty"`
	SigHash    string `json:"sighash"`
}

type txTestCase struct {
	Comment     string           `json:"comment"`
	Tx          string           `json:"tx"`
	TxID        string           `json:"txid"`
	WTxID       string           `json:"wtxid"`
	PrevOuts    []*prevOutVector `json:"prev_outs"`
	GenesisHash string           `json:"genesis_hash"`
	SigHashes   []*sigHashVector `json:"sighashes"`
}

type txTestVectors struct {
	ValidTestCases []*txTestCase `json:"valid_test_cases"`
}

func decodeHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// TestTxVectors checks serialization, transaction ids and both signature
// hash algorithms against known answers.
func TestTxVectors(t *testing.T) {
	t.Parallel()

	var vectors txTestVectors
	test.ParseTestVectors(t, "elements_tx.json", &vectors)
	require.NotEmpty(t, vectors.ValidTestCases)

	for _, tc := range vectors.ValidTestCases {
		tc := tc

		t.Run(tc.Comment, func(t *testing.T) {
			t.Parallel()

			tx, err := NewTxFromHex(tc.Tx)
			require.NoError(t, err)

			// Decoding and encoding again is lossless.
			hexTx, err := tx.Hex()
			require.NoError(t, err)
			require.Equal(t, tc.Tx, hexTx)

			require.Equal(t, tc.TxID, tx.TxHash().String())
			require.Equal(t, tc.WTxID, tx.WitnessHash().String())

			prevOuts := make([]*TxOut, 0, len(tc.PrevOuts))
			for _, p := range tc.PrevOuts {
				asset, err := NewAssetIDFromStr(p.Asset)
				require.NoError(t, err)
				prevOuts = append(prevOuts, NewTxOut(
					asset, p.Value, decodeHex(t, p.Script),
				))
			}

			genesis, err := chainhash.NewHashFromStr(tc.GenesisHash)
			require.NoError(t, err)

			sigHashes, err := NewTxSigHashes(tx, prevOuts)
			require.NoError(t, err)

			for _, sh := range tc.SigHashes {
				hashType := txscript.SigHashType(sh.HashType)

				var got []byte
				switch sh.Kind {
				case "v0":
					got, err = CalcWitnessSigHash(
						decodeHex(t, sh.ScriptCode),
						sigHashes, hashType, tx,
						sh.Input,
						prevOuts[sh.Input].Value,
					)

				case "taproot":
					var opts *TaprootSigHashOptions
					if sh.LeafHash != "" {
						opts = &TaprootSigHashOptions{}
						copy(
							opts.LeafHash[:],
							decodeHex(t, sh.LeafHash),
						)
					}
					got, err = CalcTaprootSigHash(
						sigHashes, hashType, tx,
						sh.Input, prevOuts, *genesis,
						opts,
					)

				default:
					t.Fatalf("unknown sighash kind %v",
						sh.Kind)
				}
				require.NoError(t, err)
				require.Equalf(
					t, sh.SigHash, hex.EncodeToString(got),
					"%v sighash of input %d, type %#x",
					sh.Kind, sh.Input, sh.HashType,
				)
			}
		})
	}
}
