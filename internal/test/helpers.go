package test

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// RandBool rolls a random boolean.
func RandBool() bool {
	return rand.Int()%2 == 0
}

// RandInt makes a random integer of the specified type.
func RandInt[T ~int | ~int32 | ~int64 | ~uint32 | ~uint64]() T {
	return T(rand.Int63())
}

func RandPrivKey(t testing.TB) *btcec.PrivateKey {
	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return privKey
}

func SchnorrPubKey(t testing.TB, privKey *btcec.PrivateKey) *btcec.PublicKey {
	return SchnorrKey(t, privKey.PubKey())
}

func SchnorrKey(t testing.TB, pubKey *btcec.PublicKey) *btcec.PublicKey {
	key, err := schnorr.ParsePubKey(schnorr.SerializePubKey(pubKey))
	require.NoError(t, err)
	return key
}

func RandPubKey(t testing.TB) *btcec.PublicKey {
	return SchnorrPubKey(t, RandPrivKey(t))
}

func RandBytes(num int) []byte {
	randBytes := make([]byte, num)
	_, _ = rand.Read(randBytes)
	return randBytes
}

func RandHash() chainhash.Hash {
	var hash chainhash.Hash
	copy(hash[:], RandBytes(chainhash.HashSize))
	return hash
}

func RandOutPoint(t testing.TB) wire.OutPoint {
	return wire.OutPoint{
		Hash:  RandHash(),
		Index: uint32(rand.Int31n(16)),
	}
}

// PrivKeyWithParity returns a random private key whose public key has the
// requested y-coordinate parity.
func PrivKeyWithParity(t testing.TB, odd bool) *btcec.PrivateKey {
	for {
		privKey := RandPrivKey(t)
		pub := privKey.PubKey().SerializeCompressed()
		isOdd := pub[0] == secp256k1.PubKeyFormatCompressedOdd
		if isOdd == odd {
			return privKey
		}
	}
}

// RapidPrivKey draws a private key from a rapid test.
func RapidPrivKey(t *rapid.T, label string) *btcec.PrivateKey {
	keyBytes := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, label)

	// Keys drawn as all zeroes are not valid scalars, nudge them.
	nonZero := false
	for _, b := range keyBytes {
		if b != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		keyBytes[31] = 1
	}

	privKey, _ := btcec.PrivKeyFromBytes(keyBytes)
	return privKey
}

// RapidPubKey draws an x-only public key from a rapid test.
func RapidPubKey(t *rapid.T, label string) *btcec.PublicKey {
	privKey := RapidPrivKey(t, label)
	key, err := schnorr.ParsePubKey(
		schnorr.SerializePubKey(privKey.PubKey()),
	)
	require.NoError(t, err)
	return key
}
