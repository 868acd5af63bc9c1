package tapscript

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// LeafVersion is the tapscript leaf version of an Elements ledger.
	LeafVersion txscript.TapscriptLeafVersion = 0xc4
)

var (
	// TagTapLeaf is the tag used to hash tapscript leaves.
	TagTapLeaf = []byte("TapLeaf/elements")

	// TagTapBranch is the tag used to hash inner nodes of a script tree.
	TagTapBranch = []byte("TapBranch/elements")

	// TagTapTweak is the tag used to compute the key tweak.
	TagTapTweak = []byte("TapTweak/elements")
)

// TaggedHash implements the tagged hash scheme: sha256(sha256(tag) ||
// sha256(tag) || msg...).
func TaggedHash(tag []byte, msgs ...[]byte) chainhash.Hash {
	return *chainhash.TaggedHash(tag, msgs...)
}

// TaggedHashPrefix returns sha256(tag) || sha256(tag), the 64 byte midstate
// input every tagged hash with the given tag starts with.
func TaggedHashPrefix(tag []byte) []byte {
	tagHash := sha256.Sum256(tag)
	prefix := make([]byte, 0, 2*sha256.Size)
	prefix = append(prefix, tagHash[:]...)
	return append(prefix, tagHash[:]...)
}

// LeafHash computes the tapleaf hash of script under the Elements leaf
// version: TaggedHash("TapLeaf/elements", 0xc4 || compactSize(len) || script).
func LeafHash(script []byte) chainhash.Hash {
	var b bytes.Buffer
	b.WriteByte(byte(LeafVersion))
	_ = wire.WriteVarBytes(&b, 0, script)

	return TaggedHash(TagTapLeaf, b.Bytes())
}

// TreeHash returns the merkle root of a script tree that holds a single leaf,
// which is the leaf hash itself.
func TreeHash(leafHash chainhash.Hash) chainhash.Hash {
	return leafHash
}

// TweakHash computes TaggedHash("TapTweak/elements", xonly(P) || root). An
// empty root yields the tweak of a key only output.
func TweakHash(internalKey *btcec.PublicKey, root []byte) chainhash.Hash {
	return TaggedHash(
		TagTapTweak, schnorr.SerializePubKey(internalKey), root,
	)
}
