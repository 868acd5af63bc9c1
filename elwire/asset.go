package elwire

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// AssetIDSize is the size of an asset identifier in bytes.
const AssetIDSize = chainhash.HashSize

// AssetID identifies an issued asset on the ledger. Like a transaction hash,
// the identifier is kept in wire byte order (little-endian), which is also the
// order in which the introspection opcodes push it onto the stack. The
// canonical form shown by the node RPC is the byte-reversed (big-endian) hex
// string.
type AssetID chainhash.Hash

// NewAssetIDFromStr parses the canonical big-endian hex form of an asset ID.
func NewAssetIDFromStr(id string) (AssetID, error) {
	var a AssetID
	if len(id) != AssetIDSize*2 {
		return a, fmt.Errorf("invalid asset id length %d, want %d",
			len(id), AssetIDSize*2)
	}

	if err := chainhash.Decode((*chainhash.Hash)(&a), id); err != nil {
		return a, fmt.Errorf("invalid asset id %q: %w", id, err)
	}

	return a, nil
}

// String returns the canonical big-endian hex encoding of the asset ID.
func (a AssetID) String() string {
	return chainhash.Hash(a).String()
}

// ScriptBytes returns the 32-byte little-endian encoding used when the asset
// ID is embedded in a script or serialized on the wire.
func (a AssetID) ScriptBytes() []byte {
	b := make([]byte, AssetIDSize)
	copy(b, a[:])
	return b
}

// IsZero returns true if no asset ID has been set.
func (a AssetID) IsZero() bool {
	return a == AssetID{}
}

// MarshalText encodes the asset ID in its canonical form.
func (a AssetID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes the canonical form of an asset ID.
func (a *AssetID) UnmarshalText(text []byte) error {
	id, err := NewAssetIDFromStr(string(text))
	if err != nil {
		return err
	}

	*a = id
	return nil
}

// AssetIDFromScriptBytes interprets b as an asset ID in wire byte order.
func AssetIDFromScriptBytes(b []byte) (AssetID, error) {
	var a AssetID
	if len(b) != AssetIDSize {
		return a, fmt.Errorf("invalid asset id length %d: %x", len(b),
			b)
	}

	copy(a[:], b)
	return a, nil
}

// MustAssetID parses the canonical form of an asset ID and panics on failure.
// It is intended for package level constants only.
func MustAssetID(id string) AssetID {
	a, err := NewAssetIDFromStr(id)
	if err != nil {
		panic(err)
	}
	return a
}

// hexBytes is a short helper used in error messages.
func hexBytes(b []byte) string {
	return hex.EncodeToString(b)
}
