package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/tapcov/elwire"
)

var (
	// ErrTxNotFound is returned when the ledger does not know a
	// transaction.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrTxRejected is returned when the ledger refuses a raw
	// transaction. The ledger's reason is part of the wrapping error.
	ErrTxRejected = errors.New("transaction rejected")

	// ErrInsufficientFunds is returned when the wallet of the ledger
	// cannot pay for a request.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Client is the subset of the ledger node RPC interface the covenant
// tooling consumes.
type Client interface {
	// IssueAsset issues amount units of a new asset, and optionally
	// reissuance tokens, to the node's wallet.
	IssueAsset(ctx context.Context, amount,
		tokenAmount btcutil.Amount) (*Issuance, error)

	// SendToAddress pays amount units of asset from the node's wallet
	// to an unconfidential address.
	SendToAddress(ctx context.Context, addr string, amount btcutil.Amount,
		asset elwire.AssetID) (*chainhash.Hash, error)

	// GetRawTransaction returns the verbose form of a transaction.
	GetRawTransaction(ctx context.Context,
		txid chainhash.Hash) (*RawTx, error)

	// SendRawTransaction submits a serialized transaction.
	SendRawTransaction(ctx context.Context,
		rawTx []byte) (*chainhash.Hash, error)

	// GetNewAddress returns a fresh unconfidential wallet address.
	GetNewAddress(ctx context.Context) (string, error)

	// GenerateToAddress mines numBlocks blocks paying to addr.
	GenerateToAddress(ctx context.Context, numBlocks uint32,
		addr string) ([]chainhash.Hash, error)
}

// Issuance is the result of an asset issuance.
type Issuance struct {
	// TxID is the issuing transaction.
	TxID chainhash.Hash

	// Vin is the input carrying the issuance.
	Vin uint32

	// Asset is the issued asset.
	Asset elwire.AssetID

	// Token is the reissuance token of the asset.
	Token elwire.AssetID
}

// ScriptPubKey is the verbose form of an output script.
type ScriptPubKey struct {
	Asm     string `json:"asm"`
	Hex     string `json:"hex"`
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
}

// Script decodes the output script.
func (s *ScriptPubKey) Script() ([]byte, error) {
	return hex.DecodeString(s.Hex)
}

// RawTxOut is the verbose form of a transaction output. Asset and Value are
// only set for explicit outputs, the commitments only for blinded ones.
type RawTxOut struct {
	Value           float64      `json:"value"`
	Asset           string       `json:"asset,omitempty"`
	AssetCommitment string       `json:"assetcommitment,omitempty"`
	ValueCommitment string       `json:"valuecommitment,omitempty"`
	N               uint32       `json:"n"`
	ScriptPubKey    ScriptPubKey `json:"scriptPubKey"`
}

// IsConfidential returns true if the asset or the value of the output is
// blinded.
func (o *RawTxOut) IsConfidential() bool {
	return o.AssetCommitment != "" || o.ValueCommitment != ""
}

// Amount returns the value of the output in base units.
func (o *RawTxOut) Amount() (btcutil.Amount, error) {
	return btcutil.NewAmount(o.Value)
}

// AssetID decodes the asset of an explicit output.
func (o *RawTxOut) AssetID() (elwire.AssetID, error) {
	if o.Asset == "" {
		return elwire.AssetID{}, fmt.Errorf("output %d has no "+
			"explicit asset", o.N)
	}
	return elwire.NewAssetIDFromStr(o.Asset)
}

// IsFee returns true for the explicit fee output.
func (o *RawTxOut) IsFee() bool {
	return o.ScriptPubKey.Hex == ""
}

// RawTx is the verbose form of a transaction as returned by
// getrawtransaction.
type RawTx struct {
	TxID          string     `json:"txid"`
	Hash          string     `json:"hash"`
	Hex           string     `json:"hex"`
	Vout          []RawTxOut `json:"vout"`
	BlockHash     string     `json:"blockhash,omitempty"`
	Confirmations uint32     `json:"confirmations,omitempty"`
}

// TxHash decodes the transaction id.
func (r *RawTx) TxHash() (chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(r.TxID)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return *h, nil
}

// MsgTx decodes the serialized transaction. Blinded outputs are kept as
// opaque commitments.
func (r *RawTx) MsgTx() (*elwire.MsgTx, error) {
	return elwire.NewTxFromHex(r.Hex)
}
