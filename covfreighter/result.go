package covfreighter

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/tapcov/covsend"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/lightninglabs/tapcov/ledger"
)

// NoOutput is returned by OutputIndexForAsset when no output carries the
// asset.
const NoOutput = -1

// SpendResult is a transaction seen by the ledger together with the output
// of interest, e.g. the one funding or recreating a covenant.
type SpendResult struct {
	// Tx is the verbose transaction as returned by the ledger.
	Tx *ledger.RawTx

	// OutputIndex is the output of interest, or NoOutput.
	OutputIndex int
}

// OutputIndexForAsset returns the first non-fee output of tx carrying the
// explicit asset, or NoOutput.
func OutputIndexForAsset(tx *ledger.RawTx, asset elwire.AssetID) int {
	want := asset.String()
	for _, out := range tx.Vout {
		if out.IsFee() || !strings.EqualFold(out.Asset, want) {
			continue
		}
		return int(out.N)
	}

	return NoOutput
}

// Output returns the verbose form of the output of interest.
func (r *SpendResult) Output() (*ledger.RawTxOut, error) {
	for i := range r.Tx.Vout {
		if int(r.Tx.Vout[i].N) == r.OutputIndex {
			return &r.Tx.Vout[i], nil
		}
	}

	return nil, fmt.Errorf("tx %v has no output %d", r.Tx.TxID,
		r.OutputIndex)
}

// Input turns the output of interest into an input of the next
// transaction. Only explicit outputs can be spent this way.
func (r *SpendResult) Input() (*covsend.Input, error) {
	if r.OutputIndex == NoOutput {
		return nil, fmt.Errorf("tx %v has no output of interest",
			r.Tx.TxID)
	}

	txid, err := r.Tx.TxHash()
	if err != nil {
		return nil, err
	}
	out, err := r.Output()
	if err != nil {
		return nil, err
	}
	if out.IsConfidential() {
		return nil, fmt.Errorf("output %v:%d: %w", r.Tx.TxID,
			r.OutputIndex, elwire.ErrConfidential)
	}

	asset, err := out.AssetID()
	if err != nil {
		return nil, err
	}
	value, err := out.Amount()
	if err != nil {
		return nil, err
	}
	pkScript, err := out.ScriptPubKey.Script()
	if err != nil {
		return nil, err
	}

	return &covsend.Input{
		OutPoint: wire.OutPoint{
			Hash:  txid,
			Index: uint32(r.OutputIndex),
		},
		Asset:    asset,
		Value:    uint64(value),
		PkScript: pkScript,
	}, nil
}
