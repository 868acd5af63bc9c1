package tapcov

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/covdb"
	"github.com/lightninglabs/tapcov/covfreighter"
	"github.com/lightninglabs/tapcov/covscript"
	"github.com/lightninglabs/tapcov/covsend"
	"github.com/lightninglabs/tapcov/elwire"
)

var (
	// ErrLineageReleased is returned when spending a lineage whose
	// covenant was left through the key path.
	ErrLineageReleased = errors.New("lineage released")

	// ErrNetworkMismatch is returned when opening a lineage of another
	// network.
	ErrNetworkMismatch = errors.New("lineage belongs to another network")

	// ErrFeeInput is returned when the counterparty inputs of a spend do
	// not cover the fee.
	ErrFeeInput = errors.New("counterparty inputs do not cover fee")
)

// LineageConfig holds the dependencies shared by all lineages.
type LineageConfig struct {
	// Journal records every generation.
	Journal *covdb.Journal

	// Broadcaster funds covenant addresses and submits spends.
	Broadcaster *covfreighter.Broadcaster

	// Params is the chain the lineages live on.
	Params *address.ChainParams

	// Fee is the fee paid by every spend, in units of the policy asset.
	Fee uint64
}

// Lineage is a covenant followed from its funding output through every
// generation it recreates. A Lineage serializes its spends so two of them
// never race for the same tip.
type Lineage struct {
	cfg *LineageConfig

	name     string
	covenant *covscript.Covenant
	asset    elwire.AssetID
	amount   uint64

	mu sync.Mutex
}

// NewLineage funds a fresh covenant with amount units of asset from the
// ledger's wallet and records it under name.
func NewLineage(ctx context.Context, cfg *LineageConfig, name string,
	c *covscript.Covenant, asset elwire.AssetID,
	amount uint64) (*Lineage, error) {

	_, err := cfg.Journal.FetchLineage(ctx, name)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %v", covdb.ErrLineageExists, name)
	case !errors.Is(err, covdb.ErrLineageNotFound):
		return nil, err
	}

	out, err := c.Output(cfg.Params)
	if err != nil {
		return nil, err
	}

	log.Infof("Funding lineage %v at %v with %d units of %v", name,
		out.Address, amount, asset)

	funding, err := cfg.Broadcaster.Fund(
		ctx, out.Address, btcutil.Amount(amount), asset,
	)
	if err != nil {
		return nil, err
	}
	// The wallet may blind its change, the covenant output itself must
	// be explicit.
	fundingTx, err := funding.Tx.MsgTx()
	if err != nil {
		return nil, err
	}
	_, err = explicitOutput(fundingTx, funding.OutputIndex)
	if err != nil {
		return nil, err
	}
	rawTx, err := fundingTx.Bytes()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = cfg.Journal.CreateLineage(ctx, &covdb.Lineage{
		Name:       name,
		Descriptor: covscript.NewDescriptor(c, cfg.Params.Name),
		Asset:      asset,
		Amount:     amount,
		CreatedAt:  now,
	}, &covdb.Generation{
		OutPoint: wire.OutPoint{
			Hash:  fundingTx.TxHash(),
			Index: uint32(funding.OutputIndex),
		},
		SpendPath: covdb.SpendFunding,
		RawTx:     rawTx,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	return &Lineage{
		cfg:      cfg,
		name:     name,
		covenant: c,
		asset:    asset,
		amount:   amount,
	}, nil
}

// OpenLineage loads a lineage recorded by NewLineage.
func OpenLineage(ctx context.Context, cfg *LineageConfig,
	name string) (*Lineage, error) {

	stored, err := cfg.Journal.FetchLineage(ctx, name)
	if err != nil {
		return nil, err
	}
	if stored.Descriptor.Network != cfg.Params.Name {
		return nil, fmt.Errorf("%w: %v is on %v", ErrNetworkMismatch,
			name, stored.Descriptor.Network)
	}

	c, err := stored.Descriptor.Covenant()
	if err != nil {
		return nil, err
	}

	return &Lineage{
		cfg:      cfg,
		name:     name,
		covenant: c,
		asset:    stored.Asset,
		amount:   stored.Amount,
	}, nil
}

// Name returns the name of the lineage.
func (l *Lineage) Name() string {
	return l.name
}

// Covenant returns the covenant of the lineage.
func (l *Lineage) Covenant() *covscript.Covenant {
	return l.covenant
}

// Asset returns the locked asset.
func (l *Lineage) Asset() elwire.AssetID {
	return l.asset
}

// Address returns the address every generation of the lineage pays to.
func (l *Lineage) Address() (string, error) {
	out, err := l.covenant.Output(l.cfg.Params)
	if err != nil {
		return "", err
	}
	return out.Address, nil
}

// Generations returns the outputs the lineage lived in, oldest first.
func (l *Lineage) Generations(ctx context.Context) ([]*covdb.Generation,
	error) {

	return l.cfg.Journal.Generations(ctx, l.name)
}

// tip returns the latest generation as the covenant input of the next
// spend.
func (l *Lineage) tip(ctx context.Context) (*covdb.Generation,
	*covsend.Input, error) {

	tip, err := l.cfg.Journal.Tip(ctx, l.name)
	if err != nil {
		return nil, nil, err
	}
	if tip.SpendPath == covdb.SpendKeyPath {
		return nil, nil, fmt.Errorf("%w: %v", ErrLineageReleased,
			l.name)
	}

	tx, err := elwire.NewTxFromBytes(tip.RawTx)
	if err != nil {
		return nil, nil, fmt.Errorf("generation %d: %w", tip.Number,
			err)
	}
	txOut, err := explicitOutput(tx, int(tip.OutPoint.Index))
	if err != nil {
		return nil, nil, fmt.Errorf("generation %d: %w", tip.Number,
			err)
	}

	return tip, &covsend.Input{
		OutPoint: tip.OutPoint,
		Asset:    txOut.Asset,
		Value:    txOut.Value,
		PkScript: txOut.Script,
	}, nil
}

// explicitOutput returns output idx of tx if it exists and is unblinded.
func explicitOutput(tx *elwire.MsgTx, idx int) (*elwire.TxOut, error) {
	if idx < 0 || idx >= len(tx.TxOut) {
		return nil, fmt.Errorf("tx %v has no output %d", tx.TxHash(),
			idx)
	}
	txOut := tx.TxOut[idx]
	if txOut.IsConfidential() {
		return nil, fmt.Errorf("output %v:%d: %w", tx.TxHash(), idx,
			elwire.ErrConfidential)
	}

	return txOut, nil
}

// TipInput returns the unspent output currently holding the lineage.
func (l *Lineage) TipInput(ctx context.Context) (*covsend.Input, error) {
	_, input, err := l.tip(ctx)
	return input, err
}

// SpendParams are the parts of a spend supplied by its caller.
type SpendParams struct {
	// Counterparties pay the fee in the policy asset.
	Counterparties []*covsend.Counterparty

	// ChangeScript receives what the counterparties pay beyond the fee.
	ChangeScript []byte

	// Signer signs for a covenant that starts with a signer check.
	Signer *btcec.PrivateKey
}

// change returns what is left of the counterparty inputs after the fee.
func (l *Lineage) change(params *SpendParams) (uint64, error) {
	policy := l.cfg.Params.PolicyAsset

	var total uint64
	for i, cp := range params.Counterparties {
		if cp.Input.Asset != policy {
			return 0, fmt.Errorf("%w: counterparty %d pays %v",
				ErrFeeInput, i, cp.Input.Asset)
		}
		total += cp.Input.Value
	}
	if total < l.cfg.Fee {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrFeeInput,
			total, l.cfg.Fee)
	}

	change := total - l.cfg.Fee
	if change > 0 && len(params.ChangeScript) == 0 {
		return 0, fmt.Errorf("%w: %d left without change script",
			ErrFeeInput, change)
	}

	return change, nil
}

// submit broadcasts a finalized spend and records the output carrying the
// lineage's asset as the next generation.
func (l *Lineage) submit(ctx context.Context, pkt *covsend.Packet,
	number uint32, spendPath covdb.SpendPath) (*covfreighter.SpendResult,
	error) {

	rawTx, err := pkt.Serialize()
	if err != nil {
		return nil, err
	}

	log.Tracef("Lineage %v generation %d: %v", l.name, number,
		spew.Sdump(pkt.UnsignedTx()))

	result, err := l.cfg.Broadcaster.BroadcastAndTrack(ctx, rawTx, l.asset)
	if err != nil {
		return nil, err
	}
	if result.OutputIndex == covfreighter.NoOutput {
		return nil, fmt.Errorf("tx %v carries no %v", result.Tx.TxID,
			l.asset)
	}

	txid, err := result.Tx.TxHash()
	if err != nil {
		return nil, err
	}

	err = l.cfg.Journal.AddGeneration(ctx, l.name, &covdb.Generation{
		Number: number,
		OutPoint: wire.OutPoint{
			Hash:  txid,
			Index: uint32(result.OutputIndex),
		},
		SpendPath: spendPath,
		RawTx:     rawTx,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Lineage %v generation %d at %v:%d (%v)", l.name, number,
		txid, result.OutputIndex, spendPath)

	return result, nil
}

// Spend moves the lineage into its next generation through the covenant
// leaf. The counterparties pay the fee.
func (l *Lineage) Spend(ctx context.Context,
	params *SpendParams) (*covfreighter.SpendResult, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	tip, input, err := l.tip(ctx)
	if err != nil {
		return nil, err
	}

	change, err := l.change(params)
	if err != nil {
		return nil, err
	}

	outputs, roles, err := covsend.RecursiveOutputs(
		l.covenant, l.cfg.Params, l.asset, input.Value,
		params.ChangeScript, change, l.cfg.Fee,
	)
	if err != nil {
		return nil, err
	}

	pkt, err := covsend.SpendCovenant(&covsend.SpendRequest{
		Covenant:       l.covenant,
		Input:          input,
		Counterparties: params.Counterparties,
		Outputs:        outputs,
		OutputRoles:    roles,
		Params:         l.cfg.Params,
		Signer:         params.Signer,
	})
	if err != nil {
		return nil, err
	}

	result, err := l.submit(
		ctx, pkt, tip.Number+1, covdb.SpendScriptPath,
	)
	if err != nil {
		return nil, err
	}
	if result.OutputIndex != int(l.covenant.OutputIndex) {
		return nil, fmt.Errorf("covenant recreated at output %d, "+
			"want %d", result.OutputIndex, l.covenant.OutputIndex)
	}

	return result, nil
}

// Release leaves the covenant through the key path, paying the locked asset
// to destScript. No generation can follow a release.
func (l *Lineage) Release(ctx context.Context, internalKey *btcec.PrivateKey,
	destScript []byte, params *SpendParams) (*covfreighter.SpendResult,
	error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	tip, input, err := l.tip(ctx)
	if err != nil {
		return nil, err
	}

	change, err := l.change(params)
	if err != nil {
		return nil, err
	}

	outputs := []*covsend.Output{{
		Value:    input.Value,
		Asset:    input.Asset,
		PkScript: destScript,
	}}
	if change > 0 {
		outputs = append(outputs, &covsend.Output{
			Value:    change,
			Asset:    l.cfg.Params.PolicyAsset,
			PkScript: params.ChangeScript,
		})
	}
	outputs = append(outputs, &covsend.Output{
		Value: l.cfg.Fee,
		Asset: l.cfg.Params.PolicyAsset,
	})

	pkt, err := covsend.SpendCovenant(&covsend.SpendRequest{
		Covenant:       l.covenant,
		Input:          input,
		Counterparties: params.Counterparties,
		Outputs:        outputs,
		OutputRoles: covscript.DefaultOutputRoles(
			uint32(len(outputs)),
		),
		Params:      l.cfg.Params,
		InternalKey: internalKey,
	})
	if err != nil {
		return nil, err
	}

	return l.submit(ctx, pkt, tip.Number+1, covdb.SpendKeyPath)
}
