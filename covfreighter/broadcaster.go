package covfreighter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/lightninglabs/tapcov/fn"
	"github.com/lightninglabs/tapcov/ledger"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultConfBlocks is the number of blocks mined after a broadcast
	// on regtest.
	DefaultConfBlocks = 10

	// DefaultPollInterval is the interval at which confirmations are
	// polled.
	DefaultPollInterval = time.Second
)

var (
	// ErrBroadcastRejected is returned when the ledger refuses a
	// transaction.
	ErrBroadcastRejected = errors.New("broadcast rejected")

	// ErrConfirmation is returned when blocks could not be mined after a
	// broadcast. The transaction may still confirm, callers may retry.
	ErrConfirmation = errors.New("unable to confirm")

	// ErrFunding is returned when an address could not be funded.
	ErrFunding = errors.New("unable to fund address")
)

// BroadcasterConfig holds the dependencies of the Broadcaster.
type BroadcasterConfig struct {
	// Ledger is the node transactions are submitted to.
	Ledger ledger.Client

	// Params is the chain of the ledger.
	Params *address.ChainParams

	// ConfBlocks is the number of blocks mined by AwaitConfirmation.
	ConfBlocks uint32

	// PollTicker paces WaitForConfirmations. A default ticker is used if
	// it is nil.
	PollTicker ticker.Ticker

	// FetchRetry is the backoff used to look up a transaction the ledger
	// just accepted. fn.DefaultRetryConfig is used if it is nil.
	FetchRetry *fn.RetryConfig
}

// Broadcaster submits covenant transactions to the ledger and tracks them.
type Broadcaster struct {
	cfg *BroadcasterConfig
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(cfg *BroadcasterConfig) *Broadcaster {
	if cfg.ConfBlocks == 0 {
		cfg.ConfBlocks = DefaultConfBlocks
	}
	if cfg.PollTicker == nil {
		cfg.PollTicker = ticker.New(DefaultPollInterval)
	}
	if cfg.FetchRetry == nil {
		retryCfg := fn.DefaultRetryConfig()
		cfg.FetchRetry = &retryCfg
	}

	return &Broadcaster{
		cfg: cfg,
	}
}

// Broadcast submits a serialized transaction. A rejection carries the
// ledger's message.
func (b *Broadcaster) Broadcast(ctx context.Context,
	rawTx []byte) (*chainhash.Hash, error) {

	txid, err := b.cfg.Ledger.SendRawTransaction(ctx, rawTx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBroadcastRejected, err)
	}

	log.Infof("Broadcast transaction %v", txid)

	return txid, nil
}

// AwaitConfirmation mines blocks to a fresh address so the mempool
// confirms. It only works on chains where the node may generate blocks.
func (b *Broadcaster) AwaitConfirmation(ctx context.Context) error {
	addr, err := b.cfg.Ledger.GetNewAddress(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfirmation, err)
	}

	blocks, err := b.cfg.Ledger.GenerateToAddress(
		ctx, b.cfg.ConfBlocks, addr,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfirmation, err)
	}

	log.Debugf("Mined %d blocks to %v", len(blocks), addr)

	return nil
}

// BroadcastAndTrack broadcasts a transaction, tries to confirm it and
// returns it with the first output carrying asset. Failing to confirm is
// only logged.
func (b *Broadcaster) BroadcastAndTrack(ctx context.Context, rawTx []byte,
	asset elwire.AssetID) (*SpendResult, error) {

	txid, err := b.Broadcast(ctx, rawTx)
	if err != nil {
		return nil, err
	}

	if err := b.AwaitConfirmation(ctx); err != nil {
		log.Warnf("Transaction %v broadcast but not confirmed: %v",
			txid, err)
	}

	tx, err := b.fetchTx(ctx, *txid)
	if err != nil {
		return nil, err
	}

	return &SpendResult{
		Tx:          tx,
		OutputIndex: OutputIndexForAsset(tx, asset),
	}, nil
}

// Fund pays amount units of asset from the ledger's wallet to addr and
// returns the funding transaction with the funding output. The output is
// matched by asset and script, so change of the same asset is skipped.
func (b *Broadcaster) Fund(ctx context.Context, addr string,
	amount btcutil.Amount, asset elwire.AssetID) (*SpendResult, error) {

	pkScript, err := address.ToOutputScript(addr, b.cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFunding, err)
	}

	txid, err := b.cfg.Ledger.SendToAddress(ctx, addr, amount, asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFunding, err)
	}

	tx, err := b.fetchTx(ctx, *txid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFunding, err)
	}

	want := asset.String()
	for _, out := range tx.Vout {
		if !strings.EqualFold(out.Asset, want) {
			continue
		}

		script, err := out.ScriptPubKey.Script()
		if err != nil || !bytes.Equal(script, pkScript) {
			continue
		}

		log.Infof("Funded %v with %v units of %v in %v:%d", addr,
			int64(amount), asset, txid, out.N)

		return &SpendResult{
			Tx:          tx,
			OutputIndex: int(out.N),
		}, nil
	}

	return nil, fmt.Errorf("%w: tx %v has no output of %v to %v",
		ErrFunding, txid, asset, addr)
}

// fetchTx looks up a transaction the ledger accepted, retrying while the
// ledger does not know it yet.
func (b *Broadcaster) fetchTx(ctx context.Context,
	txid chainhash.Hash) (*ledger.RawTx, error) {

	retryCfg := *b.cfg.FetchRetry
	retryCfg.ShouldRetry = func(err error) bool {
		return errors.Is(err, ledger.ErrTxNotFound)
	}

	return fn.RetryFuncN(ctx, retryCfg, func() (*ledger.RawTx, error) {
		return b.cfg.Ledger.GetRawTransaction(ctx, txid)
	})
}

// WaitForConfirmations blocks until txid has at least numConfs
// confirmations or ctx is done.
func (b *Broadcaster) WaitForConfirmations(ctx context.Context,
	txid chainhash.Hash, numConfs uint32) error {

	t := b.cfg.PollTicker
	t.Resume()
	defer t.Stop()

	for {
		tx, err := b.cfg.Ledger.GetRawTransaction(ctx, txid)
		switch {
		case errors.Is(err, ledger.ErrTxNotFound):
			log.Debugf("Transaction %v not seen yet", txid)

		case err != nil:
			return err

		case tx.Confirmations >= numConfs:
			log.Debugf("Transaction %v has %d confirmations", txid,
				tx.Confirmations)
			return nil
		}

		select {
		case <-t.Ticks():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
