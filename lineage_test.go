package tapcov

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/covdb"
	"github.com/lightninglabs/tapcov/covfreighter"
	"github.com/lightninglabs/tapcov/covscript"
	"github.com/lightninglabs/tapcov/covsend"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/lightninglabs/tapcov/internal/test"
	"github.com/lightninglabs/tapcov/ledger"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	issuanceAmount     = 1000
	counterpartyAmount = 500
	testFee            = 400
)

var testParams = &address.LiquidRegTest

type lineageHarness struct {
	t *testing.T

	ledger      *ledger.MockClient
	broadcaster *covfreighter.Broadcaster
	cfg         *LineageConfig

	cpKey    *btcec.PrivateKey
	cpScript []byte
	cpAddr   string
}

func newLineageHarness(t *testing.T,
	opts ...ledger.MockOption) *lineageHarness {

	store, err := covdb.NewSqliteStore(&covdb.SqliteConfig{
		DatabaseFileName: filepath.Join(t.TempDir(), "tapcov.db"),
		CreateTables:     true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.DB.Close())
	})

	mock := ledger.NewMockClient(testParams, opts...)
	broadcaster := covfreighter.NewBroadcaster(
		&covfreighter.BroadcasterConfig{
			Ledger: mock,
			Params: testParams,
		},
	)

	cpKey := test.RandPrivKey(t)
	keyHash := btcutil.Hash160(cpKey.PubKey().SerializeCompressed())
	cpScript, err := address.WitnessScript(0, keyHash)
	require.NoError(t, err)
	cpAddr, err := address.EncodeWitness(0, keyHash, testParams)
	require.NoError(t, err)

	return &lineageHarness{
		t:           t,
		ledger:      mock,
		broadcaster: broadcaster,
		cfg: &LineageConfig{
			Journal:     covdb.NewSqliteJournal(store),
			Broadcaster: broadcaster,
			Params:      testParams,
			Fee:         testFee,
		},
		cpKey:    cpKey,
		cpScript: cpScript,
		cpAddr:   cpAddr,
	}
}

// counterparty funds a fresh fee input of the counterparty.
func (h *lineageHarness) counterparty() *SpendParams {
	funding, err := h.broadcaster.Fund(
		context.Background(), h.cpAddr, counterpartyAmount,
		testParams.PolicyAsset,
	)
	require.NoError(h.t, err)

	input, err := funding.Input()
	require.NoError(h.t, err)

	return &SpendParams{
		Counterparties: []*covsend.Counterparty{{
			Input: input,
			Key:   h.cpKey,
		}},
		ChangeScript: h.cpScript,
	}
}

// newLineage issues an asset and locks all of it in a fresh covenant.
func (h *lineageHarness) newLineage(name string,
	internalKey *btcec.PublicKey) *Lineage {

	ctx := context.Background()
	issuance, err := h.ledger.IssueAsset(ctx, issuanceAmount, 1)
	require.NoError(h.t, err)

	c, err := covscript.NewCovenant(covscript.CovenantConfig{
		InternalKey: internalKey,
		Conditions: covscript.DefaultConditions(
			0, issuance.Asset, issuanceAmount,
		),
	})
	require.NoError(h.t, err)

	l, err := NewLineage(
		ctx, h.cfg, name, c, issuance.Asset, issuanceAmount,
	)
	require.NoError(h.t, err)

	return l
}

// TestChainedCovenant funds a covenant and spends it twice through its
// leaf, each generation paying to the very same covenant address.
func TestChainedCovenant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newLineageHarness(t)
	l := h.newLineage("chain", test.RandPubKey(t))

	addr, err := l.Address()
	require.NoError(t, err)
	covenantScript, err := address.ToOutputScript(addr, testParams)
	require.NoError(t, err)

	c1, err := l.TipInput(ctx)
	require.NoError(t, err)
	require.Equal(t, covenantScript, c1.PkScript)
	require.EqualValues(t, issuanceAmount, c1.Value)

	prev := c1
	for i := 0; i < 2; i++ {
		result, err := l.Spend(ctx, h.counterparty())
		require.NoError(t, err)
		require.Equal(t, 0, result.OutputIndex)
		require.EqualValues(t, covfreighter.DefaultConfBlocks,
			result.Tx.Confirmations)

		next, err := result.Input()
		require.NoError(t, err)
		require.Equal(t, covenantScript, next.PkScript)
		require.Equal(t, l.Asset(), next.Asset)
		require.EqualValues(t, issuanceAmount, next.Value)

		// The previous generation is spent, the new one lives on
		// the ledger.
		_, ok := h.ledger.UTXO(prev.OutPoint)
		require.False(t, ok)
		_, ok = h.ledger.UTXO(next.OutPoint)
		require.True(t, ok)

		tip, err := l.TipInput(ctx)
		require.NoError(t, err)
		require.Equal(t, next.OutPoint, tip.OutPoint)

		prev = next
	}

	generations, err := l.Generations(ctx)
	require.NoError(t, err)
	require.Len(t, generations, 3)
	require.Equal(t, covdb.SpendFunding, generations[0].SpendPath)
	require.Equal(t, covdb.SpendScriptPath, generations[1].SpendPath)
	require.Equal(t, covdb.SpendScriptPath, generations[2].SpendPath)
}

// TestLineageBlindedChange runs a lineage against a wallet that blinds the
// change of every transaction it funds.
func TestLineageBlindedChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newLineageHarness(t, ledger.WithBlindedChange())
	l := h.newLineage("blinded", test.RandPubKey(t))

	generations, err := l.Generations(ctx)
	require.NoError(t, err)
	require.Len(t, generations, 1)

	funding, err := elwire.NewTxFromBytes(generations[0].RawTx)
	require.NoError(t, err)
	require.Equal(t, funding.TxHash(), generations[0].OutPoint.Hash)

	var blinded int
	for _, out := range funding.TxOut {
		if out.IsConfidential() {
			blinded++
		}
	}
	require.Equal(t, 1, blinded)

	tip, err := l.TipInput(ctx)
	require.NoError(t, err)
	require.EqualValues(t, issuanceAmount, tip.Value)
	require.Equal(t, l.Asset(), tip.Asset)

	result, err := l.Spend(ctx, h.counterparty())
	require.NoError(t, err)

	next, err := result.Input()
	require.NoError(t, err)
	tip, err = l.TipInput(ctx)
	require.NoError(t, err)
	require.Equal(t, next.OutPoint, tip.OutPoint)
}

// TestLineageRelease leaves a covenant through the key path after one
// generation and makes sure the lineage ends there.
func TestLineageRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newLineageHarness(t)

	internalKey := test.RandPrivKey(t)
	l := h.newLineage("release", internalKey.PubKey())

	_, err := l.Spend(ctx, h.counterparty())
	require.NoError(t, err)

	// Only the internal key can leave the covenant.
	_, err = l.Release(
		ctx, test.RandPrivKey(t), h.cpScript, h.counterparty(),
	)
	require.ErrorIs(t, err, covsend.ErrWrongKey)

	result, err := l.Release(ctx, internalKey, h.cpScript, h.counterparty())
	require.NoError(t, err)

	released, err := result.Input()
	require.NoError(t, err)
	require.Equal(t, h.cpScript, released.PkScript)
	require.Equal(t, l.Asset(), released.Asset)

	_, err = l.Spend(ctx, h.counterparty())
	require.ErrorIs(t, err, ErrLineageReleased)

	generations, err := l.Generations(ctx)
	require.NoError(t, err)
	require.Len(t, generations, 3)
	require.Equal(t, covdb.SpendKeyPath, generations[2].SpendPath)
}

// TestOpenLineage reopens a lineage from the journal and continues it.
func TestOpenLineage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newLineageHarness(t)
	created := h.newLineage("reopen", test.RandPubKey(t))

	_, err := NewLineage(
		ctx, h.cfg, "reopen", created.Covenant(), created.Asset(),
		issuanceAmount,
	)
	require.ErrorIs(t, err, covdb.ErrLineageExists)

	opened, err := OpenLineage(ctx, h.cfg, "reopen")
	require.NoError(t, err)
	require.Equal(
		t, created.Covenant().Full.Bytes(),
		opened.Covenant().Full.Bytes(),
	)

	_, err = opened.Spend(ctx, h.counterparty())
	require.NoError(t, err)

	_, err = OpenLineage(ctx, h.cfg, "unknown")
	require.ErrorIs(t, err, covdb.ErrLineageNotFound)

	otherNet := *h.cfg
	otherNet.Params = &address.LiquidTestNet
	_, err = OpenLineage(ctx, &otherNet, "reopen")
	require.ErrorIs(t, err, ErrNetworkMismatch)
}

// TestLineageFeeInputs checks the counterparty inputs of a spend.
func TestLineageFeeInputs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newLineageHarness(t)
	l := h.newLineage("fees", test.RandPubKey(t))

	params := h.counterparty()
	params.Counterparties[0].Input.Value = testFee - 1
	_, err := l.Spend(ctx, params)
	require.ErrorIs(t, err, ErrFeeInput)

	params = h.counterparty()
	params.ChangeScript = nil
	_, err = l.Spend(ctx, params)
	require.ErrorIs(t, err, ErrFeeInput)

	params = h.counterparty()
	params.Counterparties[0].Input.Asset = l.Asset()
	_, err = l.Spend(ctx, params)
	require.ErrorIs(t, err, ErrFeeInput)

	// Nothing was recorded for the failed attempts.
	generations, err := l.Generations(ctx)
	require.NoError(t, err)
	require.Len(t, generations, 1)
}

// TestLineageConcurrentSpends makes sure concurrent spends of one lineage
// are applied one after the other.
func TestLineageConcurrentSpends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newLineageHarness(t)
	l := h.newLineage("concurrent", test.RandPubKey(t))

	const numSpends = 3
	params := make([]*SpendParams, numSpends)
	for i := range params {
		params[i] = h.counterparty()
	}

	var g errgroup.Group
	for _, p := range params {
		p := p
		g.Go(func() error {
			_, err := l.Spend(ctx, p)
			return err
		})
	}
	require.NoError(t, g.Wait())

	generations, err := l.Generations(ctx)
	require.NoError(t, err)
	require.Len(t, generations, numSpends+1)
}
