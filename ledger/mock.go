package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/lightninglabs/tapcov/vm"
)

const (
	// mockWalletFee is the fee the mock wallet pays for its own
	// transactions.
	mockWalletFee = 100

	// mockInitialBalance is the policy asset balance of a new mock
	// wallet.
	mockInitialBalance = 21_000_000 * btcutil.SatoshiPerBitcoin
)

// mockTx is a transaction known to the mock ledger.
type mockTx struct {
	tx *elwire.MsgTx

	// height is the block the transaction was mined in, zero while it
	// is in the mempool.
	height uint32

	blockHash chainhash.Hash
}

// MockClient is an in-memory ledger with a single wallet. Submitted
// transactions are checked against the UTXO set, must conserve every asset
// and have each input verified by the covenant VM.
type MockClient struct {
	params *address.ChainParams

	mtx sync.Mutex

	utxos    map[wire.OutPoint]*elwire.TxOut
	txs      map[chainhash.Hash]*mockTx
	balances map[elwire.AssetID]btcutil.Amount
	height   uint32

	blindChange bool
}

// MockOption configures a MockClient.
type MockOption func(*MockClient)

// WithBlindedChange makes every wallet transaction carry a blinded change
// output, the way a node wallet does by default.
func WithBlindedChange() MockOption {
	return func(m *MockClient) {
		m.blindChange = true
	}
}

// A compile time assertion to ensure MockClient meets the Client interface.
var _ Client = (*MockClient)(nil)

// NewMockClient creates a mock ledger for the given network.
func NewMockClient(params *address.ChainParams,
	opts ...MockOption) *MockClient {

	m := &MockClient{
		params: params,
		utxos:  make(map[wire.OutPoint]*elwire.TxOut),
		txs:    make(map[chainhash.Hash]*mockTx),
		balances: map[elwire.AssetID]btcutil.Amount{
			params.PolicyAsset: mockInitialBalance,
		},
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

func randHash() (chainhash.Hash, error) {
	var h chainhash.Hash
	_, err := rand.Read(h[:])
	return h, err
}

func randBytes(prefix byte, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	b[0] = prefix
	return b, nil
}

// blindedChange returns a change output of the wallet with random
// commitments and proofs in place of a real blinding.
func (m *MockClient) blindedChange() (*elwire.TxOut, error) {
	script, err := m.newWalletScript()
	if err != nil {
		return nil, err
	}

	out := &elwire.TxOut{Script: script}
	fields := []struct {
		dst    *[]byte
		prefix byte
		size   int
	}{
		{&out.AssetCommitment, 0x0a, 33},
		{&out.ValueCommitment, 0x08, 33},
		{&out.Nonce, 0x02, 33},
		{&out.SurjectionProof, 0x01, 67},
		{&out.RangeProof, 0x60, 2893},
	}
	for _, f := range fields {
		*f.dst, err = randBytes(f.prefix, f.size)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// walletTx creates a transaction of the wallet that pays the given outputs
// from a coin outside of the tracked UTXO set and adds it to the mempool.
//
// NOTE: The mutex must be held.
func (m *MockClient) walletTx(outputs ...*elwire.TxOut) (*chainhash.Hash,
	error) {

	coin, err := randHash()
	if err != nil {
		return nil, err
	}

	tx := elwire.NewMsgTx(elwire.TxVersion)
	tx.AddTxIn(elwire.NewTxIn(wire.NewOutPoint(&coin, 0)))
	for _, out := range outputs {
		tx.AddTxOut(out)
	}
	if m.blindChange {
		change, err := m.blindedChange()
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(change)
	}
	tx.AddTxOut(elwire.NewTxOut(m.params.PolicyAsset, mockWalletFee, nil))

	m.addTx(tx)

	txid := tx.TxHash()
	return &txid, nil
}

// addTx adds the outputs of tx to the UTXO set and tx to the mempool.
//
// NOTE: The mutex must be held.
func (m *MockClient) addTx(tx *elwire.MsgTx) {
	txid := tx.TxHash()
	for i, out := range tx.TxOut {
		if out.IsFee() {
			continue
		}
		m.utxos[wire.OutPoint{Hash: txid, Index: uint32(i)}] = out
	}
	m.txs[txid] = &mockTx{tx: tx}
}

// debit takes amount of asset plus the wallet fee out of the wallet.
//
// NOTE: The mutex must be held.
func (m *MockClient) debit(asset elwire.AssetID, amount btcutil.Amount) error {
	fee := btcutil.Amount(mockWalletFee)
	if asset == m.params.PolicyAsset {
		amount += fee
		fee = 0
	}

	switch {
	case m.balances[asset] < amount:
		return fmt.Errorf("%w: have %v of %v, need %v",
			ErrInsufficientFunds, int64(m.balances[asset]), asset,
			int64(amount))

	case m.balances[m.params.PolicyAsset] < fee:
		return fmt.Errorf("%w: no funds for fee", ErrInsufficientFunds)
	}

	m.balances[asset] -= amount
	m.balances[m.params.PolicyAsset] -= fee
	return nil
}

// IssueAsset creates a new asset held by the wallet.
func (m *MockClient) IssueAsset(_ context.Context, amount,
	tokenAmount btcutil.Amount) (*Issuance, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if err := m.debit(m.params.PolicyAsset, 0); err != nil {
		return nil, err
	}

	assetHash, err := randHash()
	if err != nil {
		return nil, err
	}
	tokenHash, err := randHash()
	if err != nil {
		return nil, err
	}
	issuance := &Issuance{
		Asset: elwire.AssetID(assetHash),
		Token: elwire.AssetID(tokenHash),
	}

	walletScript, err := m.newWalletScript()
	if err != nil {
		return nil, err
	}
	outputs := []*elwire.TxOut{
		elwire.NewTxOut(issuance.Asset, uint64(amount), walletScript),
	}
	if tokenAmount > 0 {
		outputs = append(outputs, elwire.NewTxOut(
			issuance.Token, uint64(tokenAmount), walletScript,
		))
	}

	txid, err := m.walletTx(outputs...)
	if err != nil {
		return nil, err
	}
	issuance.TxID = *txid

	m.balances[issuance.Asset] += amount
	m.balances[issuance.Token] += tokenAmount

	log.Debugf("Mock ledger issued %v units of %v", int64(amount),
		issuance.Asset)

	return issuance, nil
}

// SendToAddress pays from the wallet balance of asset.
func (m *MockClient) SendToAddress(_ context.Context, addr string,
	amount btcutil.Amount, asset elwire.AssetID) (*chainhash.Hash, error) {

	pkScript, err := address.ToOutputScript(addr, m.params)
	if err != nil {
		return nil, err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if err := m.debit(asset, amount); err != nil {
		return nil, err
	}

	return m.walletTx(elwire.NewTxOut(asset, uint64(amount), pkScript))
}

// GetRawTransaction returns the verbose form of a known transaction.
func (m *MockClient) GetRawTransaction(_ context.Context,
	txid chainhash.Hash) (*RawTx, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	known, ok := m.txs[txid]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrTxNotFound, txid)
	}

	rawTx, err := m.verbose(known)
	if err != nil {
		return nil, err
	}

	return rawTx, nil
}

// verbose renders a transaction the way getrawtransaction does.
//
// NOTE: The mutex must be held.
func (m *MockClient) verbose(known *mockTx) (*RawTx, error) {
	hexTx, err := known.tx.Hex()
	if err != nil {
		return nil, err
	}

	rawTx := &RawTx{
		TxID: known.tx.TxHash().String(),
		Hash: known.tx.WitnessHash().String(),
		Hex:  hexTx,
	}
	if known.height > 0 {
		rawTx.BlockHash = known.blockHash.String()
		rawTx.Confirmations = m.height - known.height + 1
	}

	for i, out := range known.tx.TxOut {
		rawOut := RawTxOut{N: uint32(i)}
		if out.IsConfidential() {
			rawOut.AssetCommitment = hex.EncodeToString(
				out.AssetCommitment,
			)
			rawOut.ValueCommitment = hex.EncodeToString(
				out.ValueCommitment,
			)
		} else {
			rawOut.Value = btcutil.Amount(out.Value).ToBTC()
			rawOut.Asset = out.Asset.String()
		}

		if out.IsFee() {
			rawOut.ScriptPubKey.Type = "fee"
		} else {
			asm, _ := txscript.DisasmString(out.Script)
			rawOut.ScriptPubKey = ScriptPubKey{
				Asm:  asm,
				Hex:  fmt.Sprintf("%x", out.Script),
				Type: txscript.GetScriptClass(out.Script).String(),
			}
			addr, err := address.FromOutputScript(
				out.Script, m.params,
			)
			if err == nil {
				rawOut.ScriptPubKey.Address = addr
			}
		}

		rawTx.Vout = append(rawTx.Vout, rawOut)
	}

	return rawTx, nil
}

// SendRawTransaction validates tx against the UTXO set and the covenant VM
// and adds it to the mempool.
func (m *MockClient) SendRawTransaction(_ context.Context,
	rawTx []byte) (*chainhash.Hash, error) {

	tx, err := elwire.NewTxFromBytes(rawTx)
	if err != nil {
		return nil, fmt.Errorf("%w: TX decode failed: %v",
			ErrTxRejected, err)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	txid := tx.TxHash()
	if _, ok := m.txs[txid]; ok {
		return nil, fmt.Errorf("%w: txn-already-known", ErrTxRejected)
	}

	prevOuts := make([]*elwire.TxOut, 0, len(tx.TxIn))
	seen := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	balance := make(map[elwire.AssetID]int64)
	for _, txIn := range tx.TxIn {
		op := txIn.PreviousOutPoint
		if _, ok := seen[op]; ok {
			return nil, fmt.Errorf("%w: bad-txns-inputs-duplicate",
				ErrTxRejected)
		}
		seen[op] = struct{}{}

		prevOut, ok := m.utxos[op]
		if !ok {
			return nil, fmt.Errorf("%w: bad-txns-inputs-"+
				"missingorspent %v", ErrTxRejected, op)
		}
		if prevOut.IsConfidential() {
			return nil, fmt.Errorf("%w: mock cannot spend blinded "+
				"output %v", ErrTxRejected, op)
		}
		prevOuts = append(prevOuts, prevOut)
		balance[prevOut.Asset] += int64(prevOut.Value)
	}

	hasFee := false
	for i, out := range tx.TxOut {
		if out.IsConfidential() {
			return nil, fmt.Errorf("%w: mock cannot balance "+
				"blinded output %d", ErrTxRejected, i)
		}
		balance[out.Asset] -= int64(out.Value)
		if out.IsFee() {
			hasFee = true
		}
	}
	if !hasFee {
		return nil, fmt.Errorf("%w: missing fee output", ErrTxRejected)
	}
	for asset, diff := range balance {
		if diff != 0 {
			return nil, fmt.Errorf("%w: bad-txns-in-ne-out, "+
				"asset %v off by %d", ErrTxRejected, asset,
				diff)
		}
	}

	err = vm.VerifyTx(tx, prevOuts, m.params.GenesisHash)
	if err != nil {
		return nil, fmt.Errorf("%w: non-mandatory-script-verify-flag "+
			"(%v)", ErrTxRejected, err)
	}

	for op := range seen {
		delete(m.utxos, op)
	}
	m.addTx(tx)

	log.Debugf("Mock ledger accepted %v", txid)

	return &txid, nil
}

// newWalletScript returns the P2WPKH script of a fresh key.
func (m *MockClient) newWalletScript() ([]byte, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	return address.WitnessScript(
		0, btcutil.Hash160(key.PubKey().SerializeCompressed()),
	)
}

// GetNewAddress returns the address of a fresh key. The mock never spends
// from it.
func (m *MockClient) GetNewAddress(context.Context) (string, error) {
	pkScript, err := m.newWalletScript()
	if err != nil {
		return "", err
	}

	return address.FromOutputScript(pkScript, m.params)
}

// GenerateToAddress mines all mempool transactions into the first of
// numBlocks new blocks.
func (m *MockClient) GenerateToAddress(_ context.Context, numBlocks uint32,
	_ string) ([]chainhash.Hash, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	hashes := make([]chainhash.Hash, 0, numBlocks)
	for i := uint32(0); i < numBlocks; i++ {
		blockHash, err := randHash()
		if err != nil {
			return nil, err
		}
		m.height++

		for _, known := range m.txs {
			if known.height == 0 {
				known.height = m.height
				known.blockHash = blockHash
			}
		}

		hashes = append(hashes, blockHash)
	}

	return hashes, nil
}

// UTXO returns the unspent output at op, if any.
func (m *MockClient) UTXO(op wire.OutPoint) (*elwire.TxOut, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	out, ok := m.utxos[op]
	return out, ok
}

// Balance returns the wallet balance of asset.
func (m *MockClient) Balance(asset elwire.AssetID) btcutil.Amount {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.balances[asset]
}
