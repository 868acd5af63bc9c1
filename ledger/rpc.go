package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/lightninglabs/tapcov/elwire"
)

// RPC error codes of the node that map to ledger errors.
const (
	rpcInvalidAddressOrKey  = -5
	rpcWalletInsufficient   = -6
	rpcVerifyError          = -25
	rpcVerifyRejected       = -26
	rpcVerifyAlreadyInChain = -27
)

// RPCConfig holds the connection parameters of the node RPC.
type RPCConfig struct {
	// Host is the host:port of the RPC server, optionally followed by a
	// wallet path such as /wallet/name.
	Host string

	// User is the RPC user name.
	User string

	// Pass is the RPC password.
	Pass string

	// DisableTLS connects over plain HTTP, as used on regtest.
	DisableTLS bool
}

// RPCClient is a Client backed by the JSON-RPC interface of an elementsd
// node.
type RPCClient struct {
	client *rpcclient.Client
}

// A compile time assertion to ensure RPCClient meets the Client interface.
var _ Client = (*RPCClient)(nil)

// NewRPCClient creates a new client in HTTP POST mode. No connection is made
// until the first request.
func NewRPCClient(cfg *RPCConfig) (*RPCClient, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		DisableTLS:   cfg.DisableTLS,
		HTTPPostMode: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create rpc client: %w", err)
	}

	return &RPCClient{
		client: client,
	}, nil
}

// Stop shuts down the underlying client.
func (r *RPCClient) Stop() {
	r.client.Shutdown()
}

// request performs a raw RPC call and decodes its result into result. The
// wait for the response is abandoned once ctx is done.
func (r *RPCClient) request(ctx context.Context, method string,
	result interface{}, args ...interface{}) error {

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%v: %w", method, err)
	}

	params := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		param, err := json.Marshal(arg)
		if err != nil {
			return err
		}
		params = append(params, param)
	}

	log.Tracef("Calling %v with %d params", method, len(params))

	type response struct {
		raw json.RawMessage
		err error
	}
	respChan := make(chan response, 1)

	future := r.client.RawRequestAsync(method, params)
	go func() {
		raw, err := future.Receive()
		respChan <- response{raw: raw, err: err}
	}()

	var resp response
	select {
	case resp = <-respChan:
	case <-ctx.Done():
		return fmt.Errorf("%v: %w", method, ctx.Err())
	}

	if resp.err != nil {
		return fmt.Errorf("%v: %w", method, mapRPCError(resp.err))
	}
	if result == nil {
		return nil
	}

	if err := json.Unmarshal(resp.raw, result); err != nil {
		return fmt.Errorf("unable to decode %v result: %w", method,
			err)
	}

	return nil
}

// mapRPCError translates node error codes into ledger errors, keeping the
// node's message.
func mapRPCError(err error) error {
	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}

	switch rpcErr.Code {
	case rpcInvalidAddressOrKey:
		return fmt.Errorf("%w: %v", ErrTxNotFound, rpcErr.Message)

	case rpcWalletInsufficient:
		return fmt.Errorf("%w: %v", ErrInsufficientFunds,
			rpcErr.Message)

	case rpcVerifyError, rpcVerifyRejected, rpcVerifyAlreadyInChain:
		return fmt.Errorf("%w: %v", ErrTxRejected, rpcErr.Message)

	default:
		return err
	}
}

func decodeHash(s string) (*chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}

// IssueAsset issues an unblinded asset to the node's wallet.
func (r *RPCClient) IssueAsset(ctx context.Context, amount,
	tokenAmount btcutil.Amount) (*Issuance, error) {

	var resp struct {
		TxID  string `json:"txid"`
		Vin   uint32 `json:"vin"`
		Asset string `json:"asset"`
		Token string `json:"token"`
	}
	err := r.request(
		ctx, "issueasset", &resp, amount.ToBTC(), tokenAmount.ToBTC(),
		false,
	)
	if err != nil {
		return nil, err
	}

	txid, err := decodeHash(resp.TxID)
	if err != nil {
		return nil, err
	}
	asset, err := elwire.NewAssetIDFromStr(resp.Asset)
	if err != nil {
		return nil, err
	}

	issuance := &Issuance{
		TxID:  *txid,
		Vin:   resp.Vin,
		Asset: asset,
	}
	if resp.Token != "" {
		issuance.Token, err = elwire.NewAssetIDFromStr(resp.Token)
		if err != nil {
			return nil, err
		}
	}

	log.Debugf("Issued %v units of asset %v in %v", int64(amount),
		asset, txid)

	return issuance, nil
}

// SendToAddress pays amount units of asset to addr.
func (r *RPCClient) SendToAddress(ctx context.Context, addr string,
	amount btcutil.Amount, asset elwire.AssetID) (*chainhash.Hash, error) {

	// comment, comment_to, subtractfeefromamount, replaceable,
	// conf_target, estimate_mode and avoid_reuse keep their defaults so
	// the asset label can be passed.
	var txid string
	err := r.request(
		ctx, "sendtoaddress", &txid, addr, amount.ToBTC(), "", "",
		false, false, 1, "UNSET", false, asset.String(),
	)
	if err != nil {
		return nil, err
	}

	return decodeHash(txid)
}

// GetRawTransaction returns the verbose form of a transaction.
func (r *RPCClient) GetRawTransaction(ctx context.Context,
	txid chainhash.Hash) (*RawTx, error) {

	var rawTx RawTx
	err := r.request(ctx, "getrawtransaction", &rawTx, txid.String(), true)
	if err != nil {
		return nil, err
	}

	return &rawTx, nil
}

// SendRawTransaction submits a serialized transaction.
func (r *RPCClient) SendRawTransaction(ctx context.Context,
	rawTx []byte) (*chainhash.Hash, error) {

	var txid string
	err := r.request(
		ctx, "sendrawtransaction", &txid, hex.EncodeToString(rawTx),
	)
	if err != nil {
		return nil, err
	}

	return decodeHash(txid)
}

// GetNewAddress returns a fresh unconfidential bech32 address.
func (r *RPCClient) GetNewAddress(ctx context.Context) (string, error) {
	var addr string
	err := r.request(ctx, "getnewaddress", &addr, "", "bech32")
	if err != nil {
		return "", err
	}

	// Wallet addresses are confidential by default, the unconfidential
	// form pays to explicit outputs.
	var info struct {
		Unconfidential string `json:"unconfidential"`
	}
	err = r.request(ctx, "getaddressinfo", &info, addr)
	if err != nil {
		return "", err
	}
	if info.Unconfidential == "" {
		return addr, nil
	}

	return info.Unconfidential, nil
}

// GenerateToAddress mines blocks, only available on regtest.
func (r *RPCClient) GenerateToAddress(ctx context.Context, numBlocks uint32,
	addr string) ([]chainhash.Hash, error) {

	var hashStrs []string
	err := r.request(ctx, "generatetoaddress", &hashStrs, numBlocks, addr)
	if err != nil {
		return nil, err
	}

	hashes := make([]chainhash.Hash, 0, len(hashStrs))
	for _, s := range hashStrs {
		h, err := decodeHash(s)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, *h)
	}

	return hashes, nil
}
