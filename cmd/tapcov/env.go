package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog"
	"github.com/lightninglabs/tapcov"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/covcfg"
	"github.com/lightninglabs/tapcov/covdb"
	"github.com/lightninglabs/tapcov/covfreighter"
	"github.com/lightninglabs/tapcov/covsend"
	"github.com/lightninglabs/tapcov/ledger"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/urfave/cli"
)

// globalConfigFlags are the global flags handed on to the config parser.
var globalConfigFlags = []string{
	"tapcovdir", "configfile", "network", "ledger.host", "ledger.user",
	"ledger.pass", "debuglevel",
}

// env holds what the commands share once the config is loaded.
type env struct {
	cfg         *covcfg.Config
	log         btclog.Logger
	interceptor signal.Interceptor

	ledger *ledger.RPCClient
	store  *covdb.SqliteStore
}

// envKey is the app metadata key the env is stored under.
const envKey = "env"

// getEnv returns the env loadEnv stored in the app metadata.
func getEnv(ctx *cli.Context) *env {
	e, ok := ctx.App.Metadata[envKey].(*env)
	if !ok {
		fatal(fmt.Errorf("config not loaded"))
	}
	return e
}

// loadEnv parses the config, handing the global flags that were set on to
// the config parser so they override the config file. The env is stored in
// the metadata of the app, which sub command apps share.
func loadEnv(ctx *cli.Context, interceptor signal.Interceptor) error {
	var args []string
	for _, name := range globalConfigFlags {
		if ctx.GlobalIsSet(name) {
			args = append(args, fmt.Sprintf("--%s=%s", name,
				ctx.GlobalString(name)))
		}
	}

	cfg, cfgLog, err := covcfg.LoadConfig(args, interceptor)
	if err != nil {
		return err
	}

	ctx.App.Metadata[envKey] = &env{
		cfg:         cfg,
		log:         cfgLog,
		interceptor: interceptor,
	}
	return nil
}

// closeEnv releases the ledger connection and the database.
func closeEnv(ctx *cli.Context) {
	e, ok := ctx.App.Metadata[envKey].(*env)
	if !ok {
		return
	}
	if e.ledger != nil {
		e.ledger.Stop()
	}
	if e.store != nil {
		_ = e.store.DB.Close()
	}
	if e.cfg.LogWriter != nil {
		_ = e.cfg.LogWriter.Close()
	}
}

// context returns a context that is canceled on interrupt.
func (e *env) context() context.Context {
	ctxc, cancel := context.WithCancel(context.Background())
	go func() {
		<-e.interceptor.ShutdownChannel()
		cancel()
	}()
	return ctxc
}

func (e *env) params() *address.ChainParams {
	return e.cfg.ActiveNetParams
}

// getLedger connects to the ledger node.
func (e *env) getLedger() (*ledger.RPCClient, error) {
	if e.ledger != nil {
		return e.ledger, nil
	}

	rpcCfg, err := e.cfg.Ledger.RPCConfig()
	if err != nil {
		return nil, err
	}

	e.ledger, err = ledger.NewRPCClient(rpcCfg)
	if err != nil {
		return nil, err
	}
	return e.ledger, nil
}

func (e *env) getBroadcaster() (*covfreighter.Broadcaster, error) {
	client, err := e.getLedger()
	if err != nil {
		return nil, err
	}

	return covfreighter.NewBroadcaster(&covfreighter.BroadcasterConfig{
		Ledger:     client,
		Params:     e.params(),
		ConfBlocks: e.cfg.Ledger.ConfBlocks,
	}), nil
}

// getLineageConfig opens the journal and connects to the ledger.
func (e *env) getLineageConfig() (*tapcov.LineageConfig, error) {
	if e.store == nil {
		e.log.Infof("Opening sqlite3 database at: %v",
			e.cfg.DatabaseFileName)

		store, err := covdb.NewSqliteStore(e.cfg.SqliteConfig())
		if err != nil {
			return nil, fmt.Errorf("unable to open database: %w",
				err)
		}
		e.store = store
	}

	broadcaster, err := e.getBroadcaster()
	if err != nil {
		return nil, err
	}

	return &tapcov.LineageConfig{
		Journal:     covdb.NewSqliteJournal(e.store),
		Broadcaster: broadcaster,
		Params:      e.params(),
		Fee:         e.cfg.Amounts.Fee,
	}, nil
}

// requireKey returns a configured key that must be set.
func requireKey(name string, get func() (*btcec.PrivateKey,
	error)) (*btcec.PrivateKey, error) {

	key, err := get()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("--keys.%s must be set", name)
	}
	return key, nil
}

// fundCounterparty pays the configured counterparty amount of the policy
// asset from the node wallet to the counterparty key, as the fee input of
// the next spend.
func (e *env) fundCounterparty(ctx context.Context,
	broadcaster *covfreighter.Broadcaster) (*tapcov.SpendParams, error) {

	key, err := requireKey("counterparty", e.cfg.Keys.CounterpartyKey)
	if err != nil {
		return nil, err
	}

	keyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := address.EncodeWitness(0, keyHash, e.params())
	if err != nil {
		return nil, err
	}
	changeScript, err := address.WitnessScript(0, keyHash)
	if err != nil {
		return nil, err
	}

	funding, err := broadcaster.Fund(
		ctx, addr, btcutil.Amount(e.cfg.Amounts.Counterparty),
		e.params().PolicyAsset,
	)
	if err != nil {
		return nil, err
	}
	input, err := funding.Input()
	if err != nil {
		return nil, err
	}

	return &tapcov.SpendParams{
		Counterparties: []*covsend.Counterparty{{
			Input: input,
			Key:   key,
		}},
		ChangeScript: changeScript,
	}, nil
}

func printJSON(resp interface{}) {
	b, err := json.Marshal(resp)
	if err != nil {
		fatal(err)
	}

	var out bytes.Buffer
	_ = json.Indent(&out, b, "", "\t")
	out.WriteString("\n")
	_, _ = out.WriteTo(os.Stdout)
}
