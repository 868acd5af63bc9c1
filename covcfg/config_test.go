package covcfg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/internal/test"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/stretchr/testify/require"
)

// TestLoadConfig loads a config file from a custom directory and makes sure
// command line options take precedence.
func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	confFile := filepath.Join(dir, defaultConfigFileName)
	err := os.WriteFile(confFile, []byte(
		"[Application Options]\n"+
			"network=liquidtestnet\n"+
			"debuglevel=debug\n",
	), 0600)
	require.NoError(t, err)

	cfg, cfgLogger, err := LoadConfig([]string{
		"--tapcovdir=" + dir,
		"--debuglevel=trace",
		"--amounts.fee=500",
		"--ledger.host=127.0.0.1:7041",
	}, signal.Interceptor{})
	require.NoError(t, err)
	require.NotNil(t, cfgLogger)

	// The file picked the network, the command line the rest.
	require.Equal(t, &address.LiquidTestNet, cfg.ActiveNetParams)
	require.Equal(t, "trace", cfg.DebugLevel)
	require.EqualValues(t, 500, cfg.Amounts.Fee)
	require.Equal(t, "127.0.0.1:7041", cfg.Ledger.Host)

	// Untouched options keep their defaults.
	require.EqualValues(t, defaultIssuanceAmount, cfg.Amounts.Issuance)
	require.EqualValues(t, defaultOfferAmount, cfg.Amounts.Offer)
	require.EqualValues(t, 10, cfg.Ledger.ConfBlocks)

	// Everything lives below the custom directory, namespaced by network.
	require.Equal(t, filepath.Join(
		dir, defaultDataDirname, "liquidtestnet", defaultSqliteFileName,
	), cfg.DatabaseFileName)
	require.Equal(
		t, filepath.Join(dir, defaultLogDirname, "liquidtestnet"),
		cfg.LogDir,
	)
	require.DirExists(t, filepath.Dir(cfg.DatabaseFileName))
	require.True(t, cfg.SqliteConfig().CreateTables)
}

// TestLoadConfigErrors checks invalid option combinations.
func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := LoadConfig([]string{
		"--tapcovdir=" + dir, "--network=bitcoin",
	}, signal.Interceptor{})
	require.Error(t, err)

	_, _, err = LoadConfig([]string{
		"--tapcovdir=" + dir,
		"--configfile=" + filepath.Join(dir, "missing.conf"),
	}, signal.Interceptor{})
	require.ErrorContains(t, err, "does not exist")

	_, _, err = LoadConfig([]string{
		"--tapcovdir=" + dir, "--amounts.fee=0",
	}, signal.Interceptor{})
	require.ErrorContains(t, err, "fee must be positive")
}

// TestParseKey decodes WIF keys.
func TestParseKey(t *testing.T) {
	t.Parallel()

	privKey := test.RandPrivKey(t)
	wif, err := btcutil.NewWIF(privKey, &chaincfg.RegressionNetParams, true)
	require.NoError(t, err)

	keys := &KeysConfig{
		Internal: wif.String(),
		Signer:   "not a key",
	}

	internal, err := keys.InternalKey()
	require.NoError(t, err)
	require.Equal(t, privKey.Serialize(), internal.Serialize())

	counterparty, err := keys.CounterpartyKey()
	require.NoError(t, err)
	require.Nil(t, counterparty)

	_, err = keys.SignerKey()
	require.ErrorContains(t, err, "invalid WIF key")
}

// TestLedgerPasswordPrompt makes sure the password is only prompted for
// when a user but no password is configured.
func TestLedgerPasswordPrompt(t *testing.T) {
	prompted := 0
	oldRead := ReadPassword
	ReadPassword = func() ([]byte, error) {
		prompted++
		return []byte("secret"), nil
	}
	t.Cleanup(func() {
		ReadPassword = oldRead
	})

	rpcCfg, err := (&LedgerConfig{
		Host: "localhost:7041",
		User: "user",
		Pass: "pass",
	}).RPCConfig()
	require.NoError(t, err)
	require.Equal(t, "pass", rpcCfg.Pass)
	require.Zero(t, prompted)

	rpcCfg, err = (&LedgerConfig{
		Host: "localhost:7041",
		User: "user",
	}).RPCConfig()
	require.NoError(t, err)
	require.Equal(t, "secret", rpcCfg.Pass)
	require.Equal(t, 1, prompted)

	ReadPassword = func() ([]byte, error) {
		return nil, errors.New("no terminal")
	}
	_, err = (&LedgerConfig{User: "user"}).RPCConfig()
	require.ErrorContains(t, err, "no terminal")
}
