//go:build itest

package itest

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/ledger"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
)

const (
	elementsImage = "blockstream/elementsd"
	elementsTag   = "22.1.1"

	elementsRPCPort = "18884"
	elementsRPCUser = "tapcov"
	elementsRPCPass = "tapcov"

	elementsWallet = "tapcov"

	// elementsStartTimeout is how long we wait for the node to answer
	// RPC calls.
	elementsStartTimeout = time.Minute
)

// elementsHarness is an elementsd regtest node running in a docker
// container.
type elementsHarness struct {
	pool     *dockertest.Pool
	resource *dockertest.Resource

	host string

	// Ledger is connected to the node's wallet.
	Ledger *ledger.RPCClient

	// Params are the parameters of the node's chain.
	Params *address.ChainParams
}

// newElementsHarness starts a fresh node, creates a wallet and claims the
// initial free coins of the chain. The container is removed when the test
// ends.
func newElementsHarness(t *testing.T) *elementsHarness {
	pool, err := dockertest.NewPool("")
	require.NoError(t, err)

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: elementsImage,
		Tag:        elementsTag,
		Cmd: []string{
			"elementsd",
			"-chain=" + address.LiquidRegTest.Name,
			"-validatepegin=0",
			"-initialfreecoins=2100000000000000",
			"-txindex=1",
			"-fallbackfee=0.0001",
			"-rpcuser=" + elementsRPCUser,
			"-rpcpassword=" + elementsRPCPass,
			"-rpcbind=0.0.0.0",
			"-rpcallowip=0.0.0.0/0",
			"-rpcport=" + elementsRPCPort,
		},
		ExposedPorts: []string{elementsRPCPort + "/tcp"},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)

	h := &elementsHarness{
		pool:     pool,
		resource: resource,
		host:     resource.GetHostPort(elementsRPCPort + "/tcp"),
		Params:   &address.LiquidRegTest,
	}
	t.Cleanup(func() {
		if h.Ledger != nil {
			h.Ledger.Stop()
		}
		require.NoError(t, pool.Purge(resource))
	})

	// The raw client is only needed for the wallet setup calls the
	// ledger interface does not cover.
	raw, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         h.host,
		User:         elementsRPCUser,
		Pass:         elementsRPCPass,
		DisableTLS:   true,
		HTTPPostMode: true,
	}, nil)
	require.NoError(t, err)
	defer raw.Shutdown()

	pool.MaxWait = elementsStartTimeout
	err = pool.Retry(func() error {
		_, err := raw.RawRequest("getblockchaininfo", nil)
		return err
	})
	require.NoError(t, err)

	walletName, err := json.Marshal(elementsWallet)
	require.NoError(t, err)
	_, err = raw.RawRequest(
		"createwallet", []json.RawMessage{walletName},
	)
	require.NoError(t, err)

	// The free coins of the chain are anyone-can-spend outputs the new
	// wallet only sees after a rescan.
	_, err = raw.RawRequest("rescanblockchain", nil)
	require.NoError(t, err)

	h.Ledger, err = ledger.NewRPCClient(&ledger.RPCConfig{
		Host: fmt.Sprintf(
			"%s/wallet/%s", h.host, elementsWallet,
		),
		User:       elementsRPCUser,
		Pass:       elementsRPCPass,
		DisableTLS: true,
	})
	require.NoError(t, err)

	return h
}
