package address

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/tapcov/elwire"
)

// Human-readable prefixes for unconfidential segwit addresses on each
// Elements network.
const (
	Bech32HRPLiquidMainnet = "ex"
	Bech32HRPLiquidTestnet = "tex"
	Bech32HRPLiquidRegtest = "ert"
)

var (
	// ErrUnsupportedHRP is returned when an address carries a human
	// readable part that belongs to no registered network.
	ErrUnsupportedHRP = errors.New("unsupported address hrp")

	// ErrUnknownNetwork is returned when looking up a network by an
	// unknown name.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrDuplicateNet is returned when registering a network twice.
	ErrDuplicateNet = errors.New("network already registered")
)

// ChainParams defines an Elements network by the parameters the covenant
// tooling needs: its address prefix, the genesis block hash that taproot
// signature hashes commit to and the policy (fee) asset.
type ChainParams struct {
	// Name is the chain name as known by the node, e.g. "liquidv1".
	Name string

	// Bech32HRP is the prefix of unconfidential segwit addresses.
	Bech32HRP string

	// GenesisHash is the hash of the network's genesis block, in internal
	// byte order.
	GenesisHash chainhash.Hash

	// PolicyAsset is the asset fees are paid in.
	PolicyAsset elwire.AssetID
}

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *h
}

var (
	// LiquidMainNet is the Liquid production network.
	LiquidMainNet = ChainParams{
		Name:      "liquidv1",
		Bech32HRP: Bech32HRPLiquidMainnet,
		GenesisHash: mustHash(
			"1466275836220db2944ca059a3a10ef6fd2ea684b0688d2c37929" +
				"6888a206003",
		),
		PolicyAsset: elwire.MustAssetID(
			"6f0279e9ed041c3d710a9f57d0c02928416460c4b722ae3457a11" +
				"eec381c526d",
		),
	}

	// LiquidTestNet is the public Liquid test network.
	LiquidTestNet = ChainParams{
		Name:      "liquidtestnet",
		Bech32HRP: Bech32HRPLiquidTestnet,
		GenesisHash: mustHash(
			"a771da8e52ee6ad581ed1e9a99825e5b3b7992225534eaa2ae232" +
				"44fe26ab1c1",
		),
		PolicyAsset: elwire.MustAssetID(
			"144c654344aa716d6f3abcc1ca90e5641e4e2a7f633bc09fe3baf" +
				"64585819a49",
		),
	}

	// LiquidRegTest is a local Liquid regression test network.
	LiquidRegTest = ChainParams{
		Name:      "liquidregtest",
		Bech32HRP: Bech32HRPLiquidRegtest,
		GenesisHash: mustHash(
			"00902a6b70c2ca83b5d9c815d96a0e2f4202179316970d14ea184" +
				"7dae5b1ca21",
		),
		PolicyAsset: elwire.MustAssetID(
			"5ac9f65c0efcc4775e0baec4ec03abdde22473cd3cf33c0419ca2" +
				"90e0751b225",
		),
	}
)

var (
	netsMtx sync.RWMutex

	// registeredNets maps network names to their parameters.
	registeredNets = map[string]*ChainParams{
		LiquidMainNet.Name: &LiquidMainNet,
		LiquidTestNet.Name: &LiquidTestNet,
		LiquidRegTest.Name: &LiquidRegTest,
	}
)

// Register adds a custom network, e.g. a differently configured regtest
// chain, to the set of known networks.
func Register(params *ChainParams) error {
	netsMtx.Lock()
	defer netsMtx.Unlock()

	if _, ok := registeredNets[params.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNet, params.Name)
	}

	registeredNets[params.Name] = params
	return nil
}

// Net returns the parameters of the network with the given name.
func Net(name string) (*ChainParams, error) {
	netsMtx.RLock()
	defer netsMtx.RUnlock()

	params, ok := registeredNets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}

	return params, nil
}

// IsForNet returns whether or not the HRP is associated with the passed
// network.
func IsForNet(hrp string, net *ChainParams) bool {
	return strings.ToLower(hrp) == net.Bech32HRP
}
