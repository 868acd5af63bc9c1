package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/tapcov"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/covfreighter"
	"github.com/lightninglabs/tapcov/covscript"
	"github.com/lightninglabs/tapcov/elwire"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

const (
	assetName       = "asset"
	amountName      = "amount"
	outputIndexName = "output_index"
	addrName        = "addr"
	lineageName     = "name"
	destName        = "dest"
	tokenAmountName = "token_amount"
)

var covenantFlags = []cli.Flag{
	cli.StringFlag{
		Name:  assetName,
		Usage: "the asset id the covenant keeps locked",
	},
	cli.Uint64Flag{
		Name: amountName,
		Usage: "the amount the covenant keeps locked, defaults to " +
			"the configured issuance amount",
	},
	cli.Uint64Flag{
		Name:  outputIndexName,
		Usage: "the output the covenant recreates itself at",
	},
}

// covenantFromFlags assembles the covenant described by the covenant flags
// and the configured keys.
func covenantFromFlags(ctx *cli.Context) (*covscript.Covenant,
	elwire.AssetID, uint64, error) {

	var asset elwire.AssetID

	e := getEnv(ctx)
	internalKey, err := requireKey("internal", e.cfg.Keys.InternalKey)
	if err != nil {
		return nil, asset, 0, err
	}

	asset, err = elwire.NewAssetIDFromStr(ctx.String(assetName))
	if err != nil {
		return nil, asset, 0, err
	}

	amount := ctx.Uint64(amountName)
	if amount == 0 {
		amount = e.cfg.Amounts.Issuance
	}
	outputIndex := uint32(ctx.Uint64(outputIndexName))

	cfg := covscript.CovenantConfig{
		InternalKey: internalKey.PubKey(),
		OutputIndex: outputIndex,
		Conditions: covscript.DefaultConditions(
			outputIndex, asset, amount,
		),
	}

	signer, err := e.cfg.Keys.SignerKey()
	if err != nil {
		return nil, asset, 0, err
	}
	if signer != nil {
		cfg.Prefix = covscript.SignerCheck(signer.PubKey())
	}

	c, err := covscript.NewCovenant(cfg)
	if err != nil {
		return nil, asset, 0, err
	}

	return c, asset, amount, nil
}

var scriptCommand = cli.Command{
	Name:  "script",
	Usage: "Print the leaf script of a covenant.",
	Description: "Assembles the self verifying leaf script that keeps " +
		"an amount of an asset locked under the configured internal " +
		"key.",
	Flags:  covenantFlags,
	Action: printScript,
}

func printScript(ctx *cli.Context) error {
	c, _, _, err := covenantFromFlags(ctx)
	if err != nil {
		return err
	}

	printJSON(struct {
		Asm  string `json:"asm"`
		Hex  string `json:"hex"`
		Size int    `json:"size"`
		Tail string `json:"tail"`
	}{
		Asm:  c.Full.String(),
		Hex:  hex.EncodeToString(c.Full.Bytes()),
		Size: c.Full.Len(),
		Tail: hex.EncodeToString(c.Tail.Bytes()),
	})
	return nil
}

var addressCommand = cli.Command{
	Name:   "address",
	Usage:  "Derive the address of a covenant.",
	Flags:  covenantFlags,
	Action: printAddress,
}

func printAddress(ctx *cli.Context) error {
	c, _, _, err := covenantFromFlags(ctx)
	if err != nil {
		return err
	}

	out, err := c.Output(getEnv(ctx).params())
	if err != nil {
		return err
	}

	printJSON(struct {
		Address     string `json:"address"`
		PkScript    string `json:"pk_script"`
		InternalKey string `json:"internal_key"`
		OutputKey   string `json:"output_key"`
		LeafHash    string `json:"leaf_hash"`
		Tweak       string `json:"tweak"`
	}{
		Address:  out.Address,
		PkScript: hex.EncodeToString(out.PkScript),
		InternalKey: hex.EncodeToString(
			schnorr.SerializePubKey(out.InternalKey),
		),
		OutputKey: hex.EncodeToString(
			schnorr.SerializePubKey(out.OutputKey),
		),
		LeafHash: hex.EncodeToString(out.LeafHash[:]),
		Tweak:    hex.EncodeToString(out.Tweak[:]),
	})
	return nil
}

var issueCommand = cli.Command{
	Name:  "issue",
	Usage: "Issue a new asset from the ledger wallet.",
	Flags: []cli.Flag{
		cli.Uint64Flag{
			Name: amountName,
			Usage: "the amount to issue, defaults to the " +
				"configured issuance amount",
		},
		cli.Uint64Flag{
			Name:  tokenAmountName,
			Usage: "the amount of reissuance tokens",
		},
	},
	Action: issueAsset,
}

func issueAsset(ctx *cli.Context) error {
	e := getEnv(ctx)
	ctxc := e.context()
	client, err := e.getLedger()
	if err != nil {
		return err
	}

	amount := ctx.Uint64(amountName)
	if amount == 0 {
		amount = e.cfg.Amounts.Issuance
	}

	issuance, err := client.IssueAsset(
		ctxc, btcutil.Amount(amount),
		btcutil.Amount(ctx.Uint64(tokenAmountName)),
	)
	if err != nil {
		return err
	}

	printJSON(struct {
		TxID  string `json:"txid"`
		Vin   uint32 `json:"vin"`
		Asset string `json:"asset"`
		Token string `json:"token"`
	}{
		TxID:  issuance.TxID.String(),
		Vin:   issuance.Vin,
		Asset: issuance.Asset.String(),
		Token: issuance.Token.String(),
	})
	return nil
}

var fundCommand = cli.Command{
	Name:  "fund",
	Usage: "Pay an asset from the ledger wallet to an address.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  addrName,
			Usage: "the unconfidential address to pay to",
		},
		cli.StringFlag{
			Name: assetName,
			Usage: "the asset to pay, defaults to the policy " +
				"asset",
		},
		cli.Uint64Flag{
			Name:  amountName,
			Usage: "the amount to pay",
		},
	},
	Action: fundAddress,
}

func printSpendResult(result *covfreighter.SpendResult) {
	printJSON(struct {
		TxID          string `json:"txid"`
		OutputIndex   int    `json:"output_index"`
		Confirmations uint32 `json:"confirmations"`
	}{
		TxID:          result.Tx.TxID,
		OutputIndex:   result.OutputIndex,
		Confirmations: result.Tx.Confirmations,
	})
}

func fundAddress(ctx *cli.Context) error {
	e := getEnv(ctx)
	ctxc := e.context()

	switch {
	case ctx.String(addrName) == "":
		_ = cli.ShowCommandHelp(ctx, "fund")
		return nil
	case ctx.Uint64(amountName) == 0:
		return fmt.Errorf("--%s must be set", amountName)
	}

	asset := e.params().PolicyAsset
	if ctx.IsSet(assetName) {
		var err error
		asset, err = elwire.NewAssetIDFromStr(ctx.String(assetName))
		if err != nil {
			return err
		}
	}

	broadcaster, err := e.getBroadcaster()
	if err != nil {
		return err
	}

	result, err := broadcaster.Fund(
		ctxc, ctx.String(addrName),
		btcutil.Amount(ctx.Uint64(amountName)), asset,
	)
	if err != nil {
		return err
	}

	printSpendResult(result)
	return nil
}

var spendCommand = cli.Command{
	Name:  "spend",
	Usage: "Spend a lineage into its next generation.",
	Description: "Funds a fee input of the configured counterparty " +
		"key from the ledger wallet and spends the tip of the " +
		"lineage through the covenant leaf.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  lineageName,
			Usage: "the name of the lineage",
		},
	},
	Action: spendLineage,
}

func spendLineage(ctx *cli.Context) error {
	e := getEnv(ctx)
	ctxc := e.context()
	lineageCfg, err := e.getLineageConfig()
	if err != nil {
		return err
	}

	l, err := tapcov.OpenLineage(ctxc, lineageCfg, ctx.String(lineageName))
	if err != nil {
		return err
	}

	params, err := e.fundCounterparty(
		ctxc, lineageCfg.Broadcaster,
	)
	if err != nil {
		return err
	}
	params.Signer, err = e.cfg.Keys.SignerKey()
	if err != nil {
		return err
	}

	result, err := l.Spend(ctxc, params)
	if err != nil {
		return err
	}

	printSpendResult(result)
	return nil
}

var lineageCommand = cli.Command{
	Name:  "lineage",
	Usage: "Manage covenant lineages.",
	Subcommands: []cli.Command{
		{
			Name:  "create",
			Usage: "Lock an asset in a new covenant lineage.",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  lineageName,
					Usage: "the name of the new lineage",
				},
			}, covenantFlags...),
			Action: createLineage,
		},
		{
			Name:   "list",
			Usage:  "List all lineages.",
			Action: listLineages,
		},
		{
			Name:  "show",
			Usage: "Show the generations of a lineage.",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  lineageName,
					Usage: "the name of the lineage",
				},
			},
			Action: showLineage,
		},
		{
			Name:  "release",
			Usage: "Release a lineage through the key path.",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  lineageName,
					Usage: "the name of the lineage",
				},
				cli.StringFlag{
					Name: destName,
					Usage: "the address receiving the " +
						"released asset",
				},
			},
			Action: releaseLineage,
		},
	},
}

func createLineage(ctx *cli.Context) error {
	e := getEnv(ctx)
	ctxc := e.context()
	if ctx.String(lineageName) == "" {
		_ = cli.ShowCommandHelp(ctx, "create")
		return nil
	}

	c, asset, amount, err := covenantFromFlags(ctx)
	if err != nil {
		return err
	}

	lineageCfg, err := e.getLineageConfig()
	if err != nil {
		return err
	}

	l, err := tapcov.NewLineage(
		ctxc, lineageCfg, ctx.String(lineageName), c, asset, amount,
	)
	if err != nil {
		return err
	}

	addr, err := l.Address()
	if err != nil {
		return err
	}
	tip, err := l.TipInput(ctxc)
	if err != nil {
		return err
	}

	printJSON(struct {
		Name     string `json:"name"`
		Address  string `json:"address"`
		OutPoint string `json:"outpoint"`
	}{
		Name:     l.Name(),
		Address:  addr,
		OutPoint: tip.OutPoint.String(),
	})
	return nil
}

type generationResp struct {
	Number    uint32 `json:"generation"`
	OutPoint  string `json:"outpoint"`
	SpendPath string `json:"spend_path"`
	CreatedAt string `json:"created_at"`
}

func listLineages(ctx *cli.Context) error {
	e := getEnv(ctx)
	ctxc := e.context()
	lineageCfg, err := e.getLineageConfig()
	if err != nil {
		return err
	}
	client, err := e.getLedger()
	if err != nil {
		return err
	}

	lineages, err := lineageCfg.Journal.ListLineages(ctxc)
	if err != nil {
		return err
	}

	type lineageResp struct {
		Name          string `json:"name"`
		Network       string `json:"network"`
		Asset         string `json:"asset"`
		Amount        uint64 `json:"amount"`
		Generation    uint32 `json:"generation"`
		Tip           string `json:"tip"`
		SpendPath     string `json:"spend_path"`
		Confirmations uint32 `json:"confirmations"`
	}
	resp := make([]lineageResp, len(lineages))

	// Each tip is looked up on the ledger in its own goroutine.
	g, gctx := errgroup.WithContext(ctxc)
	for i, l := range lineages {
		i, l := i, l

		g.Go(func() error {
			tip, err := lineageCfg.Journal.Tip(gctx, l.Name)
			if err != nil {
				return fmt.Errorf("lineage %v: %w", l.Name, err)
			}

			tx, err := client.GetRawTransaction(
				gctx, tip.OutPoint.Hash,
			)
			if err != nil {
				return fmt.Errorf("lineage %v: %w", l.Name, err)
			}

			resp[i] = lineageResp{
				Name:          l.Name,
				Network:       l.Descriptor.Network,
				Asset:         l.Asset.String(),
				Amount:        l.Amount,
				Generation:    tip.Number,
				Tip:           tip.OutPoint.String(),
				SpendPath:     tip.SpendPath.String(),
				Confirmations: tx.Confirmations,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

func showLineage(ctx *cli.Context) error {
	e := getEnv(ctx)
	ctxc := e.context()
	lineageCfg, err := e.getLineageConfig()
	if err != nil {
		return err
	}

	l, err := tapcov.OpenLineage(ctxc, lineageCfg, ctx.String(lineageName))
	if err != nil {
		return err
	}
	generations, err := l.Generations(ctxc)
	if err != nil {
		return err
	}

	resp := make([]generationResp, 0, len(generations))
	for _, g := range generations {
		resp = append(resp, generationResp{
			Number:    g.Number,
			OutPoint:  g.OutPoint.String(),
			SpendPath: g.SpendPath.String(),
			CreatedAt: g.CreatedAt.Format(time.RFC3339),
		})
	}

	printJSON(resp)
	return nil
}

func releaseLineage(ctx *cli.Context) error {
	e := getEnv(ctx)
	ctxc := e.context()
	if ctx.String(destName) == "" {
		return fmt.Errorf("--%s must be set", destName)
	}

	internalKey, err := requireKey("internal", e.cfg.Keys.InternalKey)
	if err != nil {
		return err
	}

	lineageCfg, err := e.getLineageConfig()
	if err != nil {
		return err
	}
	destScript, err := address.ToOutputScript(
		ctx.String(destName), e.params(),
	)
	if err != nil {
		return err
	}

	l, err := tapcov.OpenLineage(ctxc, lineageCfg, ctx.String(lineageName))
	if err != nil {
		return err
	}

	params, err := e.fundCounterparty(
		ctxc, lineageCfg.Broadcaster,
	)
	if err != nil {
		return err
	}

	result, err := l.Release(ctxc, internalKey, destScript, params)
	if err != nil {
		return err
	}

	printSpendResult(result)
	return nil
}
