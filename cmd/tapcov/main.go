package main

import (
	"fmt"
	"os"

	"github.com/lightninglabs/tapcov"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/urfave/cli"
)

const (
	// Environment variables names that can be used to set the global
	// flags.
	envVarTapcovDir  = "TAPCOV_DIR"
	envVarNetwork    = "TAPCOV_NETWORK"
	envVarLedgerHost = "TAPCOV_LEDGER_HOST"
	envVarLedgerUser = "TAPCOV_LEDGER_USER"
	envVarLedgerPass = "TAPCOV_LEDGER_PASS"
)

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[tapcov] %v\n", err)
	os.Exit(1)
}

func main() {
	// Hook interceptor for os signals.
	interceptor, err := signal.Intercept()
	if err != nil {
		fatal(err)
	}

	app := cli.NewApp()
	app.Name = "tapcov"
	app.Version = tapcov.Version()
	app.Usage = "build, fund and spend recursive covenants"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "tapcovdir",
			Usage:     "The path to tapcov's base directory.",
			TakesFile: true,
			EnvVar:    envVarTapcovDir,
		},
		cli.StringFlag{
			Name:      "configfile",
			Usage:     "The path to the configuration file.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The network the ledger runs, e.g. " +
				"liquidregtest, liquidtestnet or liquidv1.",
			EnvVar: envVarNetwork,
		},
		cli.StringFlag{
			Name:   "ledger.host",
			Usage:  "The host:port of the ledger node RPC.",
			EnvVar: envVarLedgerHost,
		},
		cli.StringFlag{
			Name:   "ledger.user",
			Usage:  "The ledger node RPC user.",
			EnvVar: envVarLedgerUser,
		},
		cli.StringFlag{
			Name:   "ledger.pass",
			Usage:  "The ledger node RPC password.",
			EnvVar: envVarLedgerPass,
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Usage: "The logging level of all subsystems.",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		return loadEnv(ctx, interceptor)
	}
	app.After = func(ctx *cli.Context) error {
		closeEnv(ctx)
		return nil
	}

	app.Commands = []cli.Command{
		scriptCommand,
		addressCommand,
		issueCommand,
		fundCommand,
		spendCommand,
		lineageCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
