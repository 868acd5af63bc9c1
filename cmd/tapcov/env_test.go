package main

import (
	"testing"

	"github.com/lightninglabs/tapcov/covcfg"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

// newTestApp returns an app whose lineage sub command reports the env it
// sees.
func newTestApp(e *env, seen **env) *cli.App {
	app := cli.NewApp()
	app.Before = func(ctx *cli.Context) error {
		ctx.App.Metadata[envKey] = e
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		closeEnv(ctx)
		return nil
	}
	app.Commands = []cli.Command{{
		Name: "lineage",
		Subcommands: []cli.Command{{
			Name: "list",
			Action: func(ctx *cli.Context) error {
				*seen = getEnv(ctx)
				return nil
			},
		}},
	}}

	return app
}

// TestEnvPerApp makes sure every app carries its own env down to its sub
// commands.
func TestEnvPerApp(t *testing.T) {
	t.Parallel()

	first := &env{cfg: &covcfg.Config{}}
	second := &env{cfg: &covcfg.Config{}}

	var seenFirst, seenSecond *env
	appFirst := newTestApp(first, &seenFirst)
	appSecond := newTestApp(second, &seenSecond)

	args := []string{"tapcov", "lineage", "list"}
	require.NoError(t, appFirst.Run(args))
	require.NoError(t, appSecond.Run(args))

	require.Same(t, first, seenFirst)
	require.Same(t, second, seenSecond)
}

// TestCloseEnvWithoutConfig makes sure closing an app whose config never
// loaded is a no-op.
func TestCloseEnvWithoutConfig(t *testing.T) {
	t.Parallel()

	app := cli.NewApp()
	app.After = func(ctx *cli.Context) error {
		closeEnv(ctx)
		return nil
	}
	app.Action = func(*cli.Context) error {
		return nil
	}

	require.NoError(t, app.Run([]string{"tapcov"}))
}
