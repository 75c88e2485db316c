package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"efpwatch/internal/app"
	"efpwatch/internal/config"
	"efpwatch/internal/runner"
)

// Exit codes.
const (
	exitFailure = 1
	exitConfig  = 2
)

func main() {
	cliApp := &cli.App{
		Name:  "efpwatch",
		Usage: "watch EFP accounts and publish notable changes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the config file (JSON or YAML)",
				EnvVars: []string{"EFPWATCH_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "log posts instead of publishing them",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "process the watchlist once",
				Action: runOnce,
			},
			{
				Name:  "watch",
				Usage: "run on the configured schedule and reload the config on change",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "now", Usage: "run once immediately"},
				},
				Action: runWatch,
			},
			{
				Name:   "bootstrap",
				Usage:  "store a baseline snapshot of every account without publishing",
				Action: runBootstrap,
			},
			{
				Name:  "leaderboard",
				Usage: "publish the followers leaderboard",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "number of entries (default from config)"},
				},
				Action: runLeaderboard,
			},
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cliApp.RunContext(ctx, os.Args)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		if config.IsConfigError(err) {
			os.Exit(exitConfig)
		}
		os.Exit(exitFailure)
	}
}

func openApp(cctx *cli.Context, opts app.Options) (*app.App, error) {
	opts.DryRun = cctx.Bool("dry-run")
	return app.New(cctx.String("config"), opts)
}

func runOnce(cctx *cli.Context) error {
	a, err := openApp(cctx, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.RunOnce(cctx.Context)
	if err != nil {
		return err
	}
	printReport(rep)
	return nil
}

func runWatch(cctx *cli.Context) error {
	a, err := openApp(cctx, app.Options{RunOnStart: cctx.Bool("now")})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Watch(cctx.Context); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runBootstrap(cctx *cli.Context) error {
	a, err := openApp(cctx, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.Bootstrap(cctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("accounts: %d\nactive: %d\nno profile: %d\nno list: %d\nfailed: %d\n",
		rep.Accounts, rep.Active, rep.NoProfile, rep.NoList, rep.Failed)
	for _, addr := range rep.FailedAccounts {
		fmt.Println("  failed:", addr)
	}
	return nil
}

func runLeaderboard(cctx *cli.Context) error {
	a, err := openApp(cctx, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Leaderboard(cctx.Context, cctx.Int("limit"))
	if err != nil {
		return err
	}
	if res.Status == "" {
		fmt.Println("leaderboard: nothing to publish")
		return nil
	}
	fmt.Printf("leaderboard: %s %s\n", res.Status, res.ID)
	return nil
}

func printReport(rep runner.Report) {
	fmt.Printf("processed %d/%d accounts, %d changed, %d published",
		rep.Processed, rep.Accounts, rep.Changed, rep.Published)
	if rep.PublishSkipped > 0 {
		fmt.Printf(", %d skipped", rep.PublishSkipped)
	}
	if rep.Failed > 0 {
		fmt.Printf(", %d failed", rep.Failed)
	}
	if rep.Deferred > 0 {
		fmt.Printf(", %d deferred", rep.Deferred)
	}
	fmt.Println()
}
