package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/eteu-technologies/shiviz-deployer/internal/deploy"
)

const exitUsage = 2

var (
	errNoMode    = errors.New("one of --dev or --prod is required")
	errBothModes = errors.New("--dev and --prod are mutually exclusive")
	errWatchProd = errors.New("--watch is only available with --dev")
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalln("uncaught error: ", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "shiviz-deploy",
		Usage: "package and publish the ShiViz site into its hosting repository",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dev",
				Aliases: []string{"d"},
				Usage:   "Deploys ShiViz to development environment.",
			},
			&cli.BoolFlag{
				Name:    "prod",
				Aliases: []string{"p"},
				Usage:   "Deploys ShiViz to production environment.",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML file overriding the built-in site layout",
				EnvVars: []string{
					"SHIVIZ_DEPLOY_CONFIG",
				},
			},
			&cli.BoolFlag{
				Name:  "minify",
				Usage: "Compile the scripts into a single minified bundle",
			},
			&cli.BoolFlag{
				Name: "debug",
				EnvVars: []string{
					"SHIVIZ_DEPLOY_DEBUG",
				},
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Redeploy whenever the source tree changes (dev only)",
			},
			&cli.DurationFlag{
				Name:  "watch-debounce",
				Value: 2 * time.Second,
			},
			&cli.StringFlag{
				Name: "amqp-url",
				EnvVars: []string{
					"SHIVIZ_DEPLOY_AMQP_URL",
				},
			},
			&cli.StringFlag{
				Name: "amqp-queue",
				EnvVars: []string{
					"SHIVIZ_DEPLOY_AMQP_QUEUE",
				},
			},
		},
		Before: func(cctx *cli.Context) error {
			if err := configureLogging(cctx.Bool("debug")); err != nil {
				return fmt.Errorf("failed to configure logging: %w", err)
			}
			return nil
		},
		Action: entrypoint,
	}
}

func selectMode(dev, prod bool) (deploy.Mode, error) {
	switch {
	case dev && prod:
		return "", errBothModes
	case dev:
		return deploy.ModeDev, nil
	case prod:
		return deploy.ModeProd, nil
	}
	return "", errNoMode
}

func usageError(cctx *cli.Context, err error) error {
	_ = cli.ShowAppHelp(cctx)
	return cli.Exit(err.Error(), exitUsage)
}

func entrypoint(cctx *cli.Context) (err error) {
	mode, err := selectMode(cctx.Bool("dev"), cctx.Bool("prod"))
	if err != nil {
		return usageError(cctx, err)
	}
	if cctx.Bool("watch") && mode != deploy.ModeDev {
		return usageError(cctx, errWatchProd)
	}

	var cfg *DeployerConfig
	if cfg, err = LoadConfig(cctx.String("config")); err != nil {
		return cli.Exit(err.Error(), deploy.ExitFailure)
	}

	orch := deploy.New(cfg.Options(mode, cctx.Bool("minify")), deploy.WithLogger(zap.L()))
	n := &notifier{url: cctx.String("amqp-url"), queue: cctx.String("amqp-queue")}

	if !cctx.Bool("watch") {
		return deployOnce(cctx.Context, cctx.App.Writer, orch, n)
	}

	ctx, cancel := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err = deployOnce(ctx, cctx.App.Writer, orch, n); err != nil {
		zap.L().Error("initial deployment failed", zap.Error(err))
	}

	opts := orch.Options()
	return watchSource(ctx, opts.SourceDir, opts.DestDir, cctx.Duration("watch-debounce"), func() {
		if err := deployOnce(ctx, cctx.App.Writer, orch, n); err != nil {
			zap.L().Error("redeployment failed", zap.Error(err))
		}
	})
}

func deployOnce(ctx context.Context, out io.Writer, orch *deploy.Orchestrator, n *notifier) error {
	report, err := orch.Run(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("deployment failed: %v", err), deploy.ExitCode(err))
	}

	if !report.Published {
		if f := report.MinifyFailure; f != nil {
			fmt.Fprintln(out, "Minification failed!")
			fmt.Fprintln(out, f.Diagnostics)
		}
		zap.L().Warn("deployment stopped before publishing", zap.String("dest", report.Destination))
		return nil
	}

	if err := n.Notify(ctx, report); err != nil {
		zap.L().Warn("failed to publish deploy notification", zap.Error(err))
	}

	zap.L().Info("deployment published",
		zap.String("dest", report.Destination),
		zap.String("revision", report.Revision.Short),
		zap.Bool("sync_ok", report.Sync.OK()),
		zap.Duration("in", report.Duration))
	return nil
}
