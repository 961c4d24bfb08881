// segctl retrains the remote customer segmentation model, classifies single
// customers and keeps a local history of both.
//
// Usage:
//
//	segctl retrain --clusters 4
//	segctl predict --income 50 --score 60
//	segctl history [retrain|predictions]
//	segctl clear [retrain|predictions|all]
//	segctl serve
//
// history and clear only touch the local database and run without
// API_BASE_URL.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"segmentation-console/internal/cfg"
	"segmentation-console/internal/common"
	"segmentation-console/internal/console"
	"segmentation-console/internal/gateway"
	"segmentation-console/internal/metrics"
	"segmentation-console/internal/model"
	"segmentation-console/internal/server"
	"segmentation-console/internal/storage"
	"segmentation-console/internal/validate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "segctl",
		Usage:   "retrain and query the customer segmentation model",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML config file", EnvVars: []string{common.EnvConfigFile}},
			&cli.StringFlag{Name: "api", Usage: "clustering service base URL"},
			&cli.StringFlag{Name: "data", Usage: "directory holding the history database"},
			&cli.DurationFlag{Name: "timeout", Usage: "per-request timeout"},
			&cli.StringFlag{Name: "log-level", Usage: "log level: debug, info, warn, error"},
		},
		Before: setup,
		Commands: []*cli.Command{
			retrainCommand(),
			predictCommand(),
			historyCommand(),
			clearCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("segctl failed")
		os.Exit(1)
	}
}

// setup loads .env, maps global flags onto their environment keys so that
// they override both file and environment, and configures logging.
func setup(c *cli.Context) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := cfg.LoadDotEnv(); err != nil {
		return err
	}

	overrides := map[string]string{
		"api":       common.EnvAPIBaseURL,
		"data":      common.EnvDataPath,
		"log-level": common.EnvLogLevel,
	}
	for flag, env := range overrides {
		if c.IsSet(flag) {
			os.Setenv(env, c.String(flag))
		}
	}
	if c.IsSet("timeout") {
		os.Setenv(common.EnvRESTTimeout, c.Duration("timeout").String())
	}

	level := os.Getenv(common.EnvLogLevel)
	if level == "" {
		level = common.DefaultLogLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

type session struct {
	settings cfg.Settings
	store    *storage.Store
	svc      *console.Service
}

// open loads config and the history database. Commands that never reach
// the clustering service pass remote=false and need no API base URL.
func open(c *cli.Context, remote bool) (*session, error) {
	var (
		settings cfg.Settings
		err      error
	)
	path := c.String("config")
	switch {
	case path != "" && remote:
		settings, err = cfg.LoadFile(path)
	case path != "":
		settings, err = cfg.LoadFileLocal(path)
	case remote:
		settings, err = cfg.Load()
	default:
		settings, err = cfg.LoadLocal()
	}
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	store, err := storage.New(settings.DataPath)
	if err != nil {
		return nil, err
	}

	svc := console.New(
		gateway.New(settings.APIBaseURL, settings.RESTTimeout),
		storage.NewHistory[model.RetrainHistoryEntry](store.Slot(common.RetrainHistorySlot), common.RetrainHistoryCapacity),
		storage.NewHistory[model.PredictionHistoryEntry](store.Slot(common.PredictionHistorySlot), common.PredictionHistoryCapacity),
	)
	return &session{settings: settings, store: store, svc: svc}, nil
}

func (a *session) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close history database")
	}
}

func retrainCommand() *cli.Command {
	return &cli.Command{
		Name:  "retrain",
		Usage: "retrain the model with a number of clusters (2-10)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "clusters", Aliases: []string{"n"}, Usage: "number of clusters"},
		},
		Action: func(c *cli.Context) error {
			n, err := validate.ParseClusterCount(c.String("clusters"))
			if err != nil {
				return err
			}

			a, err := open(c, true)
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.svc.Retrain(c.Context, float64(n))
			if err != nil {
				return describe(err)
			}

			fmt.Println(entry.Result.Message)
			if entry.Result.SilhouetteScore != nil {
				fmt.Printf("Silhouette score: %.4f\n", *entry.Result.SilhouetteScore)
			}
			return nil
		},
	}
}

func predictCommand() *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "classify a customer by annual income (thousands) and spending score",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "income", Usage: "annual income in thousands (0-200]"},
			&cli.StringFlag{Name: "score", Usage: "spending score [1-100]"},
		},
		Action: func(c *cli.Context) error {
			income, err := validate.ParseIncome(c.String("income"))
			if err != nil {
				return err
			}
			score, err := validate.ParseSpendingScore(c.String("score"))
			if err != nil {
				return err
			}

			a, err := open(c, true)
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.svc.Predict(c.Context, income, score)
			if err != nil {
				return describe(err)
			}
			fmt.Printf("Cluster: %d\n", entry.Cluster)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "show stored retrain and prediction history",
		ArgsUsage: "[retrain|predictions]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print raw JSON"},
		},
		Action: func(c *cli.Context) error {
			kind := c.Args().First()
			if kind != "" && kind != console.KindRetrain && kind != console.KindPredictions {
				return fmt.Errorf("unknown history %q", kind)
			}

			a, err := open(c, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if c.Bool("json") {
				out := map[string]any{}
				if kind != console.KindPredictions {
					out[console.KindRetrain] = a.svc.RetrainHistory()
				}
				if kind != console.KindRetrain {
					out[console.KindPredictions] = a.svc.PredictionHistory()
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			if kind != console.KindPredictions {
				printRetrains(a.svc.RetrainHistory())
			}
			if kind != console.KindRetrain {
				printPredictions(a.svc.PredictionHistory())
			}
			return nil
		},
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "delete stored history",
		ArgsUsage: "[retrain|predictions|all]",
		Action: func(c *cli.Context) error {
			kind := c.Args().First()
			if kind == "" {
				kind = "all"
			}

			a, err := open(c, false)
			if err != nil {
				return err
			}
			defer a.Close()

			switch kind {
			case console.KindRetrain:
				return a.svc.ClearRetrainHistory()
			case console.KindPredictions:
				return a.svc.ClearPredictionHistory()
			case "all":
				if err := a.svc.ClearRetrainHistory(); err != nil {
					return err
				}
				return a.svc.ClearPredictionHistory()
			default:
				return fmt.Errorf("unknown history %q", kind)
			}
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the JSON API, history feed and metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "listen address", EnvVars: []string{common.EnvListenAddr}},
		},
		Action: func(c *cli.Context) error {
			a, err := open(c, true)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.settings.ListenAddr
			if c.IsSet("listen") {
				addr = c.String("listen")
			}

			a.svc.SetMetrics(metrics.New())
			feed := server.NewFeed()
			a.svc.SetNotifier(feed)
			srv := server.New(a.svc, feed, addr, prometheus.DefaultGatherer)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			errs := make(chan error, 1)
			go func() { errs <- srv.Start() }()

			select {
			case err := <-errs:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			case <-ctx.Done():
				log.Info().Msg("shutting down gracefully...")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
			}
			return nil
		},
	}
}

// describe turns a gateway failure into the operator-facing message.
func describe(err error) error {
	if gateway.IsRequestFailure(err) {
		return fmt.Errorf("an unexpected error occurred, try again later: %w", err)
	}
	return err
}

func printRetrains(entries []model.RetrainHistoryEntry) {
	fmt.Printf("Retrain history (%d/%d)\n", len(entries), common.RetrainHistoryCapacity)
	if len(entries) == 0 {
		fmt.Println("  no entries")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  WHEN\tCLUSTERS\tSILHOUETTE\tMESSAGE")
	for _, e := range entries {
		score := "-"
		if e.Result.SilhouetteScore != nil {
			score = fmt.Sprintf("%.4f", *e.Result.SilhouetteScore)
		}
		fmt.Fprintf(w, "  %s\t%d\t%s\t%s\n", e.CreatedAt.Local().Format(time.DateTime), e.RequestedClusterCount, score, e.Result.Message)
	}
	w.Flush()
}

func printPredictions(entries []model.PredictionHistoryEntry) {
	fmt.Printf("Prediction history (%d/%d)\n", len(entries), common.PredictionHistoryCapacity)
	if len(entries) == 0 {
		fmt.Println("  no entries")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  WHEN\tINCOME\tSCORE\tCLUSTER")
	for _, e := range entries {
		fmt.Fprintf(w, "  %s\t%g\t%g\t%d\n", e.CreatedAt.Local().Format(time.DateTime), e.AnnualIncome, e.SpendingScore, e.Cluster)
	}
	w.Flush()
}
