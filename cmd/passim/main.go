// Command passim detects, aligns, and clusters reused text passages across
// document corpora. Each sub-command is one streaming stage reading
// line-delimited records on stdin and emitting line-delimited records on
// stdout; stages compose through pipes and an external sort.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pverkind/passim/internal/corpus"
	"github.com/pverkind/passim/internal/index"
	"github.com/pverkind/passim/pkg/config"
	"github.com/pverkind/passim/pkg/logger"
	"github.com/pverkind/passim/pkg/metrics"
)

const usage = `usage: passim <command> [flags] [args]

commands:
  pairs    enumerate candidate document pairs from an index part
  merge    coalesce feature emissions for the same pair
  scores   align candidate pairs and emit alignment records
  cluster  single-link cluster alignment records into reprint families
  format   render cluster output human-readably
  quotes   align reference texts against the corpus index
  diffs    extract word-level substitution pairs from alignments
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	// .env is optional; flags and PASSIM_* variables win over it
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "pairs":
		err = runPairs(ctx, os.Args[2:])
	case "merge":
		err = runMerge(ctx, os.Args[2:])
	case "scores":
		err = runScores(ctx, os.Args[2:])
	case "cluster":
		err = runCluster(os.Args[2:])
	case "format":
		err = runFormat(os.Args[2:])
	case "quotes":
		err = runQuotes(ctx, os.Args[2:])
	case "diffs":
		err = runDiffs(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}
	if err != nil {
		slog.Error("stage failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// setup loads the config file, applies logging, and starts the metrics
// server when enabled. Sub-commands call it before building their flag sets
// so file values can seed the flag defaults.
func setup(configPath string) (*config.Config, *metrics.Metrics, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.New()
	cleanup := func() {}
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		cleanup = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}
	}
	return cfg, m, cleanup, nil
}

func openStore(path string) (index.Store, error) {
	return index.Open(path)
}

func loadSeries(cfg config.PairsConfig, store index.Store) (*corpus.SeriesMap, error) {
	if cfg.SeriesMap != "" {
		f, err := os.Open(cfg.SeriesMap)
		if err != nil {
			return nil, fmt.Errorf("opening series map: %w", err)
		}
		defer f.Close()
		return corpus.LoadSeriesMap(f)
	}
	return corpus.SeriesMapFromStore(store)
}
