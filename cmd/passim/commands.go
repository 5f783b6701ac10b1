package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pverkind/passim/internal/align"
	"github.com/pverkind/passim/internal/cluster"
	"github.com/pverkind/passim/internal/diffs"
	"github.com/pverkind/passim/internal/pairs"
	"github.com/pverkind/passim/internal/quotes"
	"github.com/pverkind/passim/pkg/kafka"
	pkgredis "github.com/pverkind/passim/pkg/redis"
)

// peekConfigPath finds the --config value before the flag set is built, so
// the file config can seed the flag defaults and explicit flags win.
func peekConfigPath(args []string) string {
	for i, a := range args {
		switch a {
		case "-config", "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		}
		for _, prefix := range []string{"-config=", "--config="} {
			if len(a) > len(prefix) && a[:len(prefix)] == prefix {
				return a[len(prefix):]
			}
		}
	}
	return ""
}

// intFlag registers an int under both short and long names.
func intFlag(fs *flag.FlagSet, p *int, short, long string, usage string) {
	fs.IntVar(p, short, *p, usage)
	fs.IntVar(p, long, *p, usage)
}

func floatFlag(fs *flag.FlagSet, p *float64, short, long string, usage string) {
	fs.Float64Var(p, short, *p, usage)
	fs.Float64Var(p, long, *p, usage)
}

func stringFlag(fs *flag.FlagSet, p *string, short, long string, usage string) {
	fs.StringVar(p, short, *p, usage)
	fs.StringVar(p, long, *p, usage)
}

func boolFlag(fs *flag.FlagSet, p *bool, short, long string, usage string) {
	fs.BoolVar(p, short, *p, usage)
	fs.BoolVar(p, long, *p, usage)
}

func runPairs(ctx context.Context, args []string) error {
	cfg, m, cleanup, err := setup(peekConfigPath(args))
	if err != nil {
		return err
	}
	defer cleanup()

	fs := flag.NewFlagSet("pairs", flag.ExitOnError)
	fs.String("config", "", "path to YAML config file")
	counts := false
	boolFlag(fs, &counts, "c", "counts", "emit a seriesA\\tseriesB\\tcount histogram instead of records")
	intFlag(fs, &cfg.Pairs.MaxSeries, "u", "max-series", "cap on series-size cross-count per feature")
	intFlag(fs, &cfg.Pairs.MaxDF, "d", "max-df", "drop postings with per-document term frequency above this")
	stringFlag(fs, &cfg.Pairs.SeriesMap, "m", "series-map", "precomputed docId\\tseriesId TSV")
	intFlag(fs, &cfg.Pairs.ModP, "p", "modp", "keep keys with hash(key) mod p == 0")
	intFlag(fs, &cfg.Pairs.ModRec, "r", "modrec", "keep records with hash(pair) mod r == 0")
	intFlag(fs, &cfg.Pairs.Step, "s", "step", "skip step*stride keys before processing")
	intFlag(fs, &cfg.Pairs.Stride, "t", "stride", "number of keys to process")
	floatFlag(fs, &cfg.Pairs.WordLength, "w", "word-length", "minimum mean token character length")
	stringFlag(fs, &cfg.Pairs.StopFile, "S", "stop", "stopword file, one word per line")
	fs.IntVar(&cfg.Pairs.Shards, "shards", cfg.Pairs.Shards, "consecutive step windows to run concurrently")
	fs.BoolVar(&cfg.Kafka.Enabled, "kafka", cfg.Kafka.Enabled, "publish records to the configured Kafka topic")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("pairs: exactly one index part path required")
	}

	store, err := openStore(fs.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	series, err := loadSeries(cfg.Pairs, store)
	if err != nil {
		return err
	}
	var stop map[string]struct{}
	if cfg.Pairs.StopFile != "" {
		f, err := os.Open(cfg.Pairs.StopFile)
		if err != nil {
			return fmt.Errorf("opening stopword file: %w", err)
		}
		stop, err = pairs.LoadStopwords(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	runner := pairs.NewRunner(store, series, cfg.Pairs, stop, m)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	if counts {
		emitter := pairs.NewCountsEmitter(series)
		if err := runner.Run(ctx, emitter); err != nil {
			return err
		}
		return emitter.WriteTo(out)
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.PairTopic)
		defer producer.Close()
		sink := kafka.NewSink(producer, 0, cfg.Kafka.BatchSize)
		sink.Start(ctx)
		err := runner.Run(ctx, kafkaEmitter{sink})
		sink.Close()
		return err
	}
	return runner.Run(ctx, pairs.NewWriterEmitter(out))
}

// kafkaEmitter adapts the batching sink to the pairs Emitter interface.
type kafkaEmitter struct {
	sink *kafka.Sink
}

func (e kafkaEmitter) Emit(rec pairs.Record) error {
	e.sink.Emit(kafka.Event{Key: rec.Key(), Value: rec})
	return nil
}

func runMerge(ctx context.Context, args []string) error {
	cfg, m, cleanup, err := setup(peekConfigPath(args))
	if err != nil {
		return err
	}
	defer cleanup()

	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	fs.String("config", "", "path to YAML config file")
	maxRecords := fs.Int("max-records", 0, "with --kafka, stop after this many records (0 waits for interrupt)")
	minMatches := 1
	intFlag(fs, &minMatches, "m", "min-matches", "minimum concatenated feature count to forward a pair")
	fs.BoolVar(&cfg.Kafka.Enabled, "kafka", cfg.Kafka.Enabled, "consume records from the configured Kafka topic")
	if err := fs.Parse(args); err != nil {
		return err
	}

	merger := pairs.NewMerger(minMatches, m)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	if cfg.Kafka.Enabled {
		acc := &pairs.Accumulator{}
		seen := 0
		consumeCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.PairTopic, func(_ context.Context, _ []byte, value []byte) error {
			rec, err := kafka.DecodeJSON[pairs.Record](value)
			if err != nil {
				return err
			}
			acc.Add(rec)
			seen++
			if *maxRecords > 0 && seen >= *maxRecords {
				cancel()
			}
			return nil
		})
		if err := consumer.Start(consumeCtx); err != nil {
			return err
		}
		return acc.Drain(merger, out)
	}
	return merger.Merge(os.Stdin, out)
}

func runScores(ctx context.Context, args []string) error {
	cfg, m, cleanup, err := setup(peekConfigPath(args))
	if err != nil {
		return err
	}
	defer cleanup()

	fs := flag.NewFlagSet("scores", flag.ExitOnError)
	fs.String("config", "", "path to YAML config file")
	intFlag(fs, &cfg.Align.Ngram, "n", "ngram", "n-gram order; 0 aligns whole documents")
	fs.IntVar(&cfg.Align.MaxGap, "max-gap", cfg.Align.MaxGap, "maximum anchor gap inside one passage")
	fs.IntVar(&cfg.Align.MinMatches, "min-anchors", cfg.Align.MinMatches, "minimum anchors per passage")
	fs.BoolVar(&cfg.Redis.Enabled, "redis", cfg.Redis.Enabled, "cache document tokens in the configured Redis")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("scores: exactly one index directory required")
	}

	store, err := openStore(fs.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	var cache *align.DocCache
	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		cache = align.NewDocCache(store, client, cfg.Redis, m)
	}
	aligner := align.NewAligner(store, cache, cfg.Align, m)
	return aligner.Run(ctx, os.Stdin, os.Stdout)
}

func runCluster(args []string) error {
	cfg, m, cleanup, err := setup(peekConfigPath(args))
	if err != nil {
		return err
	}
	defer cleanup()

	fs := flag.NewFlagSet("cluster", flag.ExitOnError)
	fs.String("config", "", "path to YAML config file")
	intFlag(fs, &cfg.Cluster.MinOverlap, "m", "min-overlap", "absolute token overlap linkage threshold; 0 uses relative overlap")
	floatFlag(fs, &cfg.Cluster.RelativeOverlap, "o", "relative-overlap", "relative span overlap linkage threshold")
	floatFlag(fs, &cfg.Cluster.MaxProportion, "p", "max-proportion", "drop clusters with a higher single-series proportion")
	intFlag(fs, &cfg.Cluster.MaxRepeats, "r", "max-repeats", "drop clusters with more members from one series")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := cluster.NewClusterer(cfg.Cluster, m)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	return c.Run(os.Stdin, out)
}

func runFormat(args []string) error {
	_, _, cleanup, err := setup(peekConfigPath(args))
	if err != nil {
		return err
	}
	defer cleanup()

	fs := flag.NewFlagSet("format", flag.ExitOnError)
	fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("format: exactly one index directory required")
	}
	store, err := openStore(fs.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	return cluster.Format(store, os.Stdin, out)
}

func runQuotes(ctx context.Context, args []string) error {
	cfg, m, cleanup, err := setup(peekConfigPath(args))
	if err != nil {
		return err
	}
	defer cleanup()

	fs := flag.NewFlagSet("quotes", flag.ExitOnError)
	fs.String("config", "", "path to YAML config file")
	badDocsPath := ""
	fs.StringVar(&badDocsPath, "bad-docs", cfg.Quotes.BadDocs, "file of document names to exclude from probing")
	intFlag(fs, &cfg.Quotes.MaxCount, "c", "max-count", "skip n-grams with more postings than this")
	intFlag(fs, &cfg.Quotes.MaxGap, "g", "max-gap", "split spans at reference-position gaps above this")
	floatFlag(fs, &cfg.Quotes.MinScore, "s", "min-score", "minimum span score")
	boolFlag(fs, &cfg.Quotes.Pretty, "p", "pretty", "indent JSON output")
	boolFlag(fs, &cfg.Quotes.WordAligns, "w", "words", "emit per-word alignment records")
	stringFlag(fs, &cfg.Quotes.LMPath, "l", "lm", "token\\tlogprob language model for extra scoring")
	fs.IntVar(&cfg.Quotes.Gram, "gram", cfg.Quotes.Gram, "n-gram order for index probes")
	fs.BoolVar(&cfg.Quotes.DetectLang, "detect-language", cfg.Quotes.DetectLang, "detect language when page metadata lacks one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("quotes: exactly one index part path required")
	}

	store, err := openStore(fs.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	var badDocs []string
	if badDocsPath != "" {
		f, err := os.Open(badDocsPath)
		if err != nil {
			return fmt.Errorf("opening bad-docs file: %w", err)
		}
		badDocs, err = quotes.LoadBadDocs(f)
		f.Close()
		if err != nil {
			return err
		}
	}
	var lm map[string]float64
	if cfg.Quotes.LMPath != "" {
		f, err := os.Open(cfg.Quotes.LMPath)
		if err != nil {
			return fmt.Errorf("opening language model: %w", err)
		}
		lm, err = quotes.LoadLM(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	hunter := quotes.NewHunter(store, cfg.Quotes, badDocs, lm, m)
	return hunter.Run(ctx, os.Stdin, os.Stdout)
}

func runDiffs(args []string) error {
	_, _, cleanup, err := setup(peekConfigPath(args))
	if err != nil {
		return err
	}
	defer cleanup()

	fs := flag.NewFlagSet("diffs", flag.ExitOnError)
	fs.String("config", "", "path to YAML config file")
	gram := fs.Int("gram", 3, "window size of aligned word pairs (odd)")
	dictPath := fs.String("dict", "", "dictionary file, one word per line")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("diffs: exactly one index directory required")
	}
	if *dictPath == "" {
		return fmt.Errorf("diffs: --dict is required")
	}
	store, err := openStore(fs.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()
	f, err := os.Open(*dictPath)
	if err != nil {
		return fmt.Errorf("opening dictionary: %w", err)
	}
	dict, err := diffs.LoadDict(f)
	f.Close()
	if err != nil {
		return err
	}
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	return diffs.Run(store, *gram, dict, os.Stdin, out)
}
