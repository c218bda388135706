// Command shorthand runs the compression discovery service: the cycle
// scheduler, the persistent codex, and the HTTP boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/isorabins/ai-shorthand/pkg/logging"
	"github.com/isorabins/ai-shorthand/services/shorthand/broadcast"
	"github.com/isorabins/ai-shorthand/services/shorthand/codex"
	"github.com/isorabins/ai-shorthand/services/shorthand/config"
	"github.com/isorabins/ai-shorthand/services/shorthand/discovery"
	"github.com/isorabins/ai-shorthand/services/shorthand/events"
	"github.com/isorabins/ai-shorthand/services/shorthand/generation"
	"github.com/isorabins/ai-shorthand/services/shorthand/llm"
	"github.com/isorabins/ai-shorthand/services/shorthand/patterns"
	"github.com/isorabins/ai-shorthand/services/shorthand/scheduler"
	"github.com/isorabins/ai-shorthand/services/shorthand/search"
	"github.com/isorabins/ai-shorthand/services/shorthand/server"
	"github.com/isorabins/ai-shorthand/services/shorthand/storage"
	"github.com/isorabins/ai-shorthand/services/shorthand/storage/badgerdb"
	"github.com/isorabins/ai-shorthand/services/shorthand/tokenizer"
	"github.com/isorabins/ai-shorthand/services/shorthand/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(*logLevel),
		LogDir:  cfg.LogDir,
		Service: "shorthand",
	})
	defer logger.Close()
	log := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence.
	dbCfg := badgerdb.DefaultConfig(cfg.Storage.Path)
	if cfg.Storage.InMemory {
		dbCfg = badgerdb.InMemoryConfig()
	}
	dbCfg.Logger = log
	db, err := badgerdb.Open(dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	gcStop := make(chan struct{})
	defer close(gcStop)
	go badgerdb.RunGC(db, dbCfg, gcStop)

	cdx, err := codex.NewPersistent(db)
	if err != nil {
		return err
	}
	pstore, err := patterns.NewPersistent(db)
	if err != nil {
		return err
	}
	store := storage.NewBadger(db)

	// Tokenizer oracle, with heuristic degradation.
	oracle, exact := tokenizer.NewDefault()
	if !exact {
		log.Warn("tokenizer encoding unavailable, using heuristic counts")
	}

	// Collaborators.
	var analytic llm.Analytic
	var creative llm.Creative
	if !cfg.OpenAI.Disabled {
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:            cfg.OpenAI.APIKey,
			AnalyticModel:     cfg.OpenAI.AnalyticModel,
			CreativeModel:     cfg.OpenAI.CreativeModel,
			RequestsPerMinute: cfg.OpenAI.RequestsPerMinute,
			Logger:            log,
		})
		if err != nil {
			return err
		}
		analytic = client
		creative = client
	} else {
		log.Info("collaborators disabled, running on local checks only")
	}

	var source search.Source
	if cfg.Search.Endpoint != "" {
		source = search.NewHTTPSource(cfg.Search.Endpoint, cfg.Search.APIKey)
	} else {
		source = search.BuiltinCorpus()
	}

	var poster broadcast.Poster = broadcast.Noop{}
	if cfg.Broadcast.WebhookURL != "" {
		poster = broadcast.NewWebhook(cfg.Broadcast.WebhookURL, log)
	}

	// Pipeline stages.
	disc := discovery.New(source, oracle, analytic, log, discovery.Options{
		TopWords:      cfg.Pipeline.TopWords,
		MinWordLength: cfg.Pipeline.MinWordLength,
	})
	gen := generation.New(cdx, pstore, creative, log, generation.Options{
		MaxPerWord:      cfg.Pipeline.MaxCandidatesPerWord,
		PatternBaseline: cfg.Pipeline.PatternBaseline,
		SafeSymbols:     safeSymbolRunes(cfg),
	})
	val := validation.New(oracle, cdx, pstore, analytic, log, validation.Options{
		GroupSize:   cfg.Pipeline.ValidationGroupSize,
		SafeSymbols: cfg.SafeSymbolSet(),
	})

	emitter := events.NewEmitter()
	emitter.Subscribe(events.LoggingHandler(log, slog.LevelDebug))

	sched := scheduler.New(disc, gen, val, store, cdx, poster, emitter, log, scheduler.Options{
		CycleInterval:  cfg.Scheduler.CycleInterval,
		CeremonyMinute: cfg.Scheduler.CeremonyMinute,
		StageTimeout:   cfg.Scheduler.StageTimeout,
		Topics:         cfg.Search.Topics,
	})
	go sched.Run(ctx)

	srv := server.New(cfg.Server.Addr, sched, store, cdx, pstore, log)
	return srv.Run(ctx)
}

// safeSymbolRunes flattens the configured allow-list to first runes in
// configured order, for the generation palette.
func safeSymbolRunes(cfg config.Config) []rune {
	out := make([]rune, 0, len(cfg.Pipeline.SafeSymbols))
	for _, s := range cfg.Pipeline.SafeSymbols {
		for _, r := range s {
			out = append(out, r)
			break
		}
	}
	return out
}
