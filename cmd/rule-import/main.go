package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/redactor/internal/cache"
	"github.com/raaihank/redactor/internal/config"
	"github.com/raaihank/redactor/internal/etl"
	"github.com/raaihank/redactor/internal/logger"
	"github.com/raaihank/redactor/internal/pattern"
	"github.com/raaihank/redactor/internal/rules"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Rule file to import (CSV, JSON lines or Parquet)")
		batchSize  = flag.Int("batch-size", 0, "Rules per insert batch (default from config)")
		createdBy  = flag.String("created-by", "", "Author recorded on rules without one")
		strict     = flag.Bool("strict", false, "Abort on the first invalid record")
		showStats  = flag.Bool("stats", false, "Show rule store statistics and exit")
	)
	flag.Parse()

	if *inputFile == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input rules.csv --batch-size 200\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input rules.parquet --strict\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Database.Enabled {
		fmt.Fprintln(os.Stderr, "database.enabled must be true to import rules")
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling import...")
		cancel()
	}()

	store, err := rules.NewPostgresStore(&cfg.Database.Config, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize rule store", zap.Error(err))
	}
	defer store.Close()

	if *showStats {
		if err := printStats(ctx, store); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	var invalidator etl.Invalidator
	if cfg.Cache.Enabled {
		client, err := cache.NewClient(&cfg.Cache.Config, log.Logger)
		if err != nil {
			log.Warn("Rule cache unavailable, it will expire on its own", zap.Error(err))
		} else {
			defer client.Close()
			invalidator = cache.NewRuleCache(client, store, &cfg.Cache.Config, log.Logger)
		}
	}

	importConfig := etl.DefaultConfig()
	importConfig.BatchSize = cfg.Import.BatchSize
	importConfig.CreatedBy = cfg.Import.CreatedBy
	importConfig.SkipBad = cfg.Import.SkipBad && !*strict
	if *batchSize > 0 {
		importConfig.BatchSize = *batchSize
	}
	if *createdBy != "" {
		importConfig.CreatedBy = *createdBy
	}

	registry := pattern.NewRegistry()
	for name, fragment := range cfg.Patterns.Named {
		if err := registry.Register(name, fragment); err != nil {
			log.Fatal("Invalid named pattern", zap.String("name", name), zap.Error(err))
		}
	}
	compiler := pattern.NewCompiler(registry, pattern.WithMatchTimeout(cfg.Redaction.MatchTimeout))

	importer := etl.NewImporter(store, compiler, invalidator, importConfig, log.Logger)
	result, err := importer.ImportFile(ctx, *inputFile)
	if err != nil {
		log.Fatal("Rule import failed", zap.Error(err))
	}

	log.Info("Rule import finished",
		zap.String("file", *inputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates", result.Duplicates),
		zap.Int64("invalid", result.Invalid),
		zap.Duration("total_duration", result.Duration))
	if len(result.Errors) > 0 {
		log.Warn("Some records were skipped", zap.Strings("errors", result.Errors))
	}
}

// printStats displays rule store statistics
func printStats(ctx context.Context, store rules.Repository) error {
	page, err := store.List(ctx, rules.ListOptions{OrderBy: rules.OrderByMatchCount, Order: "desc", Limit: 10}.Normalized())
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	fmt.Printf("\n=== Redaction Rule Statistics ===\n")
	fmt.Printf("Total Rules:        %d\n", page.Total)
	if len(page.Rules) > 0 {
		fmt.Printf("\n=== Most Matched Rules ===\n")
		for _, r := range page.Rules {
			fmt.Printf("%6d  %-40s %d\n", r.ID, r.Pattern, r.MatchCount)
		}
	}
	return nil
}
