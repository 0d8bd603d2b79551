// sedump-index indexes one archive offline, with a progress bar, so a large
// dump can be prepared before the service ever starts.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/sedump/sedump/archive"
	"github.com/sedump/sedump/config"
	"github.com/sedump/sedump/indexer"
	"github.com/sedump/sedump/registry"
)

func main() {
	var (
		configFlag  string
		nameFlag    string
		verboseFlag bool
	)

	flag.StringVar(&configFlag, "c", "", "config file (key=value), defaults to ./env_config")
	flag.StringVar(&nameFlag, "n", "", "archive basename to index")
	flag.BoolVar(&verboseFlag, "v", false, "be verbose")

	flag.Parse()

	var err error
	var logger *zap.Logger
	if verboseFlag {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal("failed to initialize logger", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if nameFlag == "" {
		logger.Fatal("archive name needs to be defined")
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	var bar *progressbar.ProgressBar
	progress := func(indexed, lastID int64) {
		if bar == nil {
			bar = progressbar.Default(lastID, "indexing posts")
		}
		_ = bar.Set64(indexed)
	}

	pool := archive.NewPool(cfg.CountWorkers)
	reg, err := registry.New(cfg.ArchiveFolder, pool,
		registry.WithLogger(logger),
		registry.WithDatabaseFolder(cfg.DatabaseFolder),
		registry.WithIndexerOptions(indexer.WithProgress(progress)),
	)
	if err != nil {
		logger.Fatal("failed to construct registry", zap.Error(err))
	}
	defer func() {
		_ = reg.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dump, err := reg.Get(ctx, nameFlag)
	if err != nil {
		logger.Fatal("failed to open archive", zap.String("name", nameFlag), zap.Error(err))
	}

	if err := dump.Indexer.Run(ctx); err != nil {
		logger.Fatal("indexing failed", zap.String("name", nameFlag), zap.Error(err))
	}
	if bar != nil {
		_ = bar.Finish()
	}
	logger.Info("indexing complete", zap.String("name", nameFlag))
}
