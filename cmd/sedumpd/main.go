package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/sedump/sedump/archive"
	"github.com/sedump/sedump/config"
	"github.com/sedump/sedump/registry"
	"github.com/sedump/sedump/server"
)

func main() {
	var (
		configFlag  string
		verboseFlag bool
	)

	flag.StringVar(&configFlag, "c", "", "config file (key=value), defaults to ./env_config")
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

	cfg, err := config.Load(configFlag)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	pool := archive.NewPool(cfg.CountWorkers)
	reg, err := registry.New(cfg.ArchiveFolder, pool,
		registry.WithLogger(logger),
		registry.WithDatabaseFolder(cfg.DatabaseFolder),
	)
	if err != nil {
		logger.Fatal("failed to construct registry", zap.Error(err))
	}
	defer func() {
		_ = reg.Close()
	}()

	logger.Info("serving",
		zap.String("addr", cfg.Addr()),
		zap.String("archives", cfg.ArchiveFolder),
		zap.Int("workers", cfg.CountWorkers))

	srv := server.New(cfg, reg, logger)
	if err := srv.Run(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
