// migrate applies the embedded SQL migrations; run with go run ./cmd/migrate [-direction up|down] [-version].
package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"docsign-engine/backend/internal/config"
	"docsign-engine/backend/internal/db/migrate"
	"docsign-engine/backend/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	showVersion := flag.Bool("version", false, "Print the applied schema version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}
	log := logger.WithComponent(logger.New(cfg.LogLevel, cfg.Env), "migrate")
	defer func() { _ = log.Sync() }()

	if *showVersion {
		v, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			log.Error("read schema version", zap.Error(err))
			os.Exit(1)
		}
		log.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
		return
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		log.Error("migration failed", zap.String("direction", *direction), zap.Error(err))
		os.Exit(1)
	}
	log.Info("migrations applied", zap.String("direction", *direction))
}
