// cmd/stream-gateway/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cryptotradex/stream-gateway/internal/app"
	"github.com/cryptotradex/stream-gateway/internal/config"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

func main() {
	// Флаг --config; пустое значение — только ENV и defaults.
	configPath := pflag.String("config", "", "path to config file (optional)")
	pflag.Parse()

	// 1. Загрузить конфиг
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// 2. Инициализация логгера
	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, DevMode: cfg.Logging.DevMode})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Logging.DevMode {
		cfg.Print()
	}

	// 3. Контекст с отменой по сигналам
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Sugar().Infow("starting service",
		"service.name", cfg.ServiceName,
		"service.version", cfg.ServiceVersion,
		"symbols", cfg.Symbols,
	)

	// 4. Сборка и запуск
	gateway, err := app.New(cfg, log, app.Options{})
	if err != nil {
		log.Sugar().Errorw("gateway init error", "error", err)
		os.Exit(1)
	}
	if err := gateway.Run(ctx); err != nil {
		log.Sugar().Errorw("application exited with error", "error", err)
		os.Exit(1)
	}

	log.Sugar().Infow("shutdown complete")
}
