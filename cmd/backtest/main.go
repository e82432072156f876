// Command backtest replays historical market data through the same
// matching/broker/funding/inventory/arbitrage stack the live engine uses,
// and prints the resulting equity-curve statistics (C3-C8, C6).
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/perpx/engine/internal/config"
	"github.com/perpx/engine/internal/dataloader"
	"github.com/perpx/engine/internal/engine"
	"github.com/perpx/engine/internal/types"
)

func main() {
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PERPX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.Backtest.DataSourceDSN == "" {
		slog.Error("backtest.data_source_dsn is required")
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	loader, err := dataloader.Open(dataloader.DefaultConfig(cfg.Backtest.DataSourceDSN), logger)
	if err != nil {
		logger.Error("failed to open historical store", "error", err)
		os.Exit(1)
	}

	var exchanges []types.Exchange
	for _, v := range cfg.Venues {
		exchanges = append(exchanges, types.Exchange(v.Exchange))
	}
	var symbols []types.Symbol
	for _, s := range cfg.Symbols {
		symbols = append(symbols, types.Symbol(s))
	}

	ctx := context.Background()
	startTs := types.Timestamp(cfg.Backtest.StartTime.UnixMilli())
	endTs := types.Timestamp(cfg.Backtest.EndTime.UnixMilli())

	events, err := loader.LoadEvents(ctx, dataloader.AllEventTypes(), exchanges, symbols, startTs, endTs)
	if err != nil {
		logger.Error("failed to load historical events", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded historical events", "count", len(events), "start", cfg.Backtest.StartTime, "end", cfg.Backtest.EndTime)

	bt, err := engine.NewBacktest(cfg, logger)
	if err != nil {
		logger.Error("failed to create backtest engine", "error", err)
		os.Exit(1)
	}

	result, err := bt.Run(ctx, events)
	if err != nil {
		logger.Error("backtest run failed", "error", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	os.Stdout.Write(out)
	os.Stdout.WriteString("\n")
}
