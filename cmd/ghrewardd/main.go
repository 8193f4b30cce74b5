package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ghreward/config"
	"ghreward/core"
	"ghreward/core/genesis"
	"ghreward/indexer"
	nativecommon "ghreward/native/common"
	"ghreward/observability/logging"
	"ghreward/observability/otel"
	"ghreward/rpc"
	"ghreward/storage"
)

const (
	serviceName    = "ghrewardd"
	genesisPathEnv = "GHR_GENESIS"
	shutdownGrace  = 10 * time.Second
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides GHR_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *genesisFlag, logger); err != nil {
		logger.Error("node terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, genesisFlag string, logger *slog.Logger) error {
	telemetry := cfg.Telemetry.OTel(serviceName, cfg.Environment)
	telemetry.Attributes = map[string]string{"ghr.chain_id": strconv.FormatUint(cfg.ChainID, 10)}
	if cfg.ProgramID != "" {
		telemetry.Attributes["ghr.program_id"] = cfg.ProgramID
	}
	shutdownTelemetry, err := otel.Init(ctx, telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	var spec *genesis.Spec
	if path := resolveGenesisPath(genesisFlag, cfg.GenesisFile, os.LookupEnv); path != "" {
		spec, err = genesis.LoadSpec(path)
		if err != nil {
			return fmt.Errorf("load genesis spec: %w", err)
		}
	}
	programID, err := cfg.ProgramKey()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	node, err := core.NewNode(db, core.Options{
		ChainID:   cfg.ChainID,
		ProgramID: programID,
		Genesis:   spec,
		Pauses:    nativecommon.NewPauseSet(cfg.Pauses.Modules()),
		Logger:    logger,
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	operator, err := cfg.LoadKey()
	if err != nil {
		return fmt.Errorf("unlock node keystore %s: %w", cfg.KeystorePath, err)
	}
	logger.Info("ledger opened",
		slog.String("program_id", programID.String()),
		slog.String("operator", operator.Address().String()),
		slog.Uint64("height", node.Height()),
		slog.String("root", node.StateRoot().Hex()))

	var claims rpc.ClaimIndex
	indexerDone := make(chan struct{})
	indexerCtx, stopIndexer := context.WithCancel(context.Background())
	defer stopIndexer()
	if dsn := strings.TrimSpace(cfg.IndexerDSN); dsn != "" {
		gdb, err := indexer.Open(dsn)
		if err != nil {
			return err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			defer sqlDB.Close()
		}
		idx, err := indexer.New(gdb, logger)
		if err != nil {
			return err
		}
		node.Subscribe(idx)
		claims = idx
		go func() {
			defer close(indexerDone)
			_ = idx.Run(indexerCtx)
		}()
		logger.Info("event indexer enabled")
	} else {
		close(indexerDone)
	}

	rpcToken := cfg.RPC.Token()
	if rpcToken == "" {
		logger.Warn("RPC auth token not configured; transaction submission disabled")
	}
	server := rpc.NewServer(node, claims, rpc.ServerConfig{
		AuthToken:         rpcToken,
		TrustProxyHeaders: cfg.RPC.TrustProxyHeaders,
		TxPerMinute:       cfg.RPC.TxPerMinute,
		TxBurst:           cfg.RPC.TxBurst,
		WSOriginPatterns:  append([]string{}, cfg.RPC.WSOriginPatterns...),
	}, logger)

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddress, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(listener)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	stopIndexer()
	<-indexerDone
	logger.Info("node stopped", slog.Uint64("height", node.Height()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type envLookupFunc func(string) (string, bool)

func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}
