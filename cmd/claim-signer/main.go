package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ghreward/cmd/internal/passphrase"
	"ghreward/crypto"
	"ghreward/observability/logging"
	"ghreward/observability/otel"
	"ghreward/rpc"
	"ghreward/services/claimsigner"
)

const serviceName = "claim-signer"

func main() {
	configPath := flag.String("config", "./claim-signer.yaml", "Path to the signer configuration file")
	flag.Parse()

	cfg, err := claimsigner.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("claim signer terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg claimsigner.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := otel.Init(ctx, cfg.Telemetry.OTel(serviceName, cfg.Environment))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	pass, err := passphrase.NewSource(cfg.Keystore.PassphraseEnv, "signer keystore").Get()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(cfg.Keystore.Path, pass)
	if err != nil {
		return fmt.Errorf("unable to decrypt keystore %s: %w", cfg.Keystore.Path, err)
	}

	store, err := claimsigner.NewStore(cfg.AuditDB, nil)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	client := rpc.NewClient(cfg.NodeRPC, "")
	checkSignerRegistration(ctx, client, key.Address(), logger)

	server, err := claimsigner.NewServer(key, client, store, claimsigner.ServerConfig{
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
		Secret:            cfg.JWT.Secret,
		ClockSkew:         cfg.JWT.ClockSkew.Duration,
		LoginClaim:        cfg.JWT.LoginClaim,
		WalletClaim:       cfg.JWT.WalletClaim,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		LimiterIdleTTL:    cfg.RateLimit.IdleTTL.Duration,
	}, logger)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddress, err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(listener) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// checkSignerRegistration warns when the ledger expects a different
// authorization signer. Signatures from an unregistered key are rejected by
// claimReward and linkIdentity.
func checkSignerRegistration(ctx context.Context, client *rpc.Client, signer crypto.Address, logger *slog.Logger) {
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	state, err := client.ProgramState(lookupCtx)
	if err != nil {
		logger.Warn("could not read program state", slog.Any("error", err))
		return
	}
	registered, err := crypto.ParseAddress(state.AuthorizationSigner)
	if err != nil || registered != signer {
		logger.Warn("signing key is not the registered authorization signer",
			slog.String("signer", signer.String()),
			slog.String("registered", state.AuthorizationSigner))
		return
	}
	logger.Info("signing key matches registered authorization signer", slog.String("signer", signer.String()))
}
