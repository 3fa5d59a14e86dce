package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"custodia/internal/chain"
	"custodia/internal/config"
	"custodia/internal/escrow"
	"custodia/internal/metrics"
	"custodia/internal/oracle"
	"custodia/internal/registry"
	"custodia/internal/server"
	"custodia/internal/submit"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	ctx := context.Background()

	var store escrow.Store = escrow.NewMemoryStore()
	if cfg.Storage.PostgresDSN != "" {
		pg, err := escrow.NewPostgresStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres store error")
		}
		defer pg.Close()
		store = pg
	}

	var chainClient chain.Client = chain.NewFakeClient()
	if cfg.Chain.PrivateKey != "" {
		ethClient, err := chain.NewEthClient(ctx, chain.EthClientConfig{
			RPCURL:           cfg.Chain.RPCURL,
			PrivateKeyHex:    cfg.Chain.PrivateKey,
			VaultContract:    cfg.Settings.Contracts.EscrowVault,
			RegistryContract: cfg.Settings.Contracts.DocumentRegistry,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("chain client error")
		}
		chainClient = ethClient
	} else {
		log.Warn().Msg("no signing key configured, using in-memory chain client")
	}

	set := metrics.New()

	submitter := submit.New(chainClient,
		submit.Policy{
			MaxAttempts: cfg.Settings.Retry.MaxAttempts,
			BaseDelay:   cfg.Settings.RetryDelay(),
		},
		submit.Config{
			GasLimit:                cfg.Settings.Fees.GasLimit,
			FeeCeiling:              cfg.Settings.FeeCeilingWei(),
			SafetyMultiplierPercent: cfg.Settings.Fees.SafetyMultiplierPercent,
			Confirmations:           cfg.Settings.Chain.Confirmations,
		},
		set, log)

	escrowManager := escrow.NewManager(store, submitter, chainClient, escrow.Config{
		Currency: cfg.Settings.Currency.Symbol,
		Decimals: cfg.Settings.Currency.Decimals,
	}, set, log)

	evaluator := oracle.NewEvaluator(
		buildWeatherProvider(cfg, log),
		buildTrackingProvider(cfg, log),
		buildIndexProvider(cfg, log),
		set, log)

	registryManager := registry.NewManager(submitter, chainClient, log)

	opsServer := server.NewServer(cfg, server.Deps{
		Metrics:  set,
		Chain:    chainClient,
		Store:    store,
		Escrow:   escrowManager,
		Oracle:   evaluator,
		Registry: registryManager,
	}, log)

	go func() {
		if err := opsServer.Start(); err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = opsServer.Shutdown(shutdownCtx)
}

func buildWeatherProvider(cfg *config.AppConfig, log zerolog.Logger) oracle.WeatherProvider {
	if cfg.Settings.Providers.WeatherURL == "" {
		return nil
	}
	p, err := oracle.NewHTTPWeatherProvider(cfg.Settings.Providers.WeatherURL, cfg.Settings.ProviderTimeout())
	if err != nil {
		log.Fatal().Err(err).Msg("weather provider error")
	}
	return p
}

func buildTrackingProvider(cfg *config.AppConfig, log zerolog.Logger) oracle.TrackingProvider {
	if cfg.Settings.Providers.TrackingURL == "" {
		return nil
	}
	p, err := oracle.NewHTTPTrackingProvider(cfg.Settings.Providers.TrackingURL, cfg.TrackingAPIKey, cfg.Settings.ProviderTimeout())
	if err != nil {
		log.Fatal().Err(err).Msg("tracking provider error")
	}
	return p
}

func buildIndexProvider(cfg *config.AppConfig, log zerolog.Logger) oracle.IndexProvider {
	if cfg.Settings.Providers.IndexURL == "" {
		return nil
	}
	p, err := oracle.NewHTTPIndexProvider(cfg.Settings.Providers.IndexURL, cfg.Settings.ProviderTimeout())
	if err != nil {
		log.Fatal().Err(err).Msg("index provider error")
	}
	return p
}
