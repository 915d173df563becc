package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wallet-gateway/internal/api"
	"github.com/wallet-gateway/internal/circuitbreaker"
	"github.com/wallet-gateway/internal/config"
	"github.com/wallet-gateway/internal/gateway"
	"github.com/wallet-gateway/internal/logging"
	"github.com/wallet-gateway/internal/service"
	"github.com/wallet-gateway/internal/storage"
	"github.com/wallet-gateway/internal/wallet"
	"github.com/wallet-gateway/internal/worker"
)

// gatewayStats collects the numbers served on /stats.
type gatewayStats struct {
	registrations *storage.RegistrationRepository
	payments      *storage.PaymentRepository
	watcher       *worker.BalanceWatcher
}

func (s *gatewayStats) Stats(ctx context.Context) (api.Stats, error) {
	registrations, err := s.registrations.Count(ctx)
	if err != nil {
		return api.Stats{}, fmt.Errorf("failed to count registrations: %w", err)
	}
	pending, err := s.payments.Count(ctx)
	if err != nil {
		return api.Stats{}, fmt.Errorf("failed to count pending payments: %w", err)
	}
	return api.Stats{
		Registrations:   registrations,
		PendingPayments: pending,
		LastPoll:        s.watcher.LastPollTime(),
	}, nil
}

func main() {
	fmt.Println("Starting wallet gateway...")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"identity":     string(cfg.Gateway.Identity),
		"pollInterval": cfg.Watcher.PollInterval.String(),
	}).Info("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to Postgres")
	}
	defer postgres.Close()
	logger.Info("connected to Postgres")

	// Connect to ClickHouse
	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to ClickHouse")
	}
	defer func() {
		_ = clickhouse.Close() // nolint:errcheck // cleanup in defer
	}()
	logger.Info("connected to ClickHouse")

	// Connect to Redis
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}
	defer func() {
		_ = redis.Close() // nolint:errcheck // cleanup in defer
	}()
	logger.Info("connected to Redis")

	// Connect to the wallet RPC service
	walletClient, err := wallet.Dial(ctx, cfg.Wallet.URL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to wallet RPC")
	}
	defer walletClient.Close()
	logger.Info("connected to wallet RPC")

	walletBackend := wallet.NewGuard(walletClient,
		circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("wallet")))

	// Repositories
	registrations := storage.NewRegistrationRepository(postgres)
	payments := storage.NewPaymentRepository(postgres)
	journal := storage.NewJournalRepository(clickhouse)
	if err := journal.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("failed to prepare the payment journal schema")
	}

	// Domain services
	registry := service.NewRegistry()
	accounts := service.NewAccountService(registry, walletBackend, registrations, payments, redis, cfg.Gateway.IsAdmin)
	addresses := service.NewAddressService(walletBackend, accounts)
	resolver := service.NewResolver(cfg.Gateway.Identity, accounts, addresses)
	paymentService := service.NewPaymentService(accounts, addresses, walletBackend, payments, journal, cfg.Wallet.MinConfirmations)
	commands := service.NewCommandService(accounts, paymentService, cfg.Gateway.WarnThreshold)

	// Transport and dispatch. The link is both the event source and the sink,
	// so the dispatcher is wired to it after construction.
	var dispatcher *gateway.Dispatcher
	link := gateway.NewLink(&cfg.Transport, gateway.HandlerFunc(func(ctx context.Context, ev gateway.Event) {
		dispatcher.Handle(ctx, ev)
	}))
	dispatcher = gateway.NewDispatcher(&cfg.Gateway, accounts, resolver, commands, link)

	// Balance watcher pushes presence updates through the dispatcher
	watcher := worker.NewBalanceWatcher(accounts, dispatcher, cfg.Watcher.PollInterval)
	if err := watcher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start balance watcher")
	}

	// Ops HTTP server
	opsServer := api.NewServer(
		&api.ServerConfig{
			Host:            cfg.Ops.Host,
			Port:            cfg.Ops.Port,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		&gatewayStats{registrations: registrations, payments: payments, watcher: watcher},
		journal,
		map[string]api.Pinger{
			"postgres":   postgres,
			"clickhouse": clickhouse,
			"redis":      redis,
			"wallet":     walletClient,
		},
	)
	go func() {
		if err := opsServer.Start(); err != nil {
			logger.WithError(err).Error("ops server stopped")
		}
	}()

	// Run the messaging link until a shutdown signal arrives
	if err := link.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("messaging link failed")
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := watcher.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("balance watcher did not stop cleanly")
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("ops server did not stop cleanly")
	}

	logger.Info("wallet gateway stopped")
}
