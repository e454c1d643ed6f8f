package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pulseone-control-plane/internal/audit"
	"github.com/xela07ax/pulseone-control-plane/internal/console/handler"
	"github.com/xela07ax/pulseone-control-plane/internal/console/server"
	"github.com/xela07ax/pulseone-control-plane/internal/console/service"
	"github.com/xela07ax/pulseone-control-plane/internal/engine"
	"github.com/xela07ax/pulseone-control-plane/internal/infra"
	"github.com/xela07ax/pulseone-control-plane/internal/infra/auth"
	"github.com/xela07ax/pulseone-control-plane/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Контекст жизни фоновых слушателей: отменяется по SIGINT/SIGTERM
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Postgres: справочник агентов, пользователи, аудит
	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required (DATABASE_URL)")
	}
	initCtx, cancel := context.WithTimeout(appCtx, 5*time.Second)
	repo, err := postgres.NewAgentRepo(initCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		cancel()
		logger.Fatal("database unreachable", zap.Error(err))
	}
	if err := repo.EnsureSchema(initCtx); err != nil {
		cancel()
		logger.Fatal("schema migration failed", zap.Error(err))
	}
	cancel()

	// 3. Redis: Pub/Sub команд, heartbeat агентов, сигналы обслуживания
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 4. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 5. Аудит команд: асинхронно, пачками в command_audit
	journal := audit.NewCommandJournal(postgres.NewAuditRepo(repo.Pool()), audit.Options{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
		Fill:          metrics.AuditBufferFill,
	}, logger)
	journal.Start()

	// 6. Режим обслуживания: прогрев L1 из БД и подписка на сигналы остальных инстансов
	maintenance := engine.NewMaintenanceManager(rdb, repo, logger)
	if err := maintenance.Init(appCtx); err != nil {
		logger.Fatal("failed to init maintenance manager", zap.Error(err))
	}
	go maintenance.StartListener(appCtx)

	watcher := engine.NewStatusWatcher(rdb, metrics, logger)
	go watcher.Run(appCtx)

	// 7. gRPC health: статус агентов для внешнего мониторинга
	reporter := engine.NewHealthReporter(logger)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		logger.Fatal("failed to listen gRPC", zap.String("addr", cfg.GRPC.Addr), zap.Error(err))
	}
	grpcSrv, grpcErr := reporter.Serve(lis)

	// 8. Ядро: реестр клиентов агентов и диспетчер команд
	registry, err := engine.NewRegistry(repo, cfg.Agents, engine.RegistryOptions{
		Logger:      logger,
		Metrics:     metrics,
		Observer:    reporter,
		Maintenance: maintenance,
		Auditor:     journal,
	})
	if err != nil {
		logger.Fatal("failed to build agent registry", zap.Error(err))
	}
	dispatcher := engine.NewCommandDispatcher(rdb, registry, journal, metrics, logger, engine.DispatcherOptions{})

	// 9. Console API
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("auth private key", zap.Error(err))
	}

	agentService := service.NewAgentService(registry, dispatcher, repo, maintenance, logger)
	console := server.NewConsoleServer(logger, auth.NewBaseValidator(pubKey),
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		server.Handlers{
			Auth:      handler.NewAuthHandler(service.NewAuthService(repo, privKey, cfg.Auth.TokenTTL)),
			Agents:    handler.NewAgentHandler(agentService, logger),
			Devices:   handler.NewDeviceHandler(registry),
			Commands:  handler.NewCommandHandler(agentService, logger),
			Dashboard: handler.NewDashboardHandler(agentService),
			Audit:     handler.NewAuditHandler(service.NewAuditService(postgres.NewAuditRepo(repo.Pool()))),
		})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr), zap.String("grpc", cfg.GRPC.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	// 10. Graceful Shutdown
	select {
	case <-appCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErr:
		logger.Error("http server failed", zap.Error(err))
	case err := <-grpcErr:
		logger.Error("grpc server failed", zap.Error(err))
	}
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	reporter.Shutdown()
	grpcSrv.GracefulStop()

	// Таймеры health-check и пулы соединений всех агентов
	registry.Shutdown()

	// Дописываем хвост аудита до закрытия пула БД
	journal.Stop()

	if err := rdb.Close(); err != nil {
		logger.Warn("redis close failed", zap.Error(err))
	}
	repo.Close()
	logger.Info("console exited properly")
}
