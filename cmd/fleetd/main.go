package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/chipfleet-control-plane/internal/anomaly"
	"github.com/xela07ax/chipfleet-control-plane/internal/audit"
	"github.com/xela07ax/chipfleet-control-plane/internal/engine"
	"github.com/xela07ax/chipfleet-control-plane/internal/infra"
	"github.com/xela07ax/chipfleet-control-plane/internal/lifecycle"
	"github.com/xela07ax/chipfleet-control-plane/internal/provider"
	"github.com/xela07ax/chipfleet-control-plane/internal/ratelimit"
	"github.com/xela07ax/chipfleet-control-plane/internal/repository/postgres"
	"github.com/xela07ax/chipfleet-control-plane/internal/server"
	"github.com/xela07ax/chipfleet-control-plane/internal/server/handler"
	"github.com/xela07ax/chipfleet-control-plane/internal/trust"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	// При завершении main() или срабатывании SIGTERM, cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(appCtx).Err(); err != nil {
		logger.Fatal("redis is unreachable", zap.Error(err))
	}

	repo, err := postgres.NewFleetRepo(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to init postgres", zap.Error(err))
	}
	defer repo.Close()
	if err := repo.Ping(appCtx); err != nil {
		logger.Fatal("postgres is unreachable", zap.Error(err))
	}

	// Журнал аудита: неблокирующая запись, пачки уходят в Postgres
	trail := audit.NewTrail(postgres.NewAuditRepo(repo.Pool()), logger)
	trail.Start()

	// 3. Control Plane (менеджеры управления)
	pauseManager := engine.NewPauseManager(rdb, logger)
	if err := pauseManager.Init(appCtx); err != nil {
		logger.Fatal("failed to init pause manager", zap.Error(err))
	}
	go pauseManager.StartListener(appCtx)

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// Экспортируем метрики для Prometheus
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Fatal("metrics endpoint failed", zap.Error(err))
		}
	}()

	// Сатурация очереди аудита: семплируем заполнение буфера
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				metrics.AuditBufferFill.Set(float64(trail.BufferFill()))
			}
		}
	}()

	// 4. Сборка ядра
	scorer := trust.NewScorer(repo, repo, logger)
	detector := anomaly.NewDetector(repo, logger)
	limiter := ratelimit.NewLimiter(repo, pauseManager, logger)
	core := engine.NewControlPlane(repo, limiter, scorer, detector, trail, metrics, logger)

	controller := lifecycle.NewController(
		repo,
		pauseManager,
		lifecycle.NewRedisTokenStore(rdb),
		trail,
		metrics,
		logger,
		cfg.Engine.BulkConcurrency,
		cfg.Engine.BulkTokenTTL,
	)

	// Heartbeat-проба провайдера, обернутая в retry + circuit breaker
	prober := provider.NewReliabilityWrapper(provider.NewHTTPPinger(cfg.Provider), cfg.Provider)

	// 5. Периодический контур: score, выпуск из фаз, heartbeat
	monitor := engine.NewMonitor(repo, rdb, scorer, detector, prober, metrics, logger, cfg.Monitor)
	if err := monitor.WarmPauseCache(appCtx, pauseManager); err != nil {
		logger.Warn("pause cache warmup failed, runtime will catch up via pub/sub", zap.Error(err))
	}
	go monitor.Run(appCtx)

	// 6. HTTP Server операторского API
	apiServer := server.NewServer(
		cfg,
		logger,
		handler.NewChipHandler(repo, controller, core),
		handler.NewAlertHandler(repo, core),
		handler.NewBulkHandler(controller),
		handler.NewMessageHandler(core),
		handler.NewDashboardHandler(repo),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("fleet control plane started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("fleet control plane stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	cancel()      // Останавливаем монитор и слушателей
	trail.Stop()  // Дожимаем хвост журнала на диск
	logger.Info("fleet control plane exited properly")
}
