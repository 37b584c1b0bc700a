package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/mr1hm/gnss-integrity-monitor/internal/api"
	"github.com/mr1hm/gnss-integrity-monitor/internal/cache"
	"github.com/mr1hm/gnss-integrity-monitor/internal/config"
	internalgrpc "github.com/mr1hm/gnss-integrity-monitor/internal/grpc"
	"github.com/mr1hm/gnss-integrity-monitor/internal/ingestion"
	"github.com/mr1hm/gnss-integrity-monitor/internal/logging"
	"github.com/mr1hm/gnss-integrity-monitor/internal/metrics"
	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
	"github.com/mr1hm/gnss-integrity-monitor/internal/orchestrator"
	"github.com/mr1hm/gnss-integrity-monitor/internal/planning"
	"github.com/mr1hm/gnss-integrity-monitor/internal/propagation"
	"github.com/mr1hm/gnss-integrity-monitor/internal/repository"
	"github.com/mr1hm/gnss-integrity-monitor/internal/risk"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "primary", cfg.Primary.Enabled)

	defaultGroup, ok := models.ParseGroup(cfg.Engine.DefaultGroup)
	if !ok {
		logging.Fatalf("Unknown default group: %s", cfg.Engine.DefaultGroup)
	}
	site := models.ObserverPosition{
		Latitude:  cfg.Engine.Latitude,
		Longitude: cfg.Engine.Longitude,
		Altitude:  cfg.Engine.Altitude,
	}
	thresholds := risk.FromConfig(cfg.Thresholds)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	collector, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		logging.Fatalf("Failed to register metrics: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Data sources, each behind its own TTL cache
	elements := ingestion.NewElementStore(ingestion.ElementStoreConfig{
		BaseURL:  cfg.Sources.CelesTrakURL,
		TTL:      cfg.Sources.ElementsTTL,
		Timeout:  cfg.Sources.HTTPTimeout,
		Failures: collector,
	}, cache.New[[]models.OrbitalElementSet]("elements", cache.WithObserver(collector)), nil)

	weather := ingestion.NewWeatherFeed(ingestion.WeatherFeedConfig{
		BaseURL:  cfg.Sources.SWPCURL,
		TTL:      cfg.Sources.WeatherTTL,
		Timeout:  cfg.Sources.HTTPTimeout,
		Failures: collector,
	}, ingestion.NewWeatherCaches(cache.WithObserver(collector)), nil)

	engine := propagation.NewEngine(propagation.EngineConfig{
		MaxElementAge: cfg.Engine.ElementMaxAge,
	}, elements, propagation.NewSGP4Propagator(), nil)

	// Create broadcaster for gRPC streaming
	broadcaster := internalgrpc.NewBroadcaster()

	breaker := orchestrator.NewBreaker(cfg.Primary.FailureThreshold, cfg.Primary.Cooldown, time.Now,
		func(s orchestrator.BreakerState) {
			collector.BreakerState(string(s))
			slog.Warn("primary breaker state changed", "state", s)
		})

	orch := orchestrator.New(orchestrator.Config{
		Mask:           cfg.Engine.ElevationMask,
		Thresholds:     thresholds,
		DefaultGroup:   defaultGroup,
		DefaultSite:    site,
		PrimaryEnabled: cfg.Primary.Enabled,
	}, orchestrator.NewPrimaryClient(cfg.Primary.URL, cfg.Primary.Timeout), breaker, elements, engine, weather,
		orchestrator.WithHistory(db),
		orchestrator.WithBroadcaster(broadcaster),
		orchestrator.WithRecorder(collector),
	)

	finder := planning.NewFinder(planning.Config{Workers: cfg.Worker.Count}, elements, engine, weather, orch, nil)

	// Start ingestion manager
	mgr, err := ingestion.NewManager(cfg, elements, weather, orch, ingestion.WithWeatherArchive(weather, db))
	if err != nil {
		logging.Fatalf("Failed to create ingestion manager: %v", err)
	}
	mgr.Start(ctx)

	// Start gRPC server
	grpcServer := internalgrpc.NewServer(orch, db, broadcaster, defaultGroup,
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(collector.StreamServerInterceptor()),
	)
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(collector.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.GET("/metrics", gin.WrapH(collector.Handler()))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

	handler := api.NewHandler(api.Deps{
		Status:     orch,
		Windows:    finder,
		Visibility: engine,
		Weather:    weather,
		Statuses:   db,
		Snapshots:  db,
	}, api.Defaults{
		Group:        defaultGroup,
		Observer:     site,
		Mask:         cfg.Engine.ElevationMask,
		PlanningStep: cfg.Engine.PlanningStep,
		Thresholds:   thresholds,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	broadcaster.Close() // Close all streams gracefully
	grpcServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
