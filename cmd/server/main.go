package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetcore/dispatch/internal/dispatch"
	"github.com/fleetcore/dispatch/internal/driver"
	"github.com/fleetcore/dispatch/internal/ingest"
	"github.com/fleetcore/dispatch/internal/lock"
	"github.com/fleetcore/dispatch/internal/payments"
	"github.com/fleetcore/dispatch/internal/realtime"
	"github.com/fleetcore/dispatch/internal/rides"
	"github.com/fleetcore/dispatch/internal/simulator"
	"github.com/fleetcore/dispatch/internal/trip"
	"github.com/fleetcore/dispatch/pkg/cache"
	"github.com/fleetcore/dispatch/pkg/common"
	"github.com/fleetcore/dispatch/pkg/config"
	"github.com/fleetcore/dispatch/pkg/database"
	"github.com/fleetcore/dispatch/internal/geoindex"
	"github.com/fleetcore/dispatch/pkg/eventbus"
	"github.com/fleetcore/dispatch/pkg/logger"
	"github.com/fleetcore/dispatch/pkg/middleware"
	redisclient "github.com/fleetcore/dispatch/pkg/redis"
	ws "github.com/fleetcore/dispatch/pkg/websocket"
	"go.uber.org/zap"
)

const (
	serviceName = "dispatch-core"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting dispatch core",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	redisClient, err := redisclient.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}()

	busCfg := eventbus.DefaultConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		busCfg.URL = url
	} else {
		busCfg.URL = nats.DefaultURL
	}
	bus, err := eventbus.New(busCfg)
	if err != nil {
		logger.Fatal("failed to connect to event bus", zap.Error(err))
	}
	defer bus.Close()

	cacheMgr := cache.NewManager(redisClient)
	geoIndex := geoindex.NewIndex(redisClient)
	lockMgr := lock.NewManager(redisClient, lock.DefaultConfig())

	// C11 is wired in two passes: the simulator needs nothing from
	// rides.Service to be constructed, but rides.Service needs the
	// simulator as its trip.Simulator. Build the simulator first, hand it
	// to dispatch/trip as their Simulator, then close the loop once
	// rides.Service exists.
	driverRepo := driver.NewRepository(db)
	ingestRepo := ingest.NewRepository(db)
	ingestPipeline := ingest.NewPipeline(ingestRepo, cacheMgr, geoIndex, bus)
	defer ingestPipeline.Stop()
	motionSim := simulator.New(driverRepo, ingestPipeline)

	dispatchRepo := dispatch.NewRepository(db)
	dispatchSvc := dispatch.NewService(dispatchRepo, geoIndex, lockMgr, bus, cacheMgr, dispatch.DefaultConfig(), motionSim)

	tripRepo := trip.NewRepository(db)
	tripSvc := trip.NewService(tripRepo, geoIndex, bus, motionSim)

	ridesRepo := rides.NewRepository(db)
	ridesSvc := rides.NewService(ridesRepo, dispatchSvc, geoIndex, bus, motionSim)
	motionSim.SetRidesService(ridesSvc)

	driverSvc := driver.NewService(driverRepo, cacheMgr, geoIndex, ridesSvc)

	paymentsRepo := payments.NewRepository(db)
	paymentsSvc := payments.NewService(paymentsRepo, cacheMgr, lockMgr, bus)

	hub := ws.NewHub()
	go hub.Run()

	realtimeSvc := realtime.NewService(hub, bus, ingestPipeline, ridesSvc)
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	if err := realtimeSvc.Start(rootCtx); err != nil {
		logger.Fatal("failed to start realtime fabric consumer groups", zap.Error(err))
	}

	go runOfferSweep(rootCtx, dispatchSvc)

	dispatchHandler := dispatch.NewHandler(dispatchSvc)
	driverHandler := driver.NewHandler(driverSvc)
	ingestHandler := ingest.NewHandler(ingestPipeline)
	paymentsHandler := payments.NewHandler(paymentsSvc)
	ridesHandler := rides.NewHandler(ridesSvc)
	tripHandler := trip.NewHandler(tripSvc)
	realtimeHandler := realtime.NewHandler(realtimeSvc)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(time.Duration(cfg.Server.ReadTimeout) * time.Second))
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS())
	router.Use(middleware.SanitizeRequest())

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))

	healthChecks := map[string]func() error{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.Ping(ctx)
		},
		"redis": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Client.Ping(ctx).Err()
		},
	}
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, healthChecks))
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The WebSocket upgrade and realtime stats sit outside /v1: the socket
	// itself carries §4.7's commands, not REST verbs, but still needs the
	// same trusted-identity read as the REST surface.
	wsGroup := router.Group("/", middleware.TrustedIdentity())
	wsGroup.GET("/ws", realtimeHandler.HandleWebSocket)
	wsGroup.GET("/realtime/stats", realtimeHandler.GetStats)

	v1 := router.Group("/v1", middleware.TrustedIdentity(), middleware.Idempotency(redisClient))
	ridesHandler.RegisterRoutes(v1)
	dispatchHandler.RegisterRoutes(v1)
	driverHandler.RegisterRoutes(v1)
	ingestHandler.RegisterRoutes(v1)
	tripHandler.RegisterRoutes(v1)
	paymentsHandler.RegisterRoutes(v1)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancelRoot()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// offerSweepInterval is how often SweepExpiredOffers runs. §4.3's offer
// lease is 15s; sweeping every 2s keeps an expired offer's staleness window
// well within what the acceptance race window tolerates.
const offerSweepInterval = 2 * time.Second

// runOfferSweep drives §4.3's "Offer expiry" background transition of
// stale pending offers to expired. Runs until ctx is cancelled.
func runOfferSweep(ctx context.Context, dispatchSvc *dispatch.Service) {
	ticker := time.NewTicker(offerSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := dispatchSvc.SweepExpiredOffers(ctx)
			if err != nil {
				logger.Warn("offer expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired stale ride offers", zap.Int64("count", n))
			}
		}
	}
}
