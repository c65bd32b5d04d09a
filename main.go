package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seawatch/config"
	"seawatch/internal/database"
	"seawatch/internal/handler"
	"seawatch/internal/limiter"
	"seawatch/internal/logger"
	"seawatch/internal/messaging"
	"seawatch/internal/middleware"
	"seawatch/internal/repository"
	"seawatch/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

// backend is the storage wiring selected by storage.driver.
type backend struct {
	reports service.ReportStore
	users   service.UserDirectory
	outbox  *repository.OutboxRepository
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	cfg, err := config.LoadConfig("config/config.json")
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	defer store.close()
	log.WithField("driver", cfg.Storage.Driver).Info("Storage ready")

	// Events are relayed only when the store writes an outbox.
	var outboxMonitor handler.OutboxMonitor
	if store.outbox != nil && cfg.RabbitMQ.Enabled() {
		rmq, err := messaging.NewRabbitMQ(cfg.RabbitMQ.AMQPURL(), log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		worker := messaging.NewOutboxWorker(store.outbox, rmq, log)
		worker.Start(ctx)
		defer worker.Stop()
		outboxMonitor = worker
		log.Info("Outbox relay started")
	}

	reportService := service.NewReportService(store.reports, store.users, log)
	reportHandler := handler.NewReportHandler(reportService, log)
	healthHandler := handler.NewHealthHandler(reportService, outboxMonitor, cfg.Storage.Driver)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.Metrics())
	r.Use(middleware.RequestLogger(log))

	r.GET("/health", healthHandler.Health)
	r.GET("/health/detailed", healthHandler.Detailed)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// A stale token on a public read falls back to anonymous; routes that
	// need a caller reject it.
	public := gin.HandlersChain{middleware.OptionalAuthenticate(cfg.JWT.Secret)}
	protected := gin.HandlersChain{middleware.Authenticate(cfg.JWT.Secret)}
	if cfg.RateLimit.Enabled {
		if l := newRateLimiter(ctx, cfg, log); l != nil {
			protected = append(protected, middleware.RateLimit(l, log))
		}
	}
	reportHandler.RegisterRoutes(r.Group("/api/reports"), public, protected)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("Report service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
}

func openBackend(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*backend, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := database.OpenPostgres(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, err
		}
		if err := database.MigratePostgres(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		outbox := repository.NewOutboxRepository(db)
		return &backend{
			reports: repository.NewReportRepository(db, outbox),
			users:   repository.NewUserRepository(db),
			outbox:  outbox,
			closers: []func(){closeDB(db, log)},
		}, nil

	case config.DriverMongo:
		client, err := database.ConnectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.Mongo.Database)
		if err := database.EnsureMongoIndexes(ctx, db); err != nil {
			disconnectMongo(client, log)()
			return nil, err
		}
		return &backend{
			reports: repository.NewMongoReportRepository(db),
			users:   repository.NewMongoUserRepository(db),
			closers: []func(){disconnectMongo(client, log)},
		}, nil

	default:
		log.Warn("Using in-memory storage; data is lost on restart")
		return &backend{
			reports: repository.NewMemoryReportRepository(),
			users:   repository.NewMemoryUserDirectory(),
		}, nil
	}
}

// newRateLimiter returns nil when Redis is unreachable so requests are never
// blocked by the limiter.
func newRateLimiter(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) middleware.Limiter {
	if cfg.Redis.URL == "" {
		log.Warn("Rate limiting enabled but redis.url is empty; skipping")
		return nil
	}
	client, err := limiter.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable; rate limiting disabled")
		return nil
	}
	window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
	return limiter.NewRedisLimiter(client, cfg.RateLimit.Limit, window)
}

func closeDB(db *sql.DB, log logrus.FieldLogger) func() {
	return func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("Failed to close database")
		}
	}
}

func disconnectMongo(client *mongo.Client, log logrus.FieldLogger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	}
}
