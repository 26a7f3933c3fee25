package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/bramble/config"
	"github.com/Ramsey-B/bramble/internal/handlers"
	listingrepo "github.com/Ramsey-B/bramble/internal/repositories/listing"
	"github.com/Ramsey-B/bramble/internal/repositories/mergeoperation"
	"github.com/Ramsey-B/bramble/internal/repositories/pipelinerun"
	"github.com/Ramsey-B/bramble/pkg/connectors"
	"github.com/Ramsey-B/bramble/pkg/database"
	"github.com/Ramsey-B/bramble/pkg/events"
	"github.com/Ramsey-B/bramble/pkg/httpclient"
	"github.com/Ramsey-B/bramble/pkg/kafka"
	"github.com/Ramsey-B/bramble/pkg/logging"
	"github.com/Ramsey-B/bramble/pkg/merging"
	"github.com/Ramsey-B/bramble/pkg/middleware"
	"github.com/Ramsey-B/bramble/pkg/pipeline"
	"github.com/Ramsey-B/bramble/pkg/progress"
	"github.com/Ramsey-B/bramble/pkg/redis"
	"github.com/Ramsey-B/bramble/pkg/routes/health"
	"github.com/Ramsey-B/bramble/pkg/startup"
	"github.com/Ramsey-B/bramble/pkg/tracing"
	"github.com/Ramsey-B/bramble/pkg/tracing/exporters"
)

func main() {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, flush, err := logging.New(cfg.AppName, cfg.PrettyLogs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Service terminated")
		flush()
		os.Exit(1)
	}
}

type dependency struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (d *dependency) GetName() string                 { return d.name }
func (d *dependency) DependsOn() []string             { return d.dependsOn }
func (d *dependency) Start(ctx context.Context) error { return d.start(ctx) }
func (d *dependency) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	return d.stop(ctx)
}

func run(cfg *config.Config, logger ectologger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		db          database.DB
		rawDB       *sqlx.DB
		redisClient *redis.Client
		producer    *kafka.Producer
		provider    *sdktrace.TracerProvider
	)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	boot.AddDependency(&dependency{
		name: "tracing",
		start: func(ctx context.Context) error {
			if !cfg.TracingEnabled {
				provider = tracing.Init(cfg.AppName, &exporters.ConsoleExporter{})
				return nil
			}
			exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
				Endpoint: cfg.OTLPEndpoint,
				Protocol: cfg.OTLPProtocol,
				Insecure: true,
				Timeout:  10 * time.Second,
			})
			if err != nil {
				return err
			}
			provider = tracing.Init(cfg.AppName, exporter)
			return nil
		},
		stop: func(ctx context.Context) error {
			if provider == nil {
				return nil
			}
			return provider.Shutdown(ctx)
		},
	})

	boot.AddDependency(&dependency{
		name:      "database",
		dependsOn: []string{"tracing"},
		start: func(ctx context.Context) error {
			var err error
			db, rawDB, err = database.Connect(database.Config{
				Driver:          cfg.DatabaseDriver,
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				UserName:        cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, logger)
			return err
		},
		stop: func(ctx context.Context) error {
			if db == nil {
				return nil
			}
			return db.Close()
		},
	})

	boot.AddDependency(&dependency{
		name:      "migrations",
		dependsOn: []string{"database"},
		start: func(ctx context.Context) error {
			driver, err := postgres.WithInstance(rawDB.DB, &postgres.Config{})
			if err != nil {
				return err
			}
			svc := database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             uint(cfg.DatabaseMigrationVersion),
				Force:               cfg.DatabaseMigrationForce,
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			})
			return svc.Migrate(cfg.DatabaseName, driver)
		},
	})

	boot.AddDependency(&dependency{
		name: "redis",
		start: func(ctx context.Context) error {
			var err error
			redisClient, err = redis.NewClient(redis.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, logger)
			return err
		},
		stop: func(ctx context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Close()
		},
	})

	if cfg.KafkaEnabled {
		boot.AddDependency(&dependency{
			name: "kafka",
			start: func(ctx context.Context) error {
				producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaOutputTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, logger)
				return nil
			},
			stop: func(ctx context.Context) error {
				if producer == nil {
					return nil
				}
				return producer.Close()
			},
		})
	}

	if err := boot.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := boot.Stop(stopCtx); err != nil {
			logger.WithError(err).Error("Failed to stop dependencies cleanly")
		}
	}()

	// Repositories
	listings := listingrepo.NewRepository(db, logger)
	operations := mergeoperation.NewRepository(db, logger)
	runs := pipelinerun.NewRepository(db, logger)

	// Eventing
	var emitter *events.Emitter
	if producer != nil {
		emitter = events.NewEmitter(producer, logger)
	}

	// Connectors
	registry := connectors.NewRegistry()
	client := httpclient.NewClient(httpclient.DefaultConfig(), logger)
	registry.Register(connectors.NewBizBuySell(connectors.BizBuySellConfig{
		BaseURL:        cfg.BizBuySellBaseURL,
		APIKey:         cfg.BizBuySellAPIKey,
		RequestsPerMin: cfg.ConnectorRequestsPerMin,
		RequestBurst:   cfg.ConnectorRequestBurst,
	}, client, logger))
	registry.Register(connectors.NewQuietLight(connectors.QuietLightConfig{
		BaseURL: cfg.QuietLightBaseURL,
	}, client, logger))

	// Pipeline
	bus := progress.NewBus(progress.Config{
		SubscriberBuffer: cfg.SubscriberBufferSize,
		ReplayRing:       cfg.EventReplayRingSize,
	}, logger)

	var pipelineEmitter pipeline.Emitter
	if emitter != nil {
		pipelineEmitter = emitter
	}
	orchestrator := pipeline.NewOrchestrator(registry, bus, listings, runs, pipelineEmitter, pipeline.Config{
		Concurrency:      cfg.PipelineConcurrency,
		ConnectorTimeout: cfg.ConnectorTimeout,
	}, logger)

	// Merging
	locker := merging.NewRedisLocker(redis.NewLocker(redisClient, "bramble"))
	var mergeEmitter merging.Emitter
	if emitter != nil {
		mergeEmitter = emitter
	}
	coordinator := merging.NewCoordinator(db, listings, operations, locker, mergeEmitter, merging.Config{
		LockTTL:            cfg.MergeLockTTL,
		LockAcquireTimeout: cfg.MergeLockAcquireTimeout,
	}, logger)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.WriteTimeout = 0 // SSE holds responses open
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	checker := health.NewChecker(health.PingFunc(db.PingContext), health.PingFunc(redisClient.Ping), cfg.Version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	handlers.NewCrawlHandler(registry, orchestrator, logger).Register(api)
	handlers.NewStreamHandler(orchestrator, bus, logger).Register(api)
	handlers.NewListingHandler(listings, logger).Register(api)
	handlers.NewMergeHandler(coordinator, operations, logger).Register(api)
	handlers.NewRunHandler(runs, logger).Register(api)

	checker.SetReady(true)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Infof("Starting %s on port %d", cfg.AppName, cfg.Port)
		errCh <- e.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server cleanly")
	}

	return nil
}
