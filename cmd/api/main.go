package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/internal/tracing/exporters"
	"github.com/Ramsey-B/clover/pkg/health"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tier"
)

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := newZapLogger(cfg)
	defer zapLogger.Sync()
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("clover exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger ectologger.Logger) error {
	thresholds, err := tier.ParseThresholds(cfg.TierThresholds)
	if err != nil {
		return fmt.Errorf("invalid tier thresholds: %w", err)
	}

	if cfg.OTLPEnabled {
		shutdown, err := setupTracing(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer shutdown(context.Background())
	}

	var db database.DB
	var redisClient *redis.Client
	var producer *kafka.Producer
	var consumer *kafka.Consumer
	var checker *health.Checker
	e := echo.New()
	e.HideBanner = true

	orchestrator := startup.New(logger, cfg.StartupMaxAttempts)

	orchestrator.Add(startup.NewFunc("database", nil,
		func(ctx context.Context) error {
			dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
				cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
				cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)
			sqlxDB, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
			if err != nil {
				return err
			}
			sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
			sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
			sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
			db = database.NewDatabaseInstance(sqlxDB, logger)
			return nil
		},
		func(ctx context.Context) error {
			if db == nil {
				return nil
			}
			return db.Close()
		}))

	orchestrator.Add(startup.NewFunc("migrations", []string{"database"},
		func(ctx context.Context) error {
			instance, ok := db.(*database.DatabaseInstance)
			if !ok {
				return fmt.Errorf("migrations need a concrete database instance")
			}
			driver, err := migratepg.WithInstance(instance.DB.DB, &migratepg.Config{})
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
		}, nil))

	orchestrator.Add(startup.NewFunc("redis", nil,
		func(ctx context.Context) error {
			redisClient, err = redis.NewClient(redis.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, logger)
			return err
		},
		func(ctx context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Close()
		}))

	kafkaCfg := kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaConquestTopic, cfg.KafkaRevenueTopic, cfg.KafkaConsumerGroup)

	orchestrator.Add(startup.NewFunc("kafka-producer", nil,
		func(ctx context.Context) error {
			producer = kafka.NewProducer(kafkaCfg, logger)
			return nil
		},
		func(ctx context.Context) error {
			if producer == nil {
				return nil
			}
			return producer.Close()
		}))

	// The stores (territory, intel, tier, milestone, conquest) are the engine's
	// exported API, consumed in-process by the platform gateway. This binary
	// hosts the write paths the engine drives itself: the revenue consumer
	// feeding the tier engine, plus migrations and the ops surface.
	orchestrator.Add(startup.NewFunc("revenue-consumer", []string{"database", "migrations", "redis", "kafka-producer"},
		func(ctx context.Context) error {
			tierRepo := repositories.NewProfessionalTierRepository(db, logger)
			locker := redis.NewLocker(redisClient, "clover:lock:", cfg.EntityLockTTL, cfg.EntityLockTimeout)
			tierService := tier.NewService(db, tierRepo, locker, producer, thresholds, logger)

			consumer, err = kafka.NewConsumer(kafkaCfg, logger)
			if err != nil {
				return err
			}
			return consumer.Start(ctx, tierService.HandleRevenueEvent)
		},
		func(ctx context.Context) error {
			if consumer == nil {
				return nil
			}
			return consumer.Stop()
		}))

	orchestrator.Add(startup.NewFunc("ops-listener", []string{"revenue-consumer"},
		func(ctx context.Context) error {
			checker = health.NewChecker(db, redisClient, consumer, version())
			checker.RegisterRoutes(e)
			e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

			go func() {
				if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
					logger.WithError(err).Info("ops listener stopped")
				}
			}()
			checker.SetReady(true)
			return nil
		},
		func(ctx context.Context) error {
			return e.Shutdown(ctx)
		}))

	if err := orchestrator.Start(ctx); err != nil {
		return err
	}
	logger.Infof("%s started on port %d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	orchestrator.Stop(shutdownCtx)
	return nil
}

func setupTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	tracing.SetTracer(provider.Tracer(cfg.AppName))
	return provider.Shutdown, nil
}

func newZapLogger(cfg config.Config) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func version() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return "dev"
}
