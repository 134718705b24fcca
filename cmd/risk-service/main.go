package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/oil-risk-service/internal/api"
	"github.com/trogers1052/oil-risk-service/internal/cache"
	"github.com/trogers1052/oil-risk-service/internal/config"
	"github.com/trogers1052/oil-risk-service/internal/database"
	"github.com/trogers1052/oil-risk-service/internal/engine"
	"github.com/trogers1052/oil-risk-service/internal/kafka"
	"github.com/trogers1052/oil-risk-service/internal/logger"
	"github.com/trogers1052/oil-risk-service/internal/scheduler"
)

func main() {
	cfg, err := config.Load(os.Getenv("RISK_CONFIG"))
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}

	os.Exit(exitCode(log, run(cfg, log)))
}

// exitCode logs a run error and flushes the logger; os.Exit skips deferred calls
func exitCode(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("risk service stopped", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(); err != nil {
			return err
		}
		log.Info("database migrated")
	}

	catalog, err := db.LoadCatalog(ctx)
	if err != nil {
		return err
	}

	correlation, err := cfg.CorrelationSource()
	if err != nil {
		return err
	}

	deps := engine.Dependencies{
		Catalog:     catalog,
		Contracts:   db,
		Prices:      db,
		Limits:      db,
		Breaches:    db,
		Scenarios:   db,
		Snapshots:   db,
		Correlation: correlation,
	}

	var reportCache *cache.ReportCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, serving reports uncached", zap.Error(err))
		} else {
			reportCache = cache.NewReportCache(rdb, cfg.Redis.ReportTTL)
			deps.Cache = reportCache
		}
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.RiskEventTopic)
		defer producer.Close()
		deps.Publisher = producer
	}

	svc := engine.NewService(cfg.EngineConfig(), deps, log)

	handler := api.NewHandler(svc, db, db, db, log)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.SetupRoutes(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Kafka.Enabled {
		var invalidator kafka.Invalidator
		if reportCache != nil {
			invalidator = reportCache
		}
		contracts := kafka.NewContractConsumer(cfg.Kafka.Brokers, cfg.Kafka.ContractTopic, cfg.Kafka.GroupID, db, invalidator, log)
		prices := kafka.NewPriceConsumer(cfg.Kafka.Brokers, cfg.Kafka.PriceTopic, cfg.Kafka.GroupID, db, invalidator, log)
		g.Go(func() error { return contracts.Start(gctx) })
		g.Go(func() error { return prices.Start(gctx) })
	}

	if cfg.Schedule.Enabled {
		loc, err := time.LoadLocation(cfg.Schedule.Location)
		if err != nil {
			return err
		}
		sched := scheduler.New(gctx, svc, db, cfg.Schedule.RetainDays, loc, log)
		if _, err := sched.AddEndOfDay(cfg.Schedule.EndOfDay); err != nil {
			return err
		}
		sched.Start()
		g.Go(func() error {
			<-gctx.Done()
			sched.Stop()
			return nil
		})
	}

	return g.Wait()
}
