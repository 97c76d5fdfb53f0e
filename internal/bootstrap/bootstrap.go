// Package bootstrap wires configuration into a running engine. Both
// binaries start from Initialize.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simonkvalheim/fjord-microfinance/internal/config"
	"github.com/simonkvalheim/fjord-microfinance/internal/deposits"
	"github.com/simonkvalheim/fjord-microfinance/internal/goals"
	"github.com/simonkvalheim/fjord-microfinance/internal/investments"
	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/lending"
	"github.com/simonkvalheim/fjord-microfinance/internal/notify"
	"github.com/simonkvalheim/fjord-microfinance/internal/policy"
	"github.com/simonkvalheim/fjord-microfinance/internal/repository"
	"github.com/simonkvalheim/fjord-microfinance/internal/repository/memory"
	"github.com/simonkvalheim/fjord-microfinance/internal/scoring"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

// App is the assembled engine
type App struct {
	Config      *config.Config
	Log         *zap.Logger
	Catalog     *policy.Catalog
	Store       store.Store
	Ledger      *ledger.Ledger
	Scoring     *scoring.Engine
	Lending     *lending.Service
	Deposits    *deposits.Service
	Goals       *goals.Service
	Investments *investments.Service

	closers []func() error
}

// NewLogger builds a JSON production logger, or a console logger outside
// production
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zc := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// Initialize connects storage and the notification backend and assembles
// the services. Close releases everything it opened.
func Initialize(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log}

	catalog := policy.Default()
	if cfg.PolicyFile != "" {
		c, err := policy.Load(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		catalog = c
	}
	app.Catalog = catalog

	s, err := app.openStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = s

	n, err := app.openNotifier(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Ledger = ledger.New(s, catalog,
		ledger.WithLogger(log.Named("ledger")),
		ledger.WithNotifier(notify.NewDispatcher(n, log.Named("notify"))),
	)
	app.Scoring = scoring.NewEngine(s, catalog.Scoring,
		scoring.WithRecorder(s),
		scoring.WithLogger(log.Named("scoring")),
	)
	app.Lending = lending.NewService(app.Ledger, s, app.Scoring, catalog,
		lending.WithLogger(log.Named("lending")),
		lending.WithGraceDays(cfg.DefaultGraceDays),
	)
	app.Deposits = deposits.NewService(app.Ledger, s, catalog, deposits.WithLogger(log.Named("deposits")))
	app.Goals = goals.NewService(app.Ledger, s, goals.WithLogger(log.Named("goals")))
	app.Investments = investments.NewService(app.Ledger, s, catalog, investments.WithLogger(log.Named("investments")))
	return app, nil
}

// Close releases connections in reverse order of opening
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	if a.Config.Storage == config.StorageMemory {
		a.Log.Warn("using in-memory storage; data is lost on exit")
		return memory.New(), nil
	}

	pool, err := connectDB(ctx, a.Config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	s := repository.New(pool)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	a.Log.Info("connected to database")
	return s, nil
}

func (a *App) openNotifier(ctx context.Context) (notify.Notifier, error) {
	switch a.Config.NotifyBackend {
	case config.NotifyRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.RedisURL,
			Password: a.Config.RedisPassword,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Log.Info("publishing events to redis", zap.String("addr", a.Config.RedisURL))
		return notify.NewRedisNotifier(client), nil

	case config.NotifyKafka:
		n := notify.NewKafkaNotifier(a.Config.Brokers(), a.Config.KafkaTopic, a.Log.Named("kafka"))
		a.closers = append(a.closers, n.Close)
		a.Log.Info("publishing events to kafka", zap.Strings("brokers", a.Config.Brokers()), zap.String("topic", a.Config.KafkaTopic))
		return n, nil

	case config.NotifyAMQP:
		n, err := notify.NewAMQPNotifier(a.Config.AMQPURL, a.Config.AMQPExchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, n.Close)
		a.Log.Info("publishing events to amqp", zap.String("exchange", a.Config.AMQPExchange))
		return n, nil
	}
	return notify.NewLogNotifier(a.Log.Named("events")), nil
}

// connectDB creates a connection pool to PostgreSQL
func connectDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}
