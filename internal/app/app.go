package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/vista-api/internal/artifact"
	"github.com/phrazzld/vista-api/internal/config"
	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/events"
	"github.com/phrazzld/vista-api/internal/platform/gemini"
	"github.com/phrazzld/vista-api/internal/platform/kafka"
	"github.com/phrazzld/vista-api/internal/platform/memory"
	"github.com/phrazzld/vista-api/internal/platform/nats"
	"github.com/phrazzld/vista-api/internal/platform/postgres"
	"github.com/phrazzld/vista-api/internal/platform/redis"
	"github.com/phrazzld/vista-api/internal/processing"
	"github.com/phrazzld/vista-api/internal/queue"
	"github.com/phrazzld/vista-api/internal/redact"
	"github.com/phrazzld/vista-api/internal/service"
	"github.com/phrazzld/vista-api/internal/store"
	"github.com/phrazzld/vista-api/internal/task"
)

// DefaultPurgeInterval is how often expired postgres rows are deleted.
const DefaultPurgeInterval = 5 * time.Minute

// Components holds every long-lived dependency built from the configuration.
type Components struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.TaskStore
	Broker   queue.Broker
	Files    *artifact.Store
	Registry *task.Registry
	Executor *task.Executor
	Emitter  *events.InMemoryEventEmitter
	Stats    *events.Stats

	redisClient *goredis.Client
	db          *sql.DB
	pgStore     *postgres.TaskStore
}

// New builds the components selected by cfg. On error everything opened so
// far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{Config: cfg, Logger: logger}
	if err := c.init(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	logger.Info("components initialized",
		slog.String("store", cfg.Store.Backend),
		slog.String("broker", cfg.Broker.Backend),
		slog.String("renderer", cfg.Processing.Renderer),
		slog.Bool("store_fallback", cfg.Store.Fallback))
	return c, nil
}

func (c *Components) init(ctx context.Context) error {
	var err error
	c.Files, err = artifact.NewStore(c.Config.Files.UploadDir, c.Config.Files.OutputDir, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to prepare artifact directories: %w", err)
	}

	if c.Store, err = c.openStore(ctx); err != nil {
		return err
	}
	if c.Broker, err = c.openBroker(ctx); err != nil {
		return err
	}

	c.Stats = events.NewStats()
	c.Emitter = events.NewInMemoryEventEmitter(c.Logger)
	c.Emitter.RegisterHandler(c.Stats)

	if c.Registry, err = c.newRegistry(ctx); err != nil {
		return err
	}
	c.Executor = task.NewExecutor(c.Store, c.Registry, c.Emitter, c.Config.Worker.ProcessingTimeout, c.Logger)
	return nil
}

// redis returns the shared Redis client, dialing it on first use. A failed
// ping is returned alongside a usable client; go-redis reconnects lazily.
func (c *Components) redis(ctx context.Context) (*goredis.Client, error) {
	if c.redisClient != nil {
		return c.redisClient, nil
	}
	rc := c.Config.Redis
	client, err := redis.NewClient(ctx, redis.Config{
		Addr:        rc.Addr,
		Password:    rc.Password,
		DB:          rc.DB,
		PoolSize:    rc.PoolSize,
		DialTimeout: rc.DialTimeout,
	})
	c.redisClient = client
	return client, err
}

func (c *Components) openStore(ctx context.Context) (store.TaskStore, error) {
	cfg := c.Config.Store

	var primary store.TaskStore
	switch cfg.Backend {
	case "memory":
		return memory.NewTaskStore(cfg.TTL), nil

	case "redis":
		client, err := c.redis(ctx)
		if err != nil {
			if !cfg.Fallback {
				return nil, fmt.Errorf("task store: %w", err)
			}
			c.Logger.Warn("redis unreachable at startup, serving from the in-process fallback",
				slog.String("error", redact.Error(err)))
		}
		primary = redis.NewTaskStore(client, cfg.KeyPrefix, cfg.TTL, c.Logger)

	case "postgres":
		db, err := postgres.Open(ctx, c.Config.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("task store: %w", err)
		}
		c.db = db
		if err := postgres.Migrate(ctx, db, c.Logger); err != nil {
			return nil, err
		}
		c.pgStore = postgres.NewTaskStore(db, cfg.TTL)
		primary = c.pgStore

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if !cfg.Fallback {
		return primary, nil
	}
	// The fallback keeps records for the life of the process
	return store.NewFailoverStore(primary, memory.NewTaskStore(0), c.Logger), nil
}

func (c *Components) openBroker(ctx context.Context) (queue.Broker, error) {
	cfg := c.Config
	switch cfg.Broker.Backend {
	case "memory":
		return memory.NewBroker(), nil

	case "redis":
		client, err := c.redis(ctx)
		if err != nil {
			c.Logger.Warn("redis broker unreachable at startup, tasks will be recovered by polling",
				slog.String("error", redact.Error(err)))
		}
		return redis.NewBroker(client), nil

	case "nats":
		b, err := nats.Connect(cfg.NATS.URL, c.Logger)
		if err != nil {
			return nil, fmt.Errorf("queue broker: %w", err)
		}
		return b, nil

	case "kafka":
		b, err := kafka.NewBroker(cfg.Kafka, queue.Names(cfg.Broker.QueuePrefix), c.Logger)
		if err != nil {
			return nil, fmt.Errorf("queue broker: %w", err)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Broker.Backend)
	}
}

func (c *Components) newRegistry(ctx context.Context) (*task.Registry, error) {
	cfg := c.Config.Processing

	var renderer processing.Renderer
	if cfg.Renderer == "gemini" {
		r, err := gemini.NewRenderer(ctx, c.Config.LLM, c.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize staging renderer: %w", err)
		}
		renderer = r
	}

	registry := task.NewRegistry()
	registry.Register(domain.TaskTypeDenoise, processing.NewDenoiseHandler(c.Files, processing.DenoiseConfig{
		UpscaleFactor: cfg.UpscaleFactor,
		Sigma:         cfg.DenoiseSigma,
	}, c.Logger))
	registry.Register(domain.TaskTypeVirtual,
		processing.NewVirtualStagingHandler(c.Files, nil, renderer, c.Logger))
	return registry, nil
}

// NewTaskService builds the gateway service over the components.
func (c *Components) NewTaskService() *service.TaskService {
	return service.NewTaskService(c.Store, c.Broker, c.Files, c.Executor, service.Config{
		QueuePrefix:    c.Config.Broker.QueuePrefix,
		InlineFallback: c.Config.Gateway.InlineFallback,
		StaleGrace:     c.Config.Gateway.StaleGrace,
		MaxImagePixels: c.Config.Server.MaxImagePixels,
	}, c.Logger, service.WithStats(c.Stats), service.WithEmitter(c.Emitter))
}

// NewWorkerPool builds a worker pool draining every task queue.
func (c *Components) NewWorkerPool() *task.WorkerPool {
	w := c.Config.Worker
	return task.NewWorkerPool(c.Broker, c.Executor, task.WorkerPoolConfig{
		WorkerCount:      w.Count,
		Queues:           queue.Names(c.Config.Broker.QueuePrefix),
		PopTimeout:       w.PopTimeout,
		IdleSleep:        w.IdleSleep,
		ReconnectBackoff: w.ReconnectBackoff,
		DrainTimeout:     c.Config.Server.ShutdownTimeout,
	}, c.Logger)
}

// Backends describes the configured store and broker with credentials removed.
func (c *Components) Backends() map[string]string {
	cfg := c.Config
	out := map[string]string{
		"store":  cfg.Store.Backend,
		"broker": cfg.Broker.Backend,
	}
	if cfg.Store.Backend == "redis" || cfg.Broker.Backend == "redis" {
		out["redis_addr"] = cfg.Redis.Addr
	}
	if cfg.Store.Backend == "postgres" {
		out["database_url"] = postgres.MaskURL(cfg.Database.URL)
	}
	switch cfg.Broker.Backend {
	case "nats":
		out["nats_url"] = redact.URL(cfg.NATS.URL)
	case "kafka":
		out["kafka_brokers"] = fmt.Sprint(cfg.Kafka.Brokers)
	}
	return out
}

// RunJanitor deletes expired postgres rows every interval until ctx ends.
// It returns immediately for other store backends.
func (c *Components) RunJanitor(ctx context.Context, interval time.Duration) {
	if c.pgStore == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.pgStore.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.Logger.Warn("failed to purge expired tasks", slog.String("error", redact.Error(err)))
				}
				continue
			}
			if n > 0 {
				c.Logger.Info("purged expired tasks", slog.Int64("count", n))
			}
		}
	}
}

// Close releases the broker, the Redis client and the database.
func (c *Components) Close() error {
	var errs []error
	if c.Broker != nil {
		errs = append(errs, c.Broker.Close())
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}
