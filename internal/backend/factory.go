package backend

import (
	"context"
	"errors"
	"fmt"
	"os"

	"jobdesk/internal/amqp"
	"jobdesk/internal/jobs/memory"
	"jobdesk/internal/log"
	"jobdesk/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	if err := f.seedSQLite(ctx, repo, config.SeedFile); err != nil {
		repo.Close()
		return nil, err
	}

	// A broker that is down at startup only delays delivery: invoice events
	// wait in the outbox and the client redials on the next publish.
	var amqpClient *amqp.Client
	if config.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("AMQP broker unreachable, invoice events stay queued until it is back", log.FieldError, err)
			amqpClient = amqp.NewLazyClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", amqpClient != nil)

	result := &BackendResult{
		Store: repo,
		Ready: repo.Ping,
		Cleanup: func() error {
			var errs []error
			if amqpClient != nil {
				errs = append(errs, amqpClient.Close())
			}
			errs = append(errs, repo.Close())
			return errors.Join(errs...)
		},
	}
	if amqpClient != nil {
		result.Publisher = amqpClient
	}
	return result, nil
}

// seedSQLite loads jobs from path into an empty database. A missing seed
// file is not an error: a fresh database simply starts without jobs.
func (f *DefaultFactory) seedSQLite(ctx context.Context, repo *storage.SQLiteRepository, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f.logger.Debug("No seed file, skipping", "seed_file", path)
		return nil
	}

	seed, err := memory.ReadSeed(path)
	if err != nil {
		return fmt.Errorf("load seed jobs: %w", err)
	}
	n, err := repo.SeedJobs(ctx, seed)
	if err != nil {
		return fmt.Errorf("seed jobs: %w", err)
	}
	if n > 0 {
		f.logger.Info("Seeded jobs", "count", n, "seed_file", path)
	}
	return nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	if config.AMQPURL != "" {
		f.logger.Warn("AMQP is only used with the sqlite backend, ignoring AMQP_URL")
	}

	store := memory.NewFromFile(config.SeedFile)
	f.logger.Info("Initialized memory backend", "seed_file", config.SeedFile)

	return &BackendResult{
		Store: store,
	}, nil
}
