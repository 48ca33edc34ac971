package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lucmuss/audio-transcriber/pkg/config"
	"github.com/lucmuss/audio-transcriber/pkg/models"
)

// ErrJobNotFound is returned for unknown or expired job IDs.
var ErrJobNotFound = errors.New("job not found")

// Store persists transcription jobs.
type Store interface {
	Save(job *models.TranscriptionJob) error

	// Get returns a copy of the job; mutate it through Update.
	Get(jobID string) (*models.TranscriptionJob, error)

	// Update applies updateFn to the stored job.
	Update(jobID string, updateFn func(*models.TranscriptionJob)) error

	// List returns jobs, newest first.
	List() ([]*models.TranscriptionJob, error)

	Delete(jobID string) error

	Close() error
}

// ExpiredJobCleaner is implemented by stores whose records expire on their own.
type ExpiredJobCleaner interface {
	CleanExpiredJobs() (int, error)
}

func notFound(jobID string) error {
	return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

// New opens the store selected by cfg.Type.
func New(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		return NewJobStore(), nil
	case "redis":
		return NewRedisJobStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	case "postgres":
		return NewPostgresJobStore(cfg.Postgres.DSN)
	case "hybrid":
		redisStore, err := NewRedisJobStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			return nil, err
		}
		pgStore, err := NewPostgresJobStore(cfg.Postgres.DSN)
		if err != nil {
			redisStore.Close()
			return nil, err
		}
		return NewHybridJobStore(redisStore, pgStore), nil
	default:
		return nil, &models.ConfigError{Field: "storage.type", Reason: "unsupported storage type " + cfg.Type}
	}
}
