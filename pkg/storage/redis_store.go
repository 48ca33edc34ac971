package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

const (
	redisKeyPrefix = "audio-transcriber:job:"
	redisIndexKey  = "audio-transcriber:jobs:index"
)

// RedisJobStore keeps jobs as JSON strings with a TTL and a sorted-set index
// scored by creation time.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
	ctx    context.Context
}

// NewRedisJobStore connects and pings the server.
func NewRedisJobStore(addr, password string, db int, ttl time.Duration) (*RedisJobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisJobStore{
		client: client,
		ttl:    ttl,
		ctx:    ctx,
	}, nil
}

func (rs *RedisJobStore) key(jobID string) string {
	return redisKeyPrefix + jobID
}

func (rs *RedisJobStore) Save(job *models.TranscriptionJob) error {
	return rs.save(rs.client, job)
}

func (rs *RedisJobStore) save(c redis.Cmdable, job *models.TranscriptionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	_, err = c.TxPipelined(rs.ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(rs.ctx, rs.key(job.JobID), data, rs.ttl)
		pipe.ZAdd(rs.ctx, redisIndexKey, redis.Z{
			Score:  float64(job.CreatedAt.Unix()),
			Member: job.JobID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.JobID, err)
	}
	return nil
}

func (rs *RedisJobStore) Get(jobID string) (*models.TranscriptionJob, error) {
	return rs.get(rs.client, jobID)
}

func (rs *RedisJobStore) get(c redis.Cmdable, jobID string) (*models.TranscriptionJob, error) {
	data, err := c.Get(rs.ctx, rs.key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}

	var job models.TranscriptionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// Update runs read-modify-write under WATCH so concurrent updates from the
// API and a worker do not overwrite each other.
func (rs *RedisJobStore) Update(jobID string, updateFn func(*models.TranscriptionJob)) error {
	key := rs.key(jobID)
	for attempt := 0; attempt < 5; attempt++ {
		err := rs.client.Watch(rs.ctx, func(tx *redis.Tx) error {
			job, err := rs.get(tx, jobID)
			if err != nil {
				return err
			}
			updateFn(job)
			return rs.save(tx, job)
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("update job %s: too much contention", jobID)
}

func (rs *RedisJobStore) List() ([]*models.TranscriptionJob, error) {
	jobIDs, err := rs.client.ZRevRange(rs.ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read job index: %w", err)
	}

	jobs := make([]*models.TranscriptionJob, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		job, err := rs.Get(jobID)
		if errors.Is(err, ErrJobNotFound) {
			// expired, drop it from the index
			rs.client.ZRem(rs.ctx, redisIndexKey, jobID)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (rs *RedisJobStore) Delete(jobID string) error {
	deleted, err := rs.client.Del(rs.ctx, rs.key(jobID)).Result()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	rs.client.ZRem(rs.ctx, redisIndexKey, jobID)
	if deleted == 0 {
		return notFound(jobID)
	}
	return nil
}

func (rs *RedisJobStore) Close() error {
	return rs.client.Close()
}

// CleanExpiredJobs drops index entries whose job key has expired.
func (rs *RedisJobStore) CleanExpiredJobs() (int, error) {
	jobIDs, err := rs.client.ZRange(rs.ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, jobID := range jobIDs {
		exists, err := rs.client.Exists(rs.ctx, rs.key(jobID)).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			rs.client.ZRem(rs.ctx, redisIndexKey, jobID)
			removed++
		}
	}
	return removed, nil
}
