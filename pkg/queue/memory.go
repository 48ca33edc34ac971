package queue

import (
	"context"
	"sync"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

// MemoryQueue is a buffered channel queue for single-process deployments.
type MemoryQueue struct {
	mu     sync.RWMutex
	queue  chan *models.TranscriptionJob
	closed chan struct{}
}

// NewMemoryQueue creates a queue holding at most bufferSize pending jobs.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	return &MemoryQueue{
		queue:  make(chan *models.TranscriptionJob, bufferSize),
		closed: make(chan struct{}),
	}
}

// Enqueue adds a job without blocking; a full buffer returns ErrQueueFull.
func (mq *MemoryQueue) Enqueue(job *models.TranscriptionJob) error {
	mq.mu.RLock()
	defer mq.mu.RUnlock()

	select {
	case <-mq.closed:
		return ErrQueueClosed
	default:
	}

	select {
	case mq.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a job arrives.
func (mq *MemoryQueue) Dequeue(ctx context.Context) (*models.TranscriptionJob, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-mq.queue:
		if !ok {
			return nil, ErrQueueClosed
		}
		return job, nil
	}
}

// Ack is a no-op: jobs leave the channel when dequeued.
func (mq *MemoryQueue) Ack(job *models.TranscriptionJob) error { return nil }

// Nack puts the job back when requeue is set.
func (mq *MemoryQueue) Nack(job *models.TranscriptionJob, requeue bool) error {
	if !requeue {
		return nil
	}
	return mq.Enqueue(job)
}

// Len reports how many jobs are waiting.
func (mq *MemoryQueue) Len() int { return len(mq.queue) }

// Close stops accepting jobs; queued jobs can still be drained.
func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	select {
	case <-mq.closed:
		return nil
	default:
		close(mq.closed)
		close(mq.queue)
		return nil
	}
}
