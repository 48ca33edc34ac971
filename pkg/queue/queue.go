package queue

import (
	"context"
	"errors"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

var (
	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned when a bounded queue cannot accept a job.
	ErrQueueFull = errors.New("queue full")
)

// Queue hands transcription jobs from the API to the workers.
type Queue interface {
	// Enqueue adds a job.
	Enqueue(job *models.TranscriptionJob) error

	// Dequeue blocks until a job is available, ctx is done or the queue closes.
	Dequeue(ctx context.Context) (*models.TranscriptionJob, error)

	// Ack confirms a job was processed.
	Ack(job *models.TranscriptionJob) error

	// Nack rejects a job, optionally putting it back on the queue.
	Nack(job *models.TranscriptionJob, requeue bool) error

	Close() error
}
