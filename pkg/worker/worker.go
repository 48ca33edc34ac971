package worker

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lucmuss/audio-transcriber/pkg/models"
	"github.com/lucmuss/audio-transcriber/pkg/queue"
	"github.com/lucmuss/audio-transcriber/pkg/storage"
	"github.com/lucmuss/audio-transcriber/pkg/summary"
	"github.com/lucmuss/audio-transcriber/pkg/transcriber"
)

// JobTimeout bounds a single job, from probe to summary.
const JobTimeout = 30 * time.Minute

// Transcriber runs the per-file pipeline.
type Transcriber interface {
	TranscribeFile(ctx context.Context, audioPath string, opts transcriber.Options) (models.Outcome, error)
}

// Summarizer condenses a persisted transcript.
type Summarizer interface {
	SummarizeFile(ctx context.Context, transcriptPath, dir string, skipExisting bool) summary.Result
}

// Worker consumes jobs from the queue with a fixed pool of goroutines and
// records their progress in the store.
type Worker struct {
	queue    queue.Queue
	store    storage.Store
	engine   Transcriber
	base     transcriber.Options
	poolSize int
	progress *models.ProgressState

	summarizer Summarizer
	summaryDir string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithSummarizer summarizes every successful transcript into dir.
func WithSummarizer(s Summarizer, dir string) Option {
	return func(w *Worker) {
		w.summarizer = s
		w.summaryDir = dir
	}
}

// NewWorker creates a worker. base holds the defaults every job starts from.
func NewWorker(q queue.Queue, store storage.Store, engine Transcriber, base transcriber.Options, poolSize int, opts ...Option) *Worker {
	if poolSize <= 0 {
		poolSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		queue:    q,
		store:    store,
		engine:   engine,
		base:     base,
		poolSize: poolSize,
		progress: models.NewProgressState(nil),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the worker pool.
func (w *Worker) Start() {
	for i := 0; i < w.poolSize; i++ {
		w.wg.Add(1)
		go w.run(i + 1)
	}
	log.Printf("🚀 Worker pool started (%d workers)", w.poolSize)
}

// Stop cancels running jobs and waits for every worker to return.
func (w *Worker) Stop() {
	log.Println("Stopping workers...")
	w.cancel()
	w.wg.Wait()
	log.Println("✓ Workers stopped")
}

// Progress returns the counters across every job this worker ran.
func (w *Worker) Progress() models.ProgressStats {
	return w.progress.Snapshot()
}

func (w *Worker) run(id int) {
	defer w.wg.Done()

	for {
		job, err := w.queue.Dequeue(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				log.Printf("Worker %d stopped", id)
				return
			}
			log.Printf("⚠️ Worker %d failed to dequeue: %v", id, err)
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		w.processJob(job)
	}
}

// jobOptions applies the job's overrides to the base options.
func (w *Worker) jobOptions(job *models.TranscriptionJob) (transcriber.Options, error) {
	opts := w.base
	if job.Language != "" {
		opts.Language = job.Language
	}
	if job.Format != "" {
		format, err := models.ParseResponseFormat(job.Format)
		if err != nil {
			return opts, err
		}
		opts.Format = format
	}
	if job.Diarize {
		opts.Diarization.Enabled = true
	}
	opts.Progress = w.progress
	return opts, nil
}

func (w *Worker) update(jobID string, fn func(*models.TranscriptionJob)) {
	if err := w.store.Update(jobID, fn); err != nil {
		log.Printf("⚠️ Failed to update job %s: %v", jobID, err)
	}
}

func (w *Worker) processJob(job *models.TranscriptionJob) {
	log.Print(strings.Repeat("=", 80))
	log.Printf("📝 Processing job: %s", job.JobID)
	log.Printf("📂 File: %s", job.Filename)

	w.progress.AddFiles(1)
	w.update(job.JobID, func(j *models.TranscriptionJob) {
		j.Status = models.StatusProcessing
		j.Stage = models.RunPending
		j.Progress = 0
		j.Error = ""
	})

	opts, err := w.jobOptions(job)
	if err != nil {
		w.fail(job, err)
		return
	}
	opts.OnStage = func(stage models.RunStatus) {
		w.update(job.JobID, func(j *models.TranscriptionJob) { j.Stage = stage })
	}
	opts.OnChunkProgress = func(percent int) {
		w.update(job.JobID, func(j *models.TranscriptionJob) { j.Progress = percent })
	}

	ctx, cancel := context.WithTimeout(w.ctx, JobTimeout)
	defer cancel()

	startTime := time.Now()
	outcome, err := w.engine.TranscribeFile(ctx, job.FilePath, opts)
	if err != nil {
		w.fail(job, err)
		return
	}

	// interrupted by shutdown: hand the job back instead of failing it
	if w.ctx.Err() != nil && outcome.Status == models.OutcomeError {
		log.Printf("⚠️ Job %s interrupted, returning it to the queue", job.JobID)
		w.update(job.JobID, func(j *models.TranscriptionJob) {
			j.Status = models.StatusPending
			j.Stage = models.RunPending
			j.Progress = 0
		})
		if err := w.queue.Nack(job, true); err != nil {
			log.Printf("⚠️ Failed to requeue job %s: %v", job.JobID, err)
		}
		return
	}

	var summaryPath string
	if outcome.Status == models.OutcomeSuccess && w.summarizer != nil {
		result := w.summarizer.SummarizeFile(ctx, outcome.OutputPath, w.summaryDir, w.base.SkipExisting)
		if result.Status != models.OutcomeError {
			summaryPath = result.SummaryPath
		}
	}

	status := models.StatusCompleted
	switch outcome.Status {
	case models.OutcomeSkipped:
		status = models.StatusSkipped
	case models.OutcomeError:
		status = models.StatusFailed
	}

	w.update(job.JobID, func(j *models.TranscriptionJob) {
		j.Status = status
		o := outcome
		j.Outcome = &o
		j.Error = outcome.Error
		j.SummaryPath = summaryPath
		if status != models.StatusFailed {
			j.Progress = 100
		}
		j.CompletedAt = time.Now()
	})

	duration := time.Since(startTime)
	if status == models.StatusFailed {
		log.Printf("❌ Job %s failed: %s", job.JobID, outcome.Error)
	} else {
		log.Printf("✓ Job %s %s in %.2f seconds (%d/%d segments)",
			job.JobID, status, duration.Seconds(), outcome.ChunksSucceeded, outcome.ChunksTotal)
	}
	log.Print(strings.Repeat("=", 80))

	if err := w.queue.Ack(job); err != nil {
		log.Printf("⚠️ Failed to ack job %s: %v", job.JobID, err)
	}
}

// fail marks a job that could not run at all. It is not requeued since a
// retry would fail the same way.
func (w *Worker) fail(job *models.TranscriptionJob, err error) {
	log.Printf("❌ Job %s failed: %v", job.JobID, err)
	w.progress.FileFinished(models.Outcome{File: job.FilePath, Status: models.OutcomeError, Error: err.Error()})
	w.update(job.JobID, func(j *models.TranscriptionJob) {
		j.Status = models.StatusFailed
		j.Stage = models.RunFailed
		j.Error = err.Error()
		j.CompletedAt = time.Now()
	})
	if err := w.queue.Nack(job, false); err != nil {
		log.Printf("⚠️ Failed to reject job %s: %v", job.JobID, err)
	}
}
