package worker

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lucmuss/audio-transcriber/pkg/models"
	"github.com/lucmuss/audio-transcriber/pkg/summary"
	"github.com/lucmuss/audio-transcriber/pkg/transcriber"
)

// DurationProber reads an audio file's length in seconds.
type DurationProber interface {
	ProbeDuration(ctx context.Context, audioPath string) (float64, error)
}

// BatchOptions controls a batch run on top of the per-file options.
type BatchOptions struct {
	// AnalyzeDuration probes every file first so progress can report an ETA.
	AnalyzeDuration bool
	Summarizer      Summarizer // nil disables summaries
	SummaryDir      string
	// OnFileDone is called after each file; may be nil.
	OnFileDone func(outcome models.Outcome, stats models.ProgressStats)
}

// BatchReport aggregates the outcomes of a batch run.
type BatchReport struct {
	RunID     string
	Outcomes  []models.Outcome
	Summaries []summary.Result

	Succeeded     int
	Skipped       int
	Failed        int
	TotalChunks   int
	FailedChunks  int
	TotalDuration float64 // seconds of successfully transcribed audio
	Elapsed       time.Duration
	Progress      models.ProgressStats
}

// AnyFailed reports whether at least one file ended in error.
func (r BatchReport) AnyFailed() bool {
	return r.Failed > 0
}

func (r *BatchReport) add(o models.Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case models.OutcomeSuccess:
		r.Succeeded++
		r.TotalDuration += o.DurationSeconds
	case models.OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.TotalChunks += o.ChunksTotal
	r.FailedChunks += o.ChunksFailed
}

// RunBatch transcribes files one after another. Per-file failures are
// recorded in the report; only invalid options abort the run.
func RunBatch(ctx context.Context, engine Transcriber, files []string, opts transcriber.Options, bo BatchOptions) (BatchReport, error) {
	report := BatchReport{RunID: uuid.New().String()}
	start := time.Now()

	// 1. progress
	progress := opts.Progress
	if progress == nil {
		progress = models.NewProgressState(nil)
		opts.Progress = progress
	}
	progress.SetTotalFiles(len(files))
	log.Printf("🚀 Batch %s: %d file(s)", report.RunID, len(files))

	// 2. optional duration analysis
	if bo.AnalyzeDuration {
		if prober, ok := engine.(DurationProber); ok {
			var total float64
			for _, f := range files {
				d, err := prober.ProbeDuration(ctx, f)
				if err != nil {
					log.Printf("⚠️ Could not read duration of %s: %v", filepath.Base(f), err)
					continue
				}
				total += d
			}
			if total > 0 {
				progress.SetTotalDuration(total / 60)
				log.Printf("📂 Total duration: %s", transcriber.FormatDuration(total))
			}
		}
	}

	// 3. files
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			o := models.Outcome{File: f, Status: models.OutcomeError, Error: err.Error()}
			progress.FileFinished(o)
			report.add(o)
			continue
		}

		outcome, err := engine.TranscribeFile(ctx, f, opts)
		if err != nil {
			report.Elapsed = time.Since(start)
			report.Progress = progress.Snapshot()
			return report, err
		}
		report.add(outcome)

		if bo.Summarizer != nil && outcome.Status == models.OutcomeSuccess {
			report.Summaries = append(report.Summaries,
				bo.Summarizer.SummarizeFile(ctx, outcome.OutputPath, bo.SummaryDir, opts.SkipExisting))
		}

		if bo.OnFileDone != nil {
			bo.OnFileDone(outcome, progress.Snapshot())
		}
	}

	report.Elapsed = time.Since(start)
	report.Progress = progress.Snapshot()
	log.Printf("✓ Batch %s finished: %d succeeded, %d skipped, %d failed",
		report.RunID, report.Succeeded, report.Skipped, report.Failed)
	return report, nil
}
