package models

import (
	"sync"
	"time"
)

// ProgressState accumulates batch counters. The orchestrator and the batch
// runner mutate it; UI layers only read snapshots.
type ProgressState struct {
	mu    sync.Mutex
	now   func() time.Time
	stats ProgressStats
}

// ProgressStats is a point-in-time copy of the counters.
type ProgressStats struct {
	TotalFiles     int `json:"total_files"`
	CompletedFiles int `json:"completed_files"`
	FailedFiles    int `json:"failed_files"`
	SkippedFiles   int `json:"skipped_files"`

	TotalChunks     int `json:"total_chunks"`
	CompletedChunks int `json:"completed_chunks"`
	FailedChunks    int `json:"failed_chunks"`

	TotalMinutes     float64 `json:"total_minutes"`
	ProcessedMinutes float64 `json:"processed_minutes"`

	StartedAt   time.Time `json:"started_at"`
	LastUpdate  time.Time `json:"last_update"`
	Elapsed     float64   `json:"elapsed_seconds"`
	ETA         float64   `json:"eta_seconds"` // -1 when unknown
	Throughput  float64   `json:"throughput_minutes_per_hour"`
	PercentDone float64   `json:"percent_done"`
}

// NewProgressState starts tracking at now(). A nil clock means time.Now.
func NewProgressState(now func() time.Time) *ProgressState {
	if now == nil {
		now = time.Now
	}
	start := now()
	return &ProgressState{
		now:   now,
		stats: ProgressStats{StartedAt: start, LastUpdate: start},
	}
}

func (p *ProgressState) touch() { p.stats.LastUpdate = p.now() }

// SetTotalFiles records how many files the batch contains.
func (p *ProgressState) SetTotalFiles(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalFiles = n
	p.touch()
}

// AddFiles grows the file total; the job service learns files one upload at
// a time.
func (p *ProgressState) AddFiles(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalFiles += n
	p.touch()
}

// SetTotalDuration records the summed audio length in minutes, enabling ETA.
func (p *ProgressState) SetTotalDuration(minutes float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalMinutes = minutes
	p.touch()
}

// AddChunks announces chunks that are about to be transcribed.
func (p *ProgressState) AddChunks(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalChunks += n
	p.touch()
}

// ChunkDone records one finished chunk call.
func (p *ProgressState) ChunkDone(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.stats.CompletedChunks++
	} else {
		p.stats.FailedChunks++
	}
	p.touch()
}

// FileFinished folds one file outcome into the counters.
func (p *ProgressState) FileFinished(o Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch o.Status {
	case OutcomeSuccess:
		p.stats.CompletedFiles++
		p.stats.ProcessedMinutes += o.DurationSeconds / 60
	case OutcomeSkipped:
		p.stats.SkippedFiles++
	default:
		p.stats.FailedFiles++
	}
	p.touch()
}

// Snapshot returns a copy with derived fields filled in.
func (p *ProgressState) Snapshot() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	elapsed := p.now().Sub(s.StartedAt).Seconds()
	s.Elapsed = elapsed

	s.ETA = -1
	if s.ProcessedMinutes > 0 {
		remaining := s.TotalMinutes - s.ProcessedMinutes
		if remaining <= 0 {
			s.ETA = 0
		} else {
			s.ETA = remaining * (elapsed / s.ProcessedMinutes)
		}
	}

	if elapsed > 0 {
		s.Throughput = s.ProcessedMinutes / elapsed * 3600
	}

	if s.TotalMinutes > 0 {
		s.PercentDone = s.ProcessedMinutes / s.TotalMinutes * 100
	} else if s.TotalFiles > 0 {
		done := s.CompletedFiles + s.FailedFiles + s.SkippedFiles
		s.PercentDone = float64(done) / float64(s.TotalFiles) * 100
	}
	if s.PercentDone > 100 {
		s.PercentDone = 100
	}
	return s
}
