package models

import "time"

// RunStatus is the per-file pipeline state.
type RunStatus string

const (
	RunPending      RunStatus = "pending"
	RunSegmenting   RunStatus = "segmenting"
	RunTranscribing RunStatus = "transcribing"
	RunMerging      RunStatus = "merging"
	RunDone         RunStatus = "done"
	RunFailed       RunStatus = "failed"
	RunSkipped      RunStatus = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunDone || s == RunFailed || s == RunSkipped
}

// OutcomeStatus is the externally visible result of one file.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the structured record returned for every input file.
type Outcome struct {
	File             string        `json:"file"`
	Status           OutcomeStatus `json:"status"`
	OutputPath       string        `json:"output_path,omitempty"`
	ReadablePath     string        `json:"readable_path,omitempty"`
	ChunksTotal      int           `json:"chunks_total"`
	ChunksSucceeded  int           `json:"chunks_succeeded"`
	ChunksFailed     int           `json:"chunks_failed"`
	DurationSeconds  float64       `json:"duration_seconds"`
	DetectedLanguage string        `json:"detected_language,omitempty"`
	Diarization      bool          `json:"diarization,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// PipelineRun tracks one file through segmenting, transcribing and merging.
// It is created per input file and discarded once the Outcome is returned.
type PipelineRun struct {
	Asset   AudioAsset
	Status  RunStatus
	Chunks  []Chunk
	Results []ChunkResult
	Merged  string
	Outcome Outcome
}

// JobStatus is the job lifecycle as seen by the API and the stores.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusSkipped    JobStatus = "skipped"
)

// Finished reports whether the job reached a terminal state.
func (s JobStatus) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// TranscriptionJob is a queued request to transcribe one uploaded file.
type TranscriptionJob struct {
	JobID       string    `json:"job_id"`
	Filename    string    `json:"filename"`
	FilePath    string    `json:"file_path"`
	Status      JobStatus `json:"status"`
	Stage       RunStatus `json:"stage"`
	Progress    int       `json:"progress"`
	Language    string    `json:"language"`
	Format      string    `json:"format"`
	Diarize     bool      `json:"diarize"`
	Outcome     *Outcome  `json:"outcome,omitempty"`
	SummaryPath string    `json:"summary_path,omitempty"`
	Error       string    `json:"error"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`

	// RabbitMQ delivery, never serialized
	DeliveryTag      uint64 `json:"-"`
	RabbitMQDelivery any    `json:"-"`
}
