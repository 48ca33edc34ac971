package templates

import (
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucmuss/audio-transcriber/pkg/models"
	"github.com/lucmuss/audio-transcriber/pkg/transcriber"
)

// FormatTime renders t relative to now for recent times.
func FormatTime(t, now time.Time) string {
	diff := now.Sub(t)

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		return fmt.Sprintf("%d min ago", int(diff.Minutes()))
	}
	if diff < 24*time.Hour {
		return fmt.Sprintf("%d h ago", int(diff.Hours()))
	}
	return t.Format("2006-01-02 15:04")
}

// IsVideoFile reports whether the upload is a video container.
func IsVideoFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4", ".webm", ".mov", ".mkv", ".m4v":
		return true
	}
	return false
}

// GetMediaIcon picks the icon shown next to a file name.
func GetMediaIcon(filename string) string {
	if IsVideoFile(filename) {
		return "🎬"
	}
	return "🎵"
}

var statusText = map[models.JobStatus]string{
	models.StatusPending:    "Pending",
	models.StatusProcessing: "Processing",
	models.StatusCompleted:  "Completed",
	models.StatusFailed:     "Failed",
	models.StatusSkipped:    "Skipped",
}

// StatusLabel is the human readable job status, including the pipeline
// stage while a job runs.
func StatusLabel(job *models.TranscriptionJob) string {
	label, ok := statusText[job.Status]
	if !ok {
		label = "Unknown"
	}
	if job.Status == models.StatusProcessing && job.Stage != "" && job.Stage != models.RunPending {
		label += " (" + string(job.Stage) + ")"
	}
	return label
}

// jobCard is the view model of one job row.
type jobCard struct {
	ID          string
	Icon        string
	Filename    string
	Status      string
	StatusClass string
	Progress    int
	Running     bool
	Created     string
	Segments    string
	Duration    string
	Error       string
	Transcript  bool
	Readable    bool
	Summary     bool
}

func newJobCard(job *models.TranscriptionJob, now time.Time) jobCard {
	card := jobCard{
		ID:          job.JobID,
		Icon:        GetMediaIcon(job.Filename),
		Filename:    job.Filename,
		Status:      StatusLabel(job),
		StatusClass: string(job.Status),
		Progress:    job.Progress,
		Running:     job.Status == models.StatusProcessing,
		Created:     FormatTime(job.CreatedAt, now),
		Error:       job.Error,
		Summary:     job.SummaryPath != "",
	}
	if o := job.Outcome; o != nil {
		if o.ChunksTotal > 0 {
			card.Segments = fmt.Sprintf("%d/%d segments", o.ChunksSucceeded, o.ChunksTotal)
		}
		if o.DurationSeconds > 0 {
			card.Duration = transcriber.FormatDuration(o.DurationSeconds)
		}
		card.Transcript = o.Status != models.OutcomeError && o.OutputPath != ""
		card.Readable = o.ReadablePath != ""
	}
	return card
}

var jobListTemplate = template.Must(template.New("jobs").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Audio Transcriber</title></head>
<body>
<h1>Transcription jobs</h1>
{{if not .}}<p class="empty">No jobs yet.</p>{{end}}
{{range .}}<div class="task-card {{.StatusClass}}" id="task-{{.ID}}">
  <p><strong>{{.Icon}} {{.Filename}}</strong>{{if .Running}} <span>⏳</span>{{end}}</p>
  <p>Status: <strong>{{.Status}}</strong>{{if .Progress}} | {{.Progress}}%{{end}} | {{.Created}}{{if .Duration}} | {{.Duration}}{{end}}{{if .Segments}} | {{.Segments}}{{end}}</p>
  {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
  <p>
    {{if .Transcript}}<a href="/api/jobs/{{.ID}}/transcript">📥 Transcript</a>{{end}}
    {{if .Readable}}<a href="/api/jobs/{{.ID}}/transcript?readable=true">🎤 Speakers</a>{{end}}
    {{if .Summary}}<span>📝 Summary ready</span>{{end}}
  </p>
</div>
{{end}}</body>
</html>
`))

// RenderJobList writes the job overview page.
func RenderJobList(w io.Writer, jobs []*models.TranscriptionJob, now time.Time) error {
	cards := make([]jobCard, len(jobs))
	for i, job := range jobs {
		cards[i] = newJobCard(job, now)
	}
	return jobListTemplate.Execute(w, cards)
}
