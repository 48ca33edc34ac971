package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lucmuss/audio-transcriber/pkg/config"
	"github.com/lucmuss/audio-transcriber/pkg/models"
	"github.com/lucmuss/audio-transcriber/pkg/queue"
	"github.com/lucmuss/audio-transcriber/pkg/storage"
	"github.com/lucmuss/audio-transcriber/pkg/templates"
	"github.com/lucmuss/audio-transcriber/pkg/transcriber"
	"github.com/lucmuss/audio-transcriber/pkg/worker"
)

const version = "1.0.0"

// App wires the HTTP handlers to the queue, the job store and the
// summarizer.
type App struct {
	config     *config.Config
	queue      queue.Queue
	store      storage.Store
	summarizer worker.Summarizer
	progress   func() models.ProgressStats
}

func (app *App) setupRouter() *gin.Engine {
	r := gin.Default()
	r.MaxMultipartMemory = 32 << 20

	r.GET("/", app.handleIndex)

	api := r.Group("/api")
	{
		api.GET("/ping", app.handlePing)
		api.GET("/progress", app.handleProgress)
		api.GET("/queue", app.handleQueue)
		api.POST("/upload", app.handleUpload)
		api.GET("/jobs", app.handleListJobs)
		api.GET("/jobs/:job_id", app.handleGetJob)
		api.DELETE("/jobs/:job_id", app.handleDeleteJob)
		api.GET("/jobs/:job_id/transcript", app.handleTranscript)
		api.POST("/jobs/:job_id/summarize", app.handleSummarize)
	}

	return r
}

func (app *App) handleIndex(c *gin.Context) {
	jobs, err := app.store.List()
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to list jobs")
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := templates.RenderJobList(c.Writer, jobs, time.Now()); err != nil {
		log.Printf("⚠️ Failed to render job list: %v", err)
	}
}

func (app *App) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"version": version,
	})
}

func (app *App) handleProgress(c *gin.Context) {
	if app.progress == nil {
		c.JSON(http.StatusOK, models.ProgressStats{ETA: -1})
		return
	}
	c.JSON(http.StatusOK, app.progress())
}

// brokerQueue is implemented by queues backed by a message broker.
type brokerQueue interface {
	Stats() (messages, consumers int, err error)
}

func (app *App) handleQueue(c *gin.Context) {
	switch q := app.queue.(type) {
	case brokerQueue:
		messages, consumers, err := q.Stats()
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"type": "rabbitmq", "pending": messages, "consumers": consumers})
	case interface{ Len() int }:
		c.JSON(http.StatusOK, gin.H{"type": "memory", "pending": q.Len()})
	default:
		c.JSON(http.StatusOK, gin.H{"type": app.config.Queue.Type})
	}
}

func (app *App) handleUpload(c *gin.Context) {
	// 1. file
	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing form file \"audio\""})
		return
	}

	// 2. extension
	ext := filepath.Ext(file.Filename)
	if !transcriber.IsSupported(file.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unsupported file type %q, supported: %v", ext, transcriber.SupportedExtensions),
		})
		return
	}

	// 3. size
	if file.Size > app.config.Server.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file too large, limit is %.0f MB", float64(app.config.Server.MaxUploadSize)/1024/1024),
		})
		return
	}

	// 4. per-job options
	format := c.PostForm("format")
	if format != "" {
		if _, err := models.ParseResponseFormat(format); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	diarize := false
	if v := c.PostForm("diarize"); v != "" {
		diarize, err = strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "diarize must be a boolean"})
			return
		}
	}

	// 5. save upload
	jobID := uuid.New().String()
	savePath := filepath.Join(app.config.Server.UploadDir, jobID+ext)
	if err := c.SaveUploadedFile(file, savePath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save upload"})
		return
	}
	log.Printf("✓ Upload saved: %s (%.2f MB)", filepath.Base(savePath), float64(file.Size)/1024/1024)

	// 6. job
	job := &models.TranscriptionJob{
		JobID:     jobID,
		Filename:  file.Filename,
		FilePath:  savePath,
		Status:    models.StatusPending,
		Stage:     models.RunPending,
		Language:  c.PostForm("language"),
		Format:    format,
		Diarize:   diarize,
		CreatedAt: time.Now(),
	}
	if err := app.store.Save(job); err != nil {
		os.Remove(savePath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save job"})
		return
	}

	// 7. enqueue
	if err := app.queue.Enqueue(job); err != nil {
		log.Printf("❌ Failed to enqueue job %s: %v", jobID, err)
		app.store.Delete(jobID)
		os.Remove(savePath)
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "failed to queue job"})
		return
	}
	log.Printf("✓ Job queued: %s", jobID)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":   jobID,
		"filename": file.Filename,
		"size":     file.Size,
		"status":   job.Status,
	})
}

// loadJob writes the error response itself and returns nil when the job
// cannot be read.
func (app *App) loadJob(c *gin.Context) *models.TranscriptionJob {
	jobID := c.Param("job_id")
	job, err := app.store.Get(jobID)
	if errors.Is(err, storage.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil
	}
	if err != nil {
		log.Printf("❌ Failed to read job %s: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job"})
		return nil
	}
	return job
}

func (app *App) handleGetJob(c *gin.Context) {
	if job := app.loadJob(c); job != nil {
		c.JSON(http.StatusOK, job)
	}
}

func (app *App) handleListJobs(c *gin.Context) {
	jobs, err := app.store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

func (app *App) handleDeleteJob(c *gin.Context) {
	job := app.loadJob(c)
	if job == nil {
		return
	}
	if !job.Status.Finished() {
		c.JSON(http.StatusConflict, gin.H{"error": "job is still " + string(job.Status)})
		return
	}
	if err := app.store.Delete(job.JobID); err != nil && !errors.Is(err, storage.ErrJobNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete job"})
		return
	}
	if job.FilePath != "" {
		if err := os.Remove(job.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("⚠️ Failed to remove upload %s: %v", job.FilePath, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"job_id": job.JobID, "deleted": true})
}

// transcriptPath returns the persisted transcript of a finished job.
func transcriptPath(job *models.TranscriptionJob, readable bool) (string, bool) {
	if job.Outcome == nil || job.Outcome.Status == models.OutcomeError {
		return "", false
	}
	if readable {
		return job.Outcome.ReadablePath, job.Outcome.ReadablePath != ""
	}
	return job.Outcome.OutputPath, job.Outcome.OutputPath != ""
}

func (app *App) handleTranscript(c *gin.Context) {
	job := app.loadJob(c)
	if job == nil {
		return
	}
	path, ok := transcriptPath(job, c.Query("readable") == "true")
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no transcript available, job is " + string(job.Status)})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript file missing"})
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (app *App) handleSummarize(c *gin.Context) {
	job := app.loadJob(c)
	if job == nil {
		return
	}
	path, ok := transcriptPath(job, false)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no transcript available, job is " + string(job.Status)})
		return
	}

	result := app.summarizer.SummarizeFile(c.Request.Context(), path, app.config.Summary.Dir, false)
	if result.Status == models.OutcomeError {
		c.JSON(http.StatusBadGateway, result)
		return
	}
	if result.SummaryPath != "" {
		err := app.store.Update(job.JobID, func(j *models.TranscriptionJob) {
			j.SummaryPath = result.SummaryPath
		})
		if err != nil {
			log.Printf("⚠️ Failed to record summary for %s: %v", job.JobID, err)
		}
	}
	c.JSON(http.StatusOK, result)
}
