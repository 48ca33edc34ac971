package storage

import (
	"sort"
	"sync"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

// JobStore keeps jobs in memory. Callers always get copies, so readers never
// race with the worker updating the same job.
type JobStore struct {
	jobs map[string]*models.TranscriptionJob
	mu   sync.RWMutex
}

// NewJobStore creates an empty in-memory store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*models.TranscriptionJob),
	}
}

func cloneJob(job *models.TranscriptionJob) *models.TranscriptionJob {
	c := *job
	if job.Outcome != nil {
		o := *job.Outcome
		c.Outcome = &o
	}
	return &c
}

func (js *JobStore) Save(job *models.TranscriptionJob) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	js.jobs[job.JobID] = cloneJob(job)
	return nil
}

func (js *JobStore) Get(jobID string) (*models.TranscriptionJob, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return nil, notFound(jobID)
	}
	return cloneJob(job), nil
}

func (js *JobStore) Update(jobID string, updateFn func(*models.TranscriptionJob)) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return notFound(jobID)
	}
	updateFn(job)
	return nil
}

func (js *JobStore) List() ([]*models.TranscriptionJob, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	jobs := make([]*models.TranscriptionJob, 0, len(js.jobs))
	for _, job := range js.jobs {
		jobs = append(jobs, cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (js *JobStore) Delete(jobID string) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if _, exists := js.jobs[jobID]; !exists {
		return notFound(jobID)
	}
	delete(js.jobs, jobID)
	return nil
}

// Close is a no-op for the in-memory store.
func (js *JobStore) Close() error {
	return nil
}
