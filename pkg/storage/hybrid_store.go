package storage

import (
	"log"
	"sync"
	"time"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

const (
	syncBatchSize     = 50
	syncFlushInterval = 5 * time.Second
)

// HybridJobStore serves reads and writes from a fast cache store and copies
// finished jobs to a durable store in the background.
type HybridJobStore struct {
	cache     Store
	db        Store
	syncQueue chan *models.TranscriptionJob
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewHybridJobStore starts the background sync worker.
func NewHybridJobStore(cache, db Store) *HybridJobStore {
	store := &HybridJobStore{
		cache:     cache,
		db:        db,
		syncQueue: make(chan *models.TranscriptionJob, 100),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	go store.syncWorker()

	log.Println("✓ Hybrid job store ready (cache + database)")
	return store
}

// Save writes to the cache immediately. Finished jobs are also queued for
// the database.
func (s *HybridJobStore) Save(job *models.TranscriptionJob) error {
	if err := s.cache.Save(job); err != nil {
		log.Printf("⚠️ Cache write failed for %s: %v", job.JobID, err)
		return s.db.Save(job)
	}

	if job.Status.Finished() {
		s.asyncSyncToDB(job)
	}
	return nil
}

// Get prefers the cache and warms it on a database hit.
func (s *HybridJobStore) Get(jobID string) (*models.TranscriptionJob, error) {
	job, err := s.cache.Get(jobID)
	if err == nil {
		return job, nil
	}

	log.Printf("📚 Cache miss, querying database: %s", jobID)
	job, err = s.db.Get(jobID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Save(job); err != nil {
		log.Printf("⚠️ Cache warm-up failed for %s: %v", jobID, err)
	}
	return job, nil
}

func (s *HybridJobStore) Update(jobID string, updateFn func(*models.TranscriptionJob)) error {
	var updated *models.TranscriptionJob
	err := s.cache.Update(jobID, func(job *models.TranscriptionJob) {
		updateFn(job)
		updated = cloneJob(job)
	})
	if err != nil {
		log.Printf("⚠️ Cache update failed for %s: %v, falling back to database", jobID, err)
		return s.db.Update(jobID, updateFn)
	}

	if updated != nil && updated.Status.Finished() {
		s.asyncSyncToDB(updated)
	}
	return nil
}

// List prefers the cache and falls back to the database.
func (s *HybridJobStore) List() ([]*models.TranscriptionJob, error) {
	jobs, err := s.cache.List()
	if err != nil {
		log.Printf("⚠️ Cache list failed: %v, falling back to database", err)
		return s.db.List()
	}
	return jobs, nil
}

// Delete removes the job from both stores. It fails only when neither had it.
func (s *HybridJobStore) Delete(jobID string) error {
	cacheErr := s.cache.Delete(jobID)
	dbErr := s.db.Delete(jobID)
	if cacheErr == nil || dbErr == nil {
		return nil
	}
	return dbErr
}

// CleanExpiredJobs prunes the cache index when the cache supports it.
func (s *HybridJobStore) CleanExpiredJobs() (int, error) {
	cleaner, ok := s.cache.(ExpiredJobCleaner)
	if !ok {
		return 0, nil
	}
	return cleaner.CleanExpiredJobs()
}

// Close flushes pending syncs, then closes both stores.
func (s *HybridJobStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)

		select {
		case <-s.doneCh:
		case <-time.After(10 * time.Second):
			log.Printf("⚠️ Sync flush timed out, %d jobs left", len(s.syncQueue))
		}

		s.cache.Close()
		s.db.Close()
		log.Println("✓ Hybrid job store closed")
	})
	return nil
}

func (s *HybridJobStore) asyncSyncToDB(job *models.TranscriptionJob) {
	select {
	case <-s.stopCh:
		s.saveToDB(job)
		return
	default:
	}

	select {
	case s.syncQueue <- job:
	default:
		log.Printf("⚠️ Sync queue full, writing %s synchronously", job.JobID)
		s.saveToDB(job)
	}
}

func (s *HybridJobStore) saveToDB(job *models.TranscriptionJob) {
	if err := s.db.Save(job); err != nil {
		log.Printf("❌ Database write failed for %s: %v", job.JobID, err)
	}
}

// syncWorker writes batches of 50 jobs or whatever arrived within 5s.
func (s *HybridJobStore) syncWorker() {
	defer close(s.doneCh)

	ticker := time.NewTicker(syncFlushInterval)
	defer ticker.Stop()

	batch := make([]*models.TranscriptionJob, 0, syncBatchSize)

	for {
		select {
		case job := <-s.syncQueue:
			batch = append(batch, job)
			if len(batch) >= syncBatchSize {
				s.batchSave(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.batchSave(batch)
				batch = batch[:0]
			}

		case <-s.stopCh:
			// drain what is already queued
			for {
				select {
				case job := <-s.syncQueue:
					batch = append(batch, job)
				default:
					s.batchSave(batch)
					return
				}
			}
		}
	}
}

func (s *HybridJobStore) batchSave(jobs []*models.TranscriptionJob) {
	if len(jobs) == 0 {
		return
	}

	successCount := 0
	for _, job := range jobs {
		if err := s.db.Save(job); err != nil {
			log.Printf("❌ Sync failed for %s: %v", job.JobID, err)
		} else {
			successCount++
		}
	}

	log.Printf("✓ Synced %d/%d jobs to the database", successCount, len(jobs))
}
