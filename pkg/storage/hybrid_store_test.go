package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

func TestHybridStore(t *testing.T) {
	exerciseStore(t, NewHybridJobStore(NewJobStore(), NewJobStore()), "")
}

func TestHybridStoreSyncsFinishedJobsOnClose(t *testing.T) {
	cache, db := NewJobStore(), NewJobStore()
	s := NewHybridJobStore(cache, db)

	s.Save(newJob("running", time.Now()))
	s.Save(newJob("done", time.Now()))
	s.Update("done", func(job *models.TranscriptionJob) { job.Status = models.StatusCompleted })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if job, err := db.Get("done"); err != nil || job.Status != models.StatusCompleted {
		t.Errorf("finished job in database = %+v, %v", job, err)
	}
	if _, err := db.Get("running"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("unfinished job reached the database: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestHybridStoreFallsBackToDatabase(t *testing.T) {
	cache, db := NewJobStore(), NewJobStore()
	s := NewHybridJobStore(cache, db)
	defer s.Close()

	archived := newJob("archived", time.Now())
	archived.Status = models.StatusCompleted
	db.Save(archived)

	got, err := s.Get("archived")
	if err != nil || got.Status != models.StatusCompleted {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if _, err := cache.Get("archived"); err != nil {
		t.Errorf("cache not warmed: %v", err)
	}

	// a job only the database knows can still be updated
	cache.Delete("archived")
	if err := s.Update("archived", func(job *models.TranscriptionJob) { job.SummaryPath = "/out/s.txt" }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if job, _ := db.Get("archived"); job.SummaryPath != "/out/s.txt" {
		t.Errorf("database job = %+v", job)
	}
}

func TestHybridStoreCleanExpiredWithoutExpiringCache(t *testing.T) {
	s := NewHybridJobStore(NewJobStore(), NewJobStore())
	defer s.Close()

	var cleaner ExpiredJobCleaner = s
	if removed, err := cleaner.CleanExpiredJobs(); removed != 0 || err != nil {
		t.Errorf("CleanExpiredJobs = %d, %v", removed, err)
	}
}
