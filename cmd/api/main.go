package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lucmuss/audio-transcriber/pkg/config"
	"github.com/lucmuss/audio-transcriber/pkg/queue"
	"github.com/lucmuss/audio-transcriber/pkg/storage"
	"github.com/lucmuss/audio-transcriber/pkg/summary"
	"github.com/lucmuss/audio-transcriber/pkg/transcriber"
	"github.com/lucmuss/audio-transcriber/pkg/worker"
)

func main() {
	// 1. configuration
	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Println("✓ Config loaded")

	if err := os.MkdirAll(cfg.Server.UploadDir, 0o755); err != nil {
		log.Fatalf("❌ Failed to create upload directory: %v", err)
	}

	// 2. queue
	q, err := newQueue(cfg.Queue)
	if err != nil {
		log.Fatalf("❌ Failed to initialize queue: %v", err)
	}

	// 3. job store
	store, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("❌ Failed to initialize job store: %v", err)
	}
	log.Printf("✓ Job store ready (%s)", cfg.Storage.Type)
	stopCleanup := make(chan struct{})
	if cleaner, ok := store.(storage.ExpiredJobCleaner); ok {
		go cleanExpiredJobs(cleaner, time.Hour, stopCleanup)
	}

	// 4. pipeline
	engine := transcriber.NewFromConfig(cfg)
	summarizer := summary.NewSummarizer(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Summary.Model, cfg.Summary.Prompt)

	var workerOpts []worker.Option
	if cfg.Summary.Enabled {
		workerOpts = append(workerOpts, worker.WithSummarizer(summarizer, cfg.Summary.Dir))
	}
	w := worker.NewWorker(q, store, engine, transcriber.OptionsFromConfig(cfg), cfg.Transcriber.WorkerPoolSize, workerOpts...)
	w.Start()

	// 5. HTTP server
	app := &App{
		config:     cfg,
		queue:      q,
		store:      store,
		summarizer: summarizer,
		progress:   w.Progress,
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: app.setupRouter(),
	}

	log.Printf("🚀 Audio transcriber listening on http://localhost:%d", cfg.Server.Port)
	log.Printf("   - model: %s", cfg.OpenAI.Model)
	log.Printf("   - segment length: %ds, overlap: %ds", cfg.Transcriber.SegmentLength, cfg.Transcriber.Overlap)
	log.Printf("   - concurrency: %d per file, %d workers", cfg.Transcriber.Concurrency, cfg.Transcriber.WorkerPoolSize)
	log.Printf("   - queue: %s, storage: %s", cfg.Queue.Type, cfg.Storage.Type)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	// 6. graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	close(stopCleanup)
	w.Stop()
	q.Close()
	store.Close()
	log.Println("✓ Server stopped")
}

func newQueue(cfg config.QueueConfig) (queue.Queue, error) {
	switch strings.ToLower(cfg.Type) {
	case "rabbitmq":
		return queue.NewRabbitMQQueue(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName, cfg.RabbitMQ.Prefetch)
	default:
		log.Printf("✓ Using in-memory queue (buffer %d)", cfg.BufferSize)
		return queue.NewMemoryQueue(cfg.BufferSize), nil
	}
}

func cleanExpiredJobs(cleaner storage.ExpiredJobCleaner, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			removed, err := cleaner.CleanExpiredJobs()
			if err != nil {
				log.Printf("⚠️ Failed to clean expired jobs: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("🧹 Removed %d expired jobs from the index", removed)
			}
		}
	}
}
