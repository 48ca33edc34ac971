package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

func TestRabbitMQRoundTrip(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}

	q, err := NewRabbitMQQueue(url, "audio_transcriber_test_"+time.Now().Format("150405.000"), 1)
	if err != nil {
		t.Fatalf("NewRabbitMQQueue: %v", err)
	}
	defer q.Close()

	in := &models.TranscriptionJob{JobID: "job-1", Filename: "talk.mp3", Format: "srt", Diarize: true}
	if err := q.Enqueue(in); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if out.JobID != in.JobID || out.Format != "srt" || !out.Diarize || out.RabbitMQDelivery == nil {
		t.Errorf("got %+v", out)
	}
	if err := q.Ack(out); err != nil {
		t.Errorf("Ack: %v", err)
	}
}
