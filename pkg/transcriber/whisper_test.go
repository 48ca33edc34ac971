package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

func writeChunkFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talk_seg001.mp3")
	if err := os.WriteFile(path, []byte("ID3fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func noSleepBackoff(maxAttempts int) BackoffPolicy {
	p := DefaultBackoff(maxAttempts)
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestTranscribeSendsForm(t *testing.T) {
	chunk := writeChunkFile(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		for field, want := range map[string]string{
			"model":             "gpt-4o-transcribe-diarize",
			"response_format":   "diarized_json",
			"language":          "de",
			"temperature":       "0.2",
			"chunking_strategy": "auto",
			"num_speakers":      "2",
		} {
			if got := r.FormValue(field); got != want {
				t.Errorf("%s = %q, want %q", field, got, want)
			}
		}
		if got := r.MultipartForm.Value["known_speaker_names[]"]; !slices.Equal(got, []string{"Alice", "Bob"}) {
			t.Errorf("known_speaker_names[] = %v", got)
		}
		if _, header, err := r.FormFile("file"); err != nil || header.Filename != "talk_seg001.mp3" {
			t.Errorf("file part = %v, %v", header, err)
		}
		fmt.Fprint(w, `{"text":"hallo"}`)
	}))
	defer server.Close()

	client := NewWhisperClient("sk-test", server.URL+"/v1")
	got, err := client.Transcribe(context.Background(), chunk, Request{
		Model:       "gpt-4o-transcribe-diarize",
		Format:      models.FormatDiarizedJSON,
		Language:    "de",
		Temperature: 0.2,
		Diarization: &DiarizationRequest{NumSpeakers: 2, KnownSpeakerNames: []string{"Alice", "Bob"}},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != `{"text":"hallo"}` {
		t.Errorf("payload = %q", got)
	}
}

func TestTranscribeWithRetryRecovers(t *testing.T) {
	chunk := writeChunkFile(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "hello world")
	}))
	defer server.Close()

	client := NewWhisperClient("sk-test", server.URL, WithBackoff(noSleepBackoff(5)))
	got, err := client.TranscribeWithRetry(context.Background(), chunk, Request{Model: "whisper-1", Format: models.FormatText})
	if err != nil {
		t.Fatalf("TranscribeWithRetry: %v", err)
	}
	if got != "hello world" || calls.Load() != 3 {
		t.Errorf("got %q after %d calls", got, calls.Load())
	}
}

func TestTranscribeWithRetryDoesNotRetryClientErrors(t *testing.T) {
	chunk := writeChunkFile(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"invalid file"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewWhisperClient("sk-test", server.URL, WithBackoff(noSleepBackoff(5)))
	_, err := client.TranscribeWithRetry(context.Background(), chunk, Request{Model: "whisper-1", Format: models.FormatText})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("error = %v, want 400 APIError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestTranscribeWithRetryMissingFile(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := NewWhisperClient("sk-test", server.URL, WithBackoff(noSleepBackoff(3)))
	_, err := client.TranscribeWithRetry(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"), Request{Model: "whisper-1", Format: models.FormatText})
	if err == nil || IsRetryable(err) {
		t.Errorf("error = %v, want a local non-retryable error", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times for a missing file", calls.Load())
	}
}

func TestDetectLanguage(t *testing.T) {
	chunk := writeChunkFile(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"task":"transcribe","language":"german","duration":1.5,"text":"hallo"}`)
	}))
	defer server.Close()

	client := NewWhisperClient("sk-test", server.URL)
	lang, err := client.DetectLanguage(context.Background(), chunk, "whisper-1")
	if err != nil {
		t.Fatalf("DetectLanguage: %v", err)
	}
	if lang != "german" {
		t.Errorf("language = %q", lang)
	}
}
