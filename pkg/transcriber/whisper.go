package transcriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

// APIError is a failed call to the transcription endpoint. StatusCode is 0
// when the request never got a response.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transcription request failed: %v", e.Err)
	}
	return fmt.Sprintf("transcription API returned %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed: transport errors,
// timeouts, conflicts, rate limits and server errors.
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusConflict,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// IsRetryable is the retry predicate for chunk calls. Only API errors are
// retried; local failures such as an unreadable chunk file are not.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// Request describes one transcription call.
type Request struct {
	Model       string
	Format      models.ResponseFormat
	Language    string
	Temperature float64
	Prompt      string
	Diarization *DiarizationRequest
}

// DiarizationRequest carries the speaker hints sent with diarized calls.
type DiarizationRequest struct {
	NumSpeakers int
	// KnownSpeakerNames and KnownSpeakerReferences are parallel lists;
	// references are data URLs.
	KnownSpeakerNames      []string
	KnownSpeakerReferences []string
}

// WhisperClient talks to an OpenAI compatible /audio/transcriptions endpoint.
type WhisperClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	openai      *openai.Client
	backoff     BackoffPolicy
	callTimeout time.Duration
}

// ClientOption configures a WhisperClient.
type ClientOption func(*WhisperClient)

// WithHTTPClient replaces the HTTP client used for every call.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(wc *WhisperClient) { wc.httpClient = c }
}

// WithBackoff replaces the retry policy.
func WithBackoff(p BackoffPolicy) ClientOption {
	return func(wc *WhisperClient) { wc.backoff = p }
}

// WithCallTimeout bounds a single attempt, independent of the backoff.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(wc *WhisperClient) { wc.callTimeout = d }
}

// NewWhisperClient creates a client. An empty baseURL means the OpenAI API.
func NewWhisperClient(apiKey, baseURL string, opts ...ClientOption) *WhisperClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	wc := &WhisperClient{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{},
		backoff:     DefaultBackoff(5),
		callTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(wc)
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = wc.baseURL
	cfg.HTTPClient = wc.httpClient
	wc.openai = openai.NewClientWithConfig(cfg)
	return wc
}

// Transcribe makes a single call and returns the raw response payload.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, req Request) (string, error) {
	// 1. build multipart body
	body, contentType, err := buildTranscriptionForm(audioPath, req)
	if err != nil {
		return "", err
	}

	// 2. create request
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+wc.apiKey)
	httpReq.Header.Set("Content-Type", contentType)

	// 3. send
	resp, err := wc.httpClient.Do(httpReq)
	if err != nil {
		return "", &APIError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{Err: fmt.Errorf("read response: %w", err)}
	}

	// 4. check status
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	return string(payload), nil
}

func buildTranscriptionForm(audioPath string, req Request) (io.Reader, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open chunk: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("copy chunk: %w", err)
	}

	fields := [][2]string{
		{"model", req.Model},
		{"response_format", req.Format.String()},
		{"temperature", strconv.FormatFloat(req.Temperature, 'f', -1, 64)},
	}
	if req.Language != "" {
		fields = append(fields, [2]string{"language", req.Language})
	}
	if req.Prompt != "" {
		fields = append(fields, [2]string{"prompt", req.Prompt})
	}
	if d := req.Diarization; d != nil {
		fields = append(fields, [2]string{"chunking_strategy", "auto"})
		if d.NumSpeakers > 0 {
			fields = append(fields, [2]string{"num_speakers", strconv.Itoa(d.NumSpeakers)})
		}
		for _, name := range d.KnownSpeakerNames {
			fields = append(fields, [2]string{"known_speaker_names[]", name})
		}
		for _, ref := range d.KnownSpeakerReferences {
			fields = append(fields, [2]string{"known_speaker_references[]", ref})
		}
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// TranscribeWithRetry retries transient failures with exponential backoff.
// Each attempt gets its own call timeout.
func (wc *WhisperClient) TranscribeWithRetry(ctx context.Context, audioPath string, req Request) (string, error) {
	name := filepath.Base(audioPath)
	payload, attempts, err := Retry(ctx, wc.backoff, func(err error) bool {
		if IsRetryable(err) {
			log.Printf("⚠️ %s: %v, retrying", name, err)
			return true
		}
		return false
	}, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, wc.callTimeout)
		defer cancel()
		return wc.Transcribe(callCtx, audioPath, req)
	})
	if err != nil {
		return "", err
	}
	if attempts > 1 {
		log.Printf("✓ %s succeeded after %d attempts", name, attempts)
	}
	return payload, nil
}

// DetectLanguage transcribes a chunk with the structured format and returns
// the reported language code. It makes a single attempt.
func (wc *WhisperClient) DetectLanguage(ctx context.Context, audioPath, model string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, wc.callTimeout)
	defer cancel()

	resp, err := wc.openai.CreateTranscription(callCtx, openai.AudioRequest{
		Model:    model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", fmt.Errorf("detect language: %w", err)
	}
	if resp.Language == "" {
		return "", errors.New("detect language: no language in response")
	}
	return resp.Language, nil
}
