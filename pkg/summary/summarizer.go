package summary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

// Summarizer condenses finished transcripts with a chat model.
type Summarizer struct {
	client *openai.Client
	model  string
	prompt string
}

// NewSummarizer creates a summarizer against an OpenAI compatible endpoint.
func NewSummarizer(apiKey, baseURL, model, prompt string) *Summarizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Summarizer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		prompt: prompt,
	}
}

// Result describes one summarization attempt.
type Result struct {
	TranscriptPath string               `json:"transcription_file"`
	Status         models.OutcomeStatus `json:"status"`
	SummaryPath    string               `json:"summary_file,omitempty"`
	Model          string               `json:"model,omitempty"`
	OriginalLength int                  `json:"original_length,omitempty"`
	SummaryLength  int                  `json:"summary_length,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// SummaryPath maps talk_mp3_full.text to <dir>/talk_mp3_summary.txt.
func SummaryPath(transcriptPath, dir string) string {
	name := filepath.Base(transcriptPath)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(dir, strings.ReplaceAll(stem, "_full", "")+"_summary.txt")
}

// Summarize sends text to the chat model and returns the summary.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: s.prompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summary generation failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("empty summary returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// SummarizeFile summarizes a transcript file into dir. Failures are reported
// in the Result rather than returned.
func (s *Summarizer) SummarizeFile(ctx context.Context, transcriptPath, dir string, skipExisting bool) Result {
	result := Result{TranscriptPath: transcriptPath, Model: s.model}
	fail := func(format string, args ...any) Result {
		result.Status = models.OutcomeError
		result.Error = fmt.Sprintf(format, args...)
		log.Printf("❌ Summary of %s: %s", filepath.Base(transcriptPath), result.Error)
		return result
	}

	// 1. output location
	summaryPath := SummaryPath(transcriptPath, dir)
	if skipExisting {
		if _, err := os.Stat(summaryPath); err == nil {
			log.Printf("⏭️  Summary already exists, skipping: %s", filepath.Base(summaryPath))
			result.Status = models.OutcomeSkipped
			result.SummaryPath = summaryPath
			return result
		}
	}

	// 2. read transcript
	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fail("transcription file not found")
		}
		return fail("failed to read file: %v", err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		log.Printf("⚠️ Transcription is empty, skipping summarization")
		result.Status = models.OutcomeSkipped
		result.Error = "empty transcription"
		return result
	}
	result.OriginalLength = len(text)

	// 3. generate
	log.Printf("📝 Summarizing %s with %s (%d characters)", filepath.Base(transcriptPath), s.model, len(text))
	summary, err := s.Summarize(ctx, text)
	if err != nil {
		return fail("%v", err)
	}

	// 4. save
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail("failed to save summary: %v", err)
	}
	if err := os.WriteFile(summaryPath, []byte(summary), 0o644); err != nil {
		return fail("failed to save summary: %v", err)
	}
	log.Printf("✓ Saved summary: %s (%d characters)", filepath.Base(summaryPath), len(summary))

	result.Status = models.OutcomeSuccess
	result.SummaryPath = summaryPath
	result.SummaryLength = len(summary)
	return result
}
