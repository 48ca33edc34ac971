package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucmuss/audio-transcriber/pkg/config"
	"github.com/lucmuss/audio-transcriber/pkg/models"
	"github.com/lucmuss/audio-transcriber/pkg/worker"
)

// execute runs the root command with a config path that does not exist, so
// only defaults, environment and flags apply.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvPrefix+"API_KEY", "")
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func audioDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestDryRun(t *testing.T) {
	dir := audioDir(t, "a.mp3", "b.wav", "notes.txt")
	out, err := execute(t, "-i", dir, "--dry-run", "--segment-length", "600", "--overlap", "10", "-f", "srt")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{
		"Found 2 audio file(s)",
		"DRY RUN MODE",
		"Segment length:  600s",
		"Overlap:         10s",
		"Format:          srt",
		"Language:        auto-detect",
		"No API calls will be made.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	if _, err := execute(t, "-i", audioDir(t, "notes.txt"), "--dry-run"); err == nil || !strings.Contains(err.Error(), "no audio files") {
		t.Errorf("empty directory: %v", err)
	}
	if _, err := execute(t, "-i", filepath.Join(t.TempDir(), "missing"), "--dry-run"); err == nil {
		t.Error("missing input accepted")
	}
	if _, err := execute(t, "-i", audioDir(t, "a.mp3"), "--dry-run", "--segment-length", "10", "--overlap", "10"); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Errorf("overlap >= segment length: %v", err)
	}
	if _, err := execute(t, "-i", audioDir(t, "a.mp3"), "--dry-run", "-f", "xml"); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Errorf("unknown format: %v", err)
	}
	if _, err := execute(t, "-i", audioDir(t, "a.mp3")); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Errorf("missing API key: %v", err)
	}
	if _, err := execute(t, "--dry-run"); err == nil {
		t.Error("missing --input accepted")
	}
}

func TestApplyFlagsOnlyChanged(t *testing.T) {
	f := &flags{}
	cmd := &cobra.Command{Use: "transcribe"}
	bindFlags(cmd.Flags(), f)
	err := cmd.ParseFlags([]string{
		"--model", "whisper-1",
		"--no-detect-language",
		"--enable-diarization",
		"--known-speaker-names", "Alice,Bob",
		"--summarize",
		"-c", "2",
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Transcriber.SegmentLength = 900
	cfg.Transcriber.Language = "de"
	applyFlags(cmd, f, cfg)

	if cfg.OpenAI.Model != "whisper-1" || cfg.Transcriber.Concurrency != 2 {
		t.Errorf("changed flags not applied: %+v", cfg)
	}
	if cfg.Transcriber.SegmentLength != 900 || cfg.Transcriber.Language != "de" {
		t.Errorf("unchanged flags overrode the config: %+v", cfg.Transcriber)
	}
	if *cfg.Transcriber.DetectLanguage {
		t.Error("language detection still enabled")
	}
	if !cfg.Diarization.Enabled || len(cfg.Diarization.KnownSpeakerNames) != 2 || !cfg.Summary.Enabled {
		t.Errorf("diarization = %+v, summary = %+v", cfg.Diarization, cfg.Summary)
	}
}

func TestPrintSummary(t *testing.T) {
	dir := t.TempDir()
	diarized := filepath.Join(dir, "call_wav_full.diarized_json")
	os.WriteFile(diarized, []byte(`{"segments":[{"speaker":"A","start":0,"end":90,"text":"hello there"}]}`), 0o644)

	report := worker.BatchReport{
		Outcomes: []models.Outcome{
			{File: "/in/call.wav", Status: models.OutcomeSuccess, OutputPath: diarized, Diarization: true},
			{File: "/in/broken.mp3", Status: models.OutcomeError, Error: "failed to read audio file"},
		},
		Succeeded:     1,
		Failed:        1,
		TotalChunks:   3,
		FailedChunks:  1,
		TotalDuration: 3725,
		Elapsed:       90 * time.Second,
	}

	var out bytes.Buffer
	printSummary(&out, report, true)
	for _, want := range []string{
		"Files processed:     1",
		"Files failed:        1",
		"Failed segments:     1",
		"Total duration:      1h 2m 5s",
		"✓ call.wav - success",
		"✗ broken.mp3 - error",
		"failed to read audio file",
		"A: 1 segments, 1m 30s, 2 words",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary lacks %q:\n%s", want, out.String())
		}
	}
}
