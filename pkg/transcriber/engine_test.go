package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

type fakeSegmenter struct {
	duration  float64
	chunks    int
	probeErr  error
	probed    int
	cleanedUp int
}

func (f *fakeSegmenter) Probe(ctx context.Context, audioPath string) (models.AudioAsset, error) {
	f.probed++
	if f.probeErr != nil {
		return models.AudioAsset{}, f.probeErr
	}
	return models.AudioAsset{Path: audioPath, Duration: f.duration}, nil
}

func (f *fakeSegmenter) Split(ctx context.Context, asset models.AudioAsset, segmentLength, overlap int, dir string) ([]models.Chunk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	step := int64(segmentLength-overlap) * 1000
	var chunks []models.Chunk
	for i := 1; i <= f.chunks; i++ {
		path := filepath.Join(dir, fmt.Sprintf("seg%03d.mp3", i))
		if err := os.WriteFile(path, []byte("mp3"), 0o644); err != nil {
			return chunks, err
		}
		start := int64(i-1) * step
		chunks = append(chunks, models.Chunk{Index: i, FilePath: path, StartMs: start, EndMs: start + int64(segmentLength)*1000})
	}
	return chunks, nil
}

func (f *fakeSegmenter) Cleanup(chunks []models.Chunk) int {
	for _, c := range chunks {
		os.Remove(c.FilePath)
	}
	f.cleanedUp += len(chunks)
	return len(chunks)
}

type fakeClient struct {
	mu       sync.Mutex
	requests []Request
	language string
	respond  func(path string, req Request) (string, error)
}

func (f *fakeClient) TranscribeWithRetry(ctx context.Context, audioPath string, req Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(audioPath, req)
}

func (f *fakeClient) DetectLanguage(ctx context.Context, audioPath, model string) (string, error) {
	if f.language == "" {
		return "", errors.New("no language")
	}
	return f.language, nil
}

// byChunk answers with "Part <n>." for the chunk file seg00n.mp3.
func byChunk(path string, req Request) (string, error) {
	var n int
	fmt.Sscanf(filepath.Base(path), "seg%03d.mp3", &n)
	return fmt.Sprintf("Part %d.", n), nil
}

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		OutputDir:       filepath.Join(dir, "out"),
		SegmentsDir:     filepath.Join(dir, "segments"),
		SegmentLength:   300,
		Overlap:         3,
		Concurrency:     4,
		Format:          models.FormatText,
		DetectLanguage:  true,
		SaveChunkOutput: true,
	}
}

func TestTranscribeFileSuccess(t *testing.T) {
	seg := &fakeSegmenter{duration: 900, chunks: 3}
	client := &fakeClient{language: "en", respond: byChunk}
	opts := testOptions(t)
	progress := models.NewProgressState(nil)
	opts.Progress = progress
	var stages []models.RunStatus
	opts.OnStage = func(s models.RunStatus) { stages = append(stages, s) }

	outcome, err := NewAudioTranscriber(seg, client, "whisper-1").TranscribeFile(context.Background(), "/audio/talk.mp3", opts)
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}

	if outcome.Status != models.OutcomeSuccess || outcome.ChunksTotal != 3 || outcome.ChunksSucceeded != 3 || outcome.ChunksFailed != 0 {
		t.Errorf("outcome = %+v", outcome)
	}
	if outcome.DetectedLanguage != "en" || outcome.DurationSeconds != 900 {
		t.Errorf("outcome = %+v", outcome)
	}
	wantPath := filepath.Join(opts.OutputDir, "talk_mp3_full.text")
	if outcome.OutputPath != wantPath {
		t.Errorf("output path = %s, want %s", outcome.OutputPath, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "Part 1. Part 2. Part 3." {
		t.Errorf("merged = %q", data)
	}

	for _, req := range client.requests {
		if req.Language != "en" || req.Model != "whisper-1" || req.Format != models.FormatText || req.Diarization != nil {
			t.Errorf("request = %+v", req)
		}
	}
	if _, err := os.Stat(filepath.Join(opts.OutputDir, "talk_mp3_segment_002.text")); err != nil {
		t.Errorf("chunk output not saved: %v", err)
	}
	if seg.cleanedUp != 3 {
		t.Errorf("cleaned up %d chunks, want 3", seg.cleanedUp)
	}

	wantStages := []models.RunStatus{models.RunSegmenting, models.RunTranscribing, models.RunMerging, models.RunDone}
	if !slices.Equal(stages, wantStages) {
		t.Errorf("stages = %v, want %v", stages, wantStages)
	}

	snap := progress.Snapshot()
	if snap.CompletedFiles != 1 || snap.TotalChunks != 3 || snap.CompletedChunks != 3 {
		t.Errorf("progress = %+v", snap)
	}
}

func TestTranscribeFileSkipsExistingOutput(t *testing.T) {
	seg := &fakeSegmenter{duration: 60, chunks: 1}
	opts := testOptions(t)
	opts.SkipExisting = true
	existing := OutputPath(opts.OutputDir, "talk.mp3", models.FormatText)
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(existing, []byte("done"), 0o644); err != nil {
		t.Fatal(err)
	}

	outcome, err := NewAudioTranscriber(seg, &fakeClient{respond: byChunk}, "whisper-1").TranscribeFile(context.Background(), "talk.mp3", opts)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != models.OutcomeSkipped || outcome.OutputPath != existing {
		t.Errorf("outcome = %+v", outcome)
	}
	if seg.probed != 0 {
		t.Error("skipped file was probed")
	}
}

func TestTranscribeFilePartialFailure(t *testing.T) {
	seg := &fakeSegmenter{duration: 900, chunks: 4}
	client := &fakeClient{respond: func(path string, req Request) (string, error) {
		if strings.HasSuffix(path, "seg003.mp3") {
			return "", &APIError{StatusCode: 500}
		}
		return byChunk(path, req)
	}}
	opts := testOptions(t)
	opts.Language = "en"

	outcome, _ := NewAudioTranscriber(seg, client, "whisper-1").TranscribeFile(context.Background(), "talk.mp3", opts)
	if outcome.Status != models.OutcomeSuccess || outcome.ChunksSucceeded != 3 || outcome.ChunksFailed != 1 {
		t.Errorf("outcome = %+v", outcome)
	}
	data, _ := os.ReadFile(outcome.OutputPath)
	if string(data) != "Part 1. Part 2. Part 4." {
		t.Errorf("merged = %q", data)
	}
}

func TestTranscribeFileAllChunksFail(t *testing.T) {
	seg := &fakeSegmenter{duration: 600, chunks: 2}
	client := &fakeClient{respond: func(string, Request) (string, error) {
		return "", &APIError{StatusCode: 401, Body: "bad key"}
	}}
	opts := testOptions(t)
	opts.KeepSegments = true

	outcome, err := NewAudioTranscriber(seg, client, "whisper-1").TranscribeFile(context.Background(), "talk.mp3", opts)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != models.OutcomeError || outcome.ChunksFailed != 2 || outcome.Error != ErrAllChunksFailed.Error() {
		t.Errorf("outcome = %+v", outcome)
	}
	if _, err := os.Stat(outcome.OutputPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output written for failed file: %v", err)
	}
	if seg.cleanedUp != 0 {
		t.Error("segments removed although keep-segments is set")
	}
}

func TestTranscribeFileProbeFailure(t *testing.T) {
	seg := &fakeSegmenter{probeErr: &DecodeError{Path: "broken.mp3", Err: errors.New("invalid data")}}
	outcome, err := NewAudioTranscriber(seg, &fakeClient{respond: byChunk}, "whisper-1").TranscribeFile(context.Background(), "broken.mp3", testOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != models.OutcomeError || !strings.Contains(outcome.Error, "invalid data") {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestTranscribeFileRejectsInvalidOptions(t *testing.T) {
	seg := &fakeSegmenter{duration: 60, chunks: 1}
	at := NewAudioTranscriber(seg, &fakeClient{respond: byChunk}, "whisper-1")

	for name, mutate := range map[string]func(*Options){
		"overlap too large": func(o *Options) { o.Overlap = o.SegmentLength },
		"no concurrency":    func(o *Options) { o.Concurrency = 0 },
		"hot temperature":   func(o *Options) { o.Temperature = 1.5 },
		"unknown format":    func(o *Options) { o.Format = "xml" },
	} {
		opts := testOptions(t)
		mutate(&opts)
		if _, err := at.TranscribeFile(context.Background(), "talk.mp3", opts); !errors.Is(err, models.ErrInvalidConfiguration) {
			t.Errorf("%s: error = %v, want invalid configuration", name, err)
		}
	}
	if seg.probed != 0 {
		t.Error("invalid options reached the segmenter")
	}
}

func TestTranscribeFileDiarization(t *testing.T) {
	seg := &fakeSegmenter{duration: 600, chunks: 2}
	client := &fakeClient{respond: func(path string, req Request) (string, error) {
		if strings.HasSuffix(path, "seg001.mp3") {
			return `{"text":"Hi.","segments":[{"speaker":"A","start":0,"end":1,"text":"Hi."}]}`, nil
		}
		return `{"text":"Hello.","segments":[{"speaker":"B","start":0,"end":2,"text":"Hello."}]}`, nil
	}}
	ref := filepath.Join(t.TempDir(), "alice.wav")
	if err := os.WriteFile(ref, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := testOptions(t)
	opts.Language = "en"
	opts.Diarization = Diarization{
		Enabled:                true,
		Model:                  "gpt-4o-transcribe-diarize",
		NumSpeakers:            2,
		KnownSpeakerNames:      []string{"Alice"},
		KnownSpeakerReferences: []string{ref},
	}

	outcome, _ := NewAudioTranscriber(seg, client, "whisper-1").TranscribeFile(context.Background(), "call.wav", opts)
	if outcome.Status != models.OutcomeSuccess || !outcome.Diarization {
		t.Fatalf("outcome = %+v", outcome)
	}

	req := client.requests[0]
	if req.Model != "gpt-4o-transcribe-diarize" || req.Format != models.FormatDiarizedJSON {
		t.Errorf("request = %+v", req)
	}
	if req.Diarization == nil || req.Diarization.NumSpeakers != 2 || len(req.Diarization.KnownSpeakerReferences) != 1 ||
		!strings.HasPrefix(req.Diarization.KnownSpeakerReferences[0], "data:audio/wav;base64,") {
		t.Errorf("diarization = %+v", req.Diarization)
	}

	if want := filepath.Join(opts.OutputDir, "call_wav_full.diarized_json"); outcome.OutputPath != want {
		t.Errorf("output = %s, want %s", outcome.OutputPath, want)
	}
	readable, err := os.ReadFile(outcome.ReadablePath)
	if err != nil {
		t.Fatalf("readable transcript: %v", err)
	}
	// the second chunk starts at 297s
	if want := "A: Hi. [00:00-00:01]\n\nB: Hello. [04:57-04:59]"; string(readable) != want {
		t.Errorf("readable = %q, want %q", readable, want)
	}
}

func TestTranscribeFileKeepsSegmentsWhenWriteFails(t *testing.T) {
	seg := &fakeSegmenter{duration: 600, chunks: 2}
	opts := testOptions(t)
	opts.Language = "en"
	opts.KeepSegments = true
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts.OutputDir = filepath.Join(blocker, "out")

	outcome, err := NewAudioTranscriber(seg, &fakeClient{respond: byChunk}, "whisper-1").TranscribeFile(context.Background(), "talk.mp3", opts)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != models.OutcomeError || !strings.Contains(outcome.Error, "write transcript") {
		t.Fatalf("outcome = %+v", outcome)
	}
	if seg.cleanedUp != 0 {
		t.Errorf("cleaned up %d segments although keep-segments is set", seg.cleanedUp)
	}
	for i := 1; i <= 2; i++ {
		if _, err := os.Stat(filepath.Join(opts.SegmentsDir, fmt.Sprintf("seg%03d.mp3", i))); err != nil {
			t.Errorf("segment %d removed: %v", i, err)
		}
	}
}

func TestTranscribeFileDropsReferencesWhenOneIsUnreadable(t *testing.T) {
	bob := filepath.Join(t.TempDir(), "bob.wav")
	if err := os.WriteFile(bob, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	for name, tc := range map[string]struct {
		refs      []string
		wantNames []string
		wantRefs  int
	}{
		"all readable":     {refs: []string{bob, bob}, wantNames: []string{"Alice", "Bob"}, wantRefs: 2},
		"first unreadable": {refs: []string{"/nonexistent/alice.wav", bob}, wantNames: nil, wantRefs: 0},
		"names only":       {refs: nil, wantNames: []string{"Alice", "Bob"}, wantRefs: 0},
	} {
		client := &fakeClient{respond: func(string, Request) (string, error) {
			return `{"text":"Hi.","segments":[{"speaker":"Alice","start":0,"end":1,"text":"Hi."}]}`, nil
		}}
		opts := testOptions(t)
		opts.Language = "en"
		opts.Diarization = Diarization{
			Enabled:                true,
			KnownSpeakerNames:      []string{"Alice", "Bob"},
			KnownSpeakerReferences: tc.refs,
		}

		outcome, _ := NewAudioTranscriber(&fakeSegmenter{duration: 60, chunks: 1}, client, "whisper-1").TranscribeFile(context.Background(), "call.wav", opts)
		if outcome.Status != models.OutcomeSuccess {
			t.Fatalf("%s: outcome = %+v", name, outcome)
		}
		d := client.requests[0].Diarization
		if !slices.Equal(d.KnownSpeakerNames, tc.wantNames) || len(d.KnownSpeakerReferences) != tc.wantRefs {
			t.Errorf("%s: names = %v, refs = %d, want %v, %d", name, d.KnownSpeakerNames, len(d.KnownSpeakerReferences), tc.wantNames, tc.wantRefs)
		}
	}
}
