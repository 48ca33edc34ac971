package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lucmuss/audio-transcriber/pkg/config"
	"github.com/lucmuss/audio-transcriber/pkg/models"
)

// ErrAllChunksFailed is recorded when no chunk of a file could be transcribed.
var ErrAllChunksFailed = errors.New("all segments failed to transcribe")

// Segmenter probes and cuts source audio.
type Segmenter interface {
	Probe(ctx context.Context, audioPath string) (models.AudioAsset, error)
	Split(ctx context.Context, asset models.AudioAsset, segmentLength, overlap int, outputDir string) ([]models.Chunk, error)
	Cleanup(chunks []models.Chunk) int
}

// Client performs transcription calls.
type Client interface {
	TranscribeWithRetry(ctx context.Context, audioPath string, req Request) (string, error)
	DetectLanguage(ctx context.Context, audioPath, model string) (string, error)
}

// Options are the per-file run settings.
type Options struct {
	OutputDir   string
	SegmentsDir string // defaults to OutputDir

	SegmentLength int // seconds
	Overlap       int // seconds
	Concurrency   int

	Format         models.ResponseFormat
	Language       string
	DetectLanguage bool
	Temperature    float64
	Prompt         string

	KeepSegments    bool
	SkipExisting    bool
	SaveChunkOutput bool

	Diarization Diarization

	// Verbose logs every finished segment.
	Verbose bool

	// Progress receives chunk and file counters; may be nil.
	Progress *models.ProgressState
	// OnStage is called on every state transition; may be nil.
	OnStage func(models.RunStatus)
	// OnChunkProgress receives the percentage of chunks finished; may be nil.
	OnChunkProgress func(percent int)
}

// Diarization enables speaker attribution. Reference clips are local files,
// parallel to KnownSpeakerNames.
type Diarization struct {
	Enabled                bool
	Model                  string
	NumSpeakers            int
	KnownSpeakerNames      []string
	KnownSpeakerReferences []string
}

// OptionsFromConfig maps configuration onto run options.
func OptionsFromConfig(cfg *config.Config) Options {
	t := cfg.Transcriber
	format, _ := models.ParseResponseFormat(t.ResponseFormat)
	return Options{
		OutputDir:       t.OutputDir,
		SegmentsDir:     t.SegmentsDir,
		SegmentLength:   t.SegmentLength,
		Overlap:         t.Overlap,
		Concurrency:     t.Concurrency,
		Format:          format,
		Language:        t.Language,
		DetectLanguage:  t.DetectLanguage == nil || *t.DetectLanguage,
		Temperature:     t.Temperature,
		Prompt:          t.Prompt,
		KeepSegments:    t.KeepSegments,
		SkipExisting:    t.SkipExisting,
		SaveChunkOutput: t.SaveChunkOutput == nil || *t.SaveChunkOutput,
		Diarization: Diarization{
			Enabled:                cfg.Diarization.Enabled,
			Model:                  cfg.Diarization.Model,
			NumSpeakers:            cfg.Diarization.NumSpeakers,
			KnownSpeakerNames:      cfg.Diarization.KnownSpeakerNames,
			KnownSpeakerReferences: cfg.Diarization.KnownSpeakerRefs,
		},
		Verbose: t.Verbose,
	}
}

// AudioTranscriber runs the per-file pipeline: probe, segment, detect
// language, dispatch, merge, persist, clean up.
type AudioTranscriber struct {
	segmenter Segmenter
	client    Client
	merger    *Merger
	model     string
}

// NewAudioTranscriber wires the pipeline stages.
func NewAudioTranscriber(segmenter Segmenter, client Client, model string) *AudioTranscriber {
	return &AudioTranscriber{
		segmenter: segmenter,
		client:    client,
		merger:    NewMerger(DefaultSimilarityThreshold),
		model:     model,
	}
}

// NewFromConfig builds the ffmpeg splitter and HTTP client from configuration.
func NewFromConfig(cfg *config.Config) *AudioTranscriber {
	t := cfg.Transcriber
	splitter := NewAudioSplitter(t.SampleRate, t.Channels, t.Bitrate)
	client := NewWhisperClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL,
		WithBackoff(DefaultBackoff(t.MaxRetries)),
		WithCallTimeout(t.CallTimeout),
	)
	return NewAudioTranscriber(splitter, client, cfg.OpenAI.Model)
}

// ProbeDuration exposes the segmenter's probe for duration-only analysis.
func (at *AudioTranscriber) ProbeDuration(ctx context.Context, audioPath string) (float64, error) {
	asset, err := at.segmenter.Probe(ctx, audioPath)
	if err != nil {
		return 0, err
	}
	return asset.Duration, nil
}

func (o Options) validate() error {
	if err := config.ValidatePipeline(o.SegmentLength, o.Overlap, o.Concurrency, o.Temperature); err != nil {
		return err
	}
	if !o.Format.Valid() {
		return &models.ConfigError{Field: "response_format", Reason: fmt.Sprintf("unsupported format %q", o.Format)}
	}
	if o.OutputDir == "" {
		return &models.ConfigError{Field: "output_dir", Reason: "must not be empty"}
	}
	if o.Diarization.NumSpeakers < 0 {
		return &models.ConfigError{Field: "num_speakers", Reason: "must not be negative"}
	}
	return nil
}

// TranscribeFile runs the pipeline for one file. Invalid options are
// returned as an error before any I/O; every other failure is reported in
// the returned Outcome.
func (at *AudioTranscriber) TranscribeFile(ctx context.Context, audioPath string, opts Options) (models.Outcome, error) {
	if err := opts.validate(); err != nil {
		return models.Outcome{}, err
	}

	run := &models.PipelineRun{Status: models.RunPending}
	setStage := func(s models.RunStatus) {
		run.Status = s
		if opts.OnStage != nil {
			opts.OnStage(s)
		}
	}

	outcome := at.run(ctx, audioPath, opts, run, setStage)
	run.Outcome = outcome

	switch outcome.Status {
	case models.OutcomeSuccess:
		setStage(models.RunDone)
	case models.OutcomeSkipped:
		setStage(models.RunSkipped)
	default:
		setStage(models.RunFailed)
		log.Printf("❌ %s: %s", filepath.Base(audioPath), outcome.Error)
	}
	if opts.Progress != nil {
		opts.Progress.FileFinished(outcome)
	}
	return outcome, nil
}

func (at *AudioTranscriber) run(ctx context.Context, audioPath string, opts Options, run *models.PipelineRun, setStage func(models.RunStatus)) models.Outcome {
	name := filepath.Base(audioPath)
	outcome := models.Outcome{File: audioPath, Diarization: opts.Diarization.Enabled}
	fail := func(err error) models.Outcome {
		outcome.Status = models.OutcomeError
		outcome.Error = err.Error()
		return outcome
	}

	// 1. effective model and format
	model, format := at.model, opts.Format
	var diarization *DiarizationRequest
	if opts.Diarization.Enabled {
		model, format = opts.Diarization.Model, models.FormatDiarizedJSON
		if model == "" {
			model = config.DefaultDiarizationModel
		}
		diarization = &DiarizationRequest{
			NumSpeakers:       opts.Diarization.NumSpeakers,
			KnownSpeakerNames: opts.Diarization.KnownSpeakerNames,
		}
		log.Printf("🎤 Diarization enabled, using %s", model)
	}

	// 2. skip when the merged output already exists
	outputPath := OutputPath(opts.OutputDir, audioPath, format)
	outcome.OutputPath = outputPath
	if opts.SkipExisting {
		if _, err := os.Stat(outputPath); err == nil {
			log.Printf("⏭️  Output already exists, skipping: %s", filepath.Base(outputPath))
			outcome.Status = models.OutcomeSkipped
			return outcome
		}
	}

	// 3. probe
	setStage(models.RunSegmenting)
	log.Printf("🎧 Processing: %s", name)
	asset, err := at.segmenter.Probe(ctx, audioPath)
	if err != nil {
		return fail(fmt.Errorf("failed to read audio file: %w", err))
	}
	run.Asset = asset
	outcome.DurationSeconds = asset.Duration
	log.Printf("Duration: %s", FormatDuration(asset.Duration))

	// 4. segment
	segmentsDir := opts.SegmentsDir
	if segmentsDir == "" {
		segmentsDir = opts.OutputDir
	}
	chunks, err := at.segmenter.Split(ctx, asset, opts.SegmentLength, opts.Overlap, segmentsDir)
	run.Chunks = chunks
	if err != nil {
		at.cleanup(chunks, opts.KeepSegments)
		return fail(fmt.Errorf("segmentation failed: %w", err))
	}
	if len(chunks) == 0 {
		return fail(errors.New("no segments created"))
	}
	outcome.ChunksTotal = len(chunks)

	// 5. language
	language := opts.Language
	if language == "" && opts.DetectLanguage {
		detected, err := at.client.DetectLanguage(ctx, chunks[0].FilePath, at.model)
		if err != nil {
			log.Printf("⚠️ Language detection failed: %v", err)
		} else {
			language = detected
			outcome.DetectedLanguage = detected
			log.Printf("🌐 Detected language: %s", detected)
		}
	}

	if diarization != nil {
		diarization.KnownSpeakerReferences = loadSpeakerReferences(opts.Diarization.KnownSpeakerReferences)
		if len(opts.Diarization.KnownSpeakerReferences) > 0 && diarization.KnownSpeakerReferences == nil {
			diarization.KnownSpeakerNames = nil
		}
	}

	// 6. transcribe
	setStage(models.RunTranscribing)
	req := Request{
		Model:       model,
		Format:      format,
		Language:    language,
		Temperature: opts.Temperature,
		Prompt:      opts.Prompt,
		Diarization: diarization,
	}
	transcripts, failed := at.transcribeChunks(ctx, audioPath, run, req, opts)
	outcome.ChunksSucceeded = len(transcripts)
	outcome.ChunksFailed = failed
	log.Printf("Transcribed %d/%d segments successfully", len(transcripts), len(chunks))

	if len(transcripts) == 0 {
		at.cleanup(chunks, opts.KeepSegments)
		return fail(ErrAllChunksFailed)
	}

	// 7. merge
	setStage(models.RunMerging)
	merged, err := at.merger.Merge(transcripts, format)
	if err != nil {
		at.cleanup(chunks, opts.KeepSegments)
		return fail(fmt.Errorf("merge failed: %w", err))
	}
	run.Merged = merged

	// 8. persist
	if err := writeFile(outputPath, merged); err != nil {
		at.cleanup(chunks, opts.KeepSegments)
		return fail(fmt.Errorf("write transcript: %w", err))
	}
	log.Printf("✓ Saved transcription: %s", filepath.Base(outputPath))

	if diarization != nil {
		readable := ReadablePath(opts.OutputDir, audioPath)
		if err := writeFile(readable, FormatDiarized(merged, true)); err != nil {
			log.Printf("⚠️ Failed to create readable version: %v", err)
		} else {
			outcome.ReadablePath = readable
			log.Printf("✓ Saved readable diarized transcription: %s", filepath.Base(readable))
		}
		if speakers := ExtractSpeakers(merged); len(speakers) > 0 {
			log.Printf("🎤 Speakers: %s", strings.Join(speakers, ", "))
		}
	}

	// 9. clean up
	at.cleanup(chunks, opts.KeepSegments)

	outcome.Status = models.OutcomeSuccess
	return outcome
}

func (at *AudioTranscriber) transcribeChunks(ctx context.Context, audioPath string, run *models.PipelineRun, req Request, opts Options) ([]models.Transcript, int) {
	chunks := run.Chunks
	run.Results = make([]models.ChunkResult, len(chunks))
	if opts.Progress != nil {
		opts.Progress.AddChunks(len(chunks))
	}
	log.Printf("🚀 Transcribing %d segments (concurrency: %d)", len(chunks), opts.Concurrency)

	var (
		mu   sync.Mutex
		done int
	)
	onDone := func(chunk models.Chunk, result models.ChunkResult) {
		run.Results[chunk.Index-1] = result
		if opts.Progress != nil {
			opts.Progress.ChunkDone(result.OK)
		}
		switch {
		case !result.OK:
			log.Printf("❌ Segment %d failed: %v", chunk.Index, result.Err)
		case opts.Verbose:
			log.Printf("✓ %s transcribed, %d characters", chunk, len(result.Payload))
		}
		if result.OK && opts.SaveChunkOutput {
			path := ChunkOutputPath(opts.OutputDir, audioPath, chunk.Index, req.Format)
			if err := writeFile(path, result.Payload); err != nil {
				log.Printf("⚠️ Failed to save segment %d transcription: %v", chunk.Index, err)
			}
		}

		mu.Lock()
		done++
		percent := done * 100 / len(chunks)
		mu.Unlock()
		if opts.OnChunkProgress != nil {
			opts.OnChunkProgress(percent)
		}
	}

	return Dispatch(ctx, chunks, opts.Concurrency, func(ctx context.Context, chunk models.Chunk) (string, error) {
		return at.client.TranscribeWithRetry(ctx, chunk.FilePath, req)
	}, onDone)
}

// loadSpeakerReferences encodes reference clips. References pair with
// speaker names by position, so one unreadable clip drops them all.
func loadSpeakerReferences(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	refs := make([]string, 0, len(paths))
	for _, p := range paths {
		url, err := ToDataURL(p)
		if err != nil {
			log.Printf("⚠️ Failed to load speaker reference %s, continuing without known speakers: %v", p, err)
			return nil
		}
		refs = append(refs, url)
	}
	return refs
}

func (at *AudioTranscriber) cleanup(chunks []models.Chunk, keep bool) {
	if len(chunks) == 0 {
		return
	}
	if keep {
		log.Printf("Keeping %d segment files", len(chunks))
		return
	}
	at.segmenter.Cleanup(chunks)
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
