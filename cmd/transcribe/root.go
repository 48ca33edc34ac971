package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lucmuss/audio-transcriber/pkg/config"
	"github.com/lucmuss/audio-transcriber/pkg/models"
	"github.com/lucmuss/audio-transcriber/pkg/summary"
	"github.com/lucmuss/audio-transcriber/pkg/transcriber"
	"github.com/lucmuss/audio-transcriber/pkg/worker"
)

const version = "1.0.0"

// errFilesFailed makes the process exit 1 once the summary has been printed.
var errFilesFailed = errors.New("one or more files failed")

type flags struct {
	input      string
	configPath string

	apiKey  string
	baseURL string
	model   string

	outputDir      string
	segmentsDir    string
	responseFormat string

	segmentLength int
	overlap       int
	concurrency   int
	maxRetries    int

	language         string
	noDetectLanguage bool
	temperature      float64
	prompt           string

	diarize         bool
	numSpeakers     int
	speakerNames    []string
	speakerRefs     []string
	summarize       bool
	summaryDir      string
	summaryModel    string
	summaryPrompt   string
	keepSegments    bool
	skipExisting    bool
	analyzeDuration bool
	dryRun          bool
	verbose         bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Transcribe long audio files with an OpenAI compatible API",
		Long: "Splits audio into overlapping segments, transcribes them in parallel and\n" +
			"merges the results into one transcript per file.\n\n" +
			"Every option can also be set in the config file or through " + config.EnvPrefix + "* variables.",
		Example: "  transcribe -i podcast.mp3\n" +
			"  transcribe -i ./audio -o ./transcriptions -f srt\n" +
			"  transcribe -i lecture.mp3 --base-url http://localhost:11434/v1 --api-key ollama --model whisper",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, f, out)
		},
	}

	bindFlags(cmd.Flags(), f)
	cmd.MarkFlagRequired("input")
	return cmd
}

func bindFlags(fs *pflag.FlagSet, f *flags) {
	fs.StringVarP(&f.input, "input", "i", "", "Path to an audio file or directory")
	fs.StringVar(&f.configPath, "config", "config/config.yaml", "YAML config file (optional)")

	fs.StringVar(&f.apiKey, "api-key", "", "API key")
	fs.StringVar(&f.baseURL, "base-url", "", "API base URL (default "+config.DefaultBaseURL+")")
	fs.StringVar(&f.model, "model", "", "Transcription model (default "+config.DefaultModel+")")

	fs.StringVarP(&f.outputDir, "output-dir", "o", "", "Directory for transcripts (default "+config.DefaultOutputDir+")")
	fs.StringVar(&f.segmentsDir, "segments-dir", "", "Directory for temporary segments (default: output dir)")
	fs.StringVarP(&f.responseFormat, "response-format", "f", "", "Output format: "+formatList())

	fs.IntVar(&f.segmentLength, "segment-length", config.DefaultSegmentLength, "Segment length in seconds")
	fs.IntVar(&f.overlap, "overlap", config.DefaultOverlap, "Overlap between segments in seconds")
	fs.IntVarP(&f.concurrency, "concurrency", "c", config.DefaultConcurrency, "Parallel transcription calls")
	fs.IntVar(&f.maxRetries, "max-retries", config.DefaultMaxRetries, "Attempts per segment")

	fs.StringVar(&f.language, "language", "", "ISO-639-1 language code, auto-detected when empty")
	fs.BoolVar(&f.noDetectLanguage, "no-detect-language", false, "Disable language detection")
	fs.Float64Var(&f.temperature, "temperature", 0, "Sampling temperature 0.0-1.0")
	fs.StringVar(&f.prompt, "prompt", "", "Context prompt (names, technical terms)")

	fs.BoolVar(&f.diarize, "enable-diarization", false, "Label speakers (uses "+config.DefaultDiarizationModel+")")
	fs.IntVar(&f.numSpeakers, "num-speakers", 0, "Expected number of speakers")
	fs.StringSliceVar(&f.speakerNames, "known-speaker-names", nil, "Known speaker names")
	fs.StringSliceVar(&f.speakerRefs, "known-speaker-references", nil, "Reference clips for the known speakers")

	fs.BoolVar(&f.summarize, "summarize", false, "Summarize every transcript")
	fs.StringVar(&f.summaryDir, "summary-dir", "", "Directory for summaries (default "+config.DefaultSummaryDir+")")
	fs.StringVar(&f.summaryModel, "summary-model", "", "Summary model (default "+config.DefaultSummaryModel+")")
	fs.StringVar(&f.summaryPrompt, "summary-prompt", "", "Summary system prompt")

	fs.BoolVar(&f.keepSegments, "keep-segments", false, "Keep segment files after processing")
	fs.BoolVar(&f.skipExisting, "skip-existing", false, "Skip files whose transcript already exists")
	fs.BoolVar(&f.analyzeDuration, "analyze-duration", false, "Probe every file first for a better ETA")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Print the configuration without calling the API")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Log every segment")
}

func formatList() string {
	names := make([]string, len(models.ResponseFormats))
	for i, f := range models.ResponseFormats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// applyFlags lets flags given on the command line win over file and
// environment values.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	str := func(name, value string, dst *string) {
		if changed(name) {
			*dst = value
		}
	}
	num := func(name string, value int, dst *int) {
		if changed(name) {
			*dst = value
		}
	}
	on := func(name string, value bool, dst *bool) {
		if changed(name) {
			*dst = value
		}
	}

	str("api-key", f.apiKey, &cfg.OpenAI.APIKey)
	str("base-url", f.baseURL, &cfg.OpenAI.BaseURL)
	str("model", f.model, &cfg.OpenAI.Model)

	t := &cfg.Transcriber
	str("output-dir", f.outputDir, &t.OutputDir)
	str("segments-dir", f.segmentsDir, &t.SegmentsDir)
	str("response-format", f.responseFormat, &t.ResponseFormat)
	num("segment-length", f.segmentLength, &t.SegmentLength)
	num("overlap", f.overlap, &t.Overlap)
	num("concurrency", f.concurrency, &t.Concurrency)
	num("max-retries", f.maxRetries, &t.MaxRetries)
	str("language", f.language, &t.Language)
	if changed("no-detect-language") {
		detect := !f.noDetectLanguage
		t.DetectLanguage = &detect
	}
	if changed("temperature") {
		t.Temperature = f.temperature
	}
	str("prompt", f.prompt, &t.Prompt)
	on("keep-segments", f.keepSegments, &t.KeepSegments)
	on("skip-existing", f.skipExisting, &t.SkipExisting)
	on("verbose", f.verbose, &t.Verbose)

	d := &cfg.Diarization
	on("enable-diarization", f.diarize, &d.Enabled)
	num("num-speakers", f.numSpeakers, &d.NumSpeakers)
	if changed("known-speaker-names") {
		d.KnownSpeakerNames = f.speakerNames
	}
	if changed("known-speaker-references") {
		d.KnownSpeakerRefs = f.speakerRefs
	}

	s := &cfg.Summary
	on("summarize", f.summarize, &s.Enabled)
	str("summary-dir", f.summaryDir, &s.Dir)
	str("summary-model", f.summaryModel, &s.Model)
	str("summary-prompt", f.summaryPrompt, &s.Prompt)
}

func run(ctx context.Context, cmd *cobra.Command, f *flags, out io.Writer) error {
	// 1. configuration
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	segmentsDirSet := cfg.Transcriber.SegmentsDir != cfg.Transcriber.OutputDir
	applyFlags(cmd, f, cfg)
	if !segmentsDirSet && !cmd.Flags().Changed("segments-dir") {
		cfg.Transcriber.SegmentsDir = cfg.Transcriber.OutputDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !f.dryRun {
		if err := cfg.RequireAPIKey(); err != nil {
			return err
		}
	}

	// 2. input files
	if _, err := os.Stat(f.input); err != nil {
		return fmt.Errorf("input path does not exist: %s", f.input)
	}
	files, err := transcriber.FindAudioFiles(f.input)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no audio files found in %s", f.input)
	}
	fmt.Fprintf(out, "Found %d audio file(s)\n", len(files))

	// 3. dry run
	if f.dryRun {
		printDryRun(out, cfg)
		return nil
	}

	// 4. batch
	engine := transcriber.NewFromConfig(cfg)
	bo := worker.BatchOptions{AnalyzeDuration: f.analyzeDuration}
	if cfg.Summary.Enabled {
		bo.Summarizer = summary.NewSummarizer(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Summary.Model, cfg.Summary.Prompt)
		bo.SummaryDir = cfg.Summary.Dir
	}
	bo.OnFileDone = func(o models.Outcome, stats models.ProgressStats) {
		fmt.Fprintf(out, "[%d/%d] %s %s%s\n",
			stats.CompletedFiles+stats.FailedFiles+stats.SkippedFiles, stats.TotalFiles,
			statusIcon(o.Status), filepath.Base(o.File), etaSuffix(stats))
	}

	report, err := worker.RunBatch(ctx, engine, files, transcriber.OptionsFromConfig(cfg), bo)
	if err != nil {
		return err
	}

	printSummary(out, report, cfg.Transcriber.Verbose)
	if report.AnyFailed() {
		return errFilesFailed
	}
	return nil
}

func printDryRun(out io.Writer, cfg *config.Config) {
	t := cfg.Transcriber
	language := t.Language
	if language == "" {
		language = "auto-detect"
	}
	fmt.Fprintln(out, "\n*** DRY RUN MODE ***")
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Model:           %s\n", cfg.OpenAI.Model)
	fmt.Fprintf(out, "  Base URL:        %s\n", cfg.OpenAI.BaseURL)
	fmt.Fprintf(out, "  Segment length:  %ds\n", t.SegmentLength)
	fmt.Fprintf(out, "  Overlap:         %ds\n", t.Overlap)
	fmt.Fprintf(out, "  Concurrency:     %d\n", t.Concurrency)
	fmt.Fprintf(out, "  Format:          %s\n", t.ResponseFormat)
	fmt.Fprintf(out, "  Language:        %s\n", language)
	fmt.Fprintf(out, "  Output dir:      %s\n", t.OutputDir)
	if cfg.Diarization.Enabled {
		fmt.Fprintf(out, "  Diarization:     %s\n", cfg.Diarization.Model)
	}
	fmt.Fprintln(out, "\nNo API calls will be made.")
}

func statusIcon(s models.OutcomeStatus) string {
	switch s {
	case models.OutcomeSuccess:
		return "✓"
	case models.OutcomeSkipped:
		return "⏭️"
	default:
		return "✗"
	}
}

func etaSuffix(stats models.ProgressStats) string {
	if stats.ETA < 0 {
		return ""
	}
	return fmt.Sprintf(" (ETA %s)", transcriber.FormatDuration(stats.ETA))
}

func printSummary(out io.Writer, report worker.BatchReport, verbose bool) {
	line := strings.Repeat("=", 70)
	fmt.Fprintln(out, "\n"+line)
	fmt.Fprintln(out, "TRANSCRIPTION SUMMARY")
	fmt.Fprintln(out, line)
	fmt.Fprintf(out, "Files processed:     %d\n", report.Succeeded)
	fmt.Fprintf(out, "Files skipped:       %d\n", report.Skipped)
	fmt.Fprintf(out, "Files failed:        %d\n", report.Failed)
	fmt.Fprintf(out, "Total segments:      %d\n", report.TotalChunks)
	fmt.Fprintf(out, "Failed segments:     %d\n", report.FailedChunks)
	if report.TotalDuration > 0 {
		fmt.Fprintf(out, "Total duration:      %s\n", transcriber.FormatDuration(report.TotalDuration))
	}
	fmt.Fprintf(out, "Elapsed:             %s\n", transcriber.FormatDuration(report.Elapsed.Seconds()))
	for _, s := range report.Summaries {
		if s.Status == models.OutcomeSuccess {
			fmt.Fprintf(out, "Summary:             %s\n", s.SummaryPath)
		}
	}

	if verbose && len(report.Outcomes) > 0 {
		fmt.Fprintln(out, "\nDetailed results:")
		for _, o := range report.Outcomes {
			fmt.Fprintf(out, "  %s %s - %s\n", statusIcon(o.Status), filepath.Base(o.File), o.Status)
			if o.Error != "" {
				fmt.Fprintf(out, "      %s\n", o.Error)
			}
			if o.Diarization && o.Status == models.OutcomeSuccess {
				printSpeakers(out, o.OutputPath)
			}
		}
	}
	fmt.Fprintln(out, line)
}

func printSpeakers(out io.Writer, transcriptPath string) {
	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		return
	}
	for _, s := range transcriber.SpeakerStatistics(string(data)) {
		fmt.Fprintf(out, "      %s: %d segments, %s, %d words\n",
			s.Speaker, s.Segments, transcriber.FormatDuration(s.TotalDuration), s.WordCount)
	}
}
