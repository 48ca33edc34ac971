package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

var (
	// ErrDecode means the source audio could not be probed or decoded.
	ErrDecode = errors.New("audio decode failed")
	// ErrSegmentExport means a chunk could not be encoded to disk.
	ErrSegmentExport = errors.New("segment export failed")
)

// DecodeError carries the ffprobe diagnostics for an unreadable input.
type DecodeError struct {
	Path   string
	Stderr string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s: %v", e.Path, e.Err)
	if e.Stderr != "" {
		msg += " (stderr: " + e.Stderr + ")"
	}
	return msg
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// commandRunner runs an external tool and returns its stdout.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// AudioSplitter cuts an asset into overlapping chunks normalized for upload.
type AudioSplitter struct {
	sampleRate int
	channels   int
	bitrate    string
	runner     commandRunner
}

// SplitterOption configures an AudioSplitter.
type SplitterOption func(*AudioSplitter)

// WithCommandRunner replaces the ffmpeg/ffprobe executor.
func WithCommandRunner(r commandRunner) SplitterOption {
	return func(as *AudioSplitter) { as.runner = r }
}

// NewAudioSplitter creates a splitter producing chunks at the given sample
// rate, channel count and bitrate (defaults: 16 kHz, mono, 64k).
func NewAudioSplitter(sampleRate, channels int, bitrate string, opts ...SplitterOption) *AudioSplitter {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	if bitrate == "" {
		bitrate = "64k"
	}
	as := &AudioSplitter{
		sampleRate: sampleRate,
		channels:   channels,
		bitrate:    bitrate,
		runner:     execRunner{},
	}
	for _, opt := range opts {
		opt(as)
	}
	return as
}

// PlanChunks computes chunk boundaries in milliseconds. Chunk i starts at
// i*step and ends at min(start+segment, total); planning stops as soon as a
// chunk reaches the end of the timeline.
func PlanChunks(totalMs, segmentMs, overlapMs int64) ([]models.Chunk, error) {
	if segmentMs <= 0 {
		return nil, &models.ConfigError{Field: "segment_length", Reason: "must be positive"}
	}
	if overlapMs < 0 || overlapMs >= segmentMs {
		return nil, &models.ConfigError{Field: "overlap", Reason: "must satisfy 0 <= overlap < segment_length"}
	}

	step := segmentMs - overlapMs
	var chunks []models.Chunk
	for start := int64(0); start < totalMs; start += step {
		end := min(start+segmentMs, totalMs)
		chunks = append(chunks, models.Chunk{
			Index:   len(chunks) + 1,
			StartMs: start,
			EndMs:   end,
		})
		if end >= totalMs {
			break
		}
	}
	return chunks, nil
}

// EstimateChunkCount is the up-front estimate used for logging and ETA.
func EstimateChunkCount(totalMs, segmentMs, overlapMs int64) int {
	step := segmentMs - overlapMs
	if step <= 0 {
		return 1
	}
	return max(1, int(float64(totalMs-overlapMs)/float64(step)+0.5))
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads duration, sample rate and channel count with ffprobe.
func (as *AudioSplitter) Probe(ctx context.Context, audioPath string) (models.AudioAsset, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return models.AudioAsset{}, &DecodeError{Path: audioPath, Err: err}
	}

	// ffprobe -v error -select_streams a:0 -show_entries format=duration:stream=codec_type,sample_rate,channels -of json input
	out, err := as.runner.Run(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "format=duration:stream=codec_type,sample_rate,channels",
		"-of", "json",
		audioPath,
	)
	if err != nil {
		return models.AudioAsset{}, &DecodeError{Path: audioPath, Err: err}
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return models.AudioAsset{}, &DecodeError{Path: audioPath, Stderr: string(out), Err: fmt.Errorf("parse ffprobe output: %w", err)}
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
	if err != nil || duration <= 0 {
		return models.AudioAsset{}, &DecodeError{Path: audioPath, Err: fmt.Errorf("no usable duration %q", probe.Format.Duration)}
	}

	asset := models.AudioAsset{Path: audioPath, Duration: duration}
	for _, s := range probe.Streams {
		if s.CodecType != "" && s.CodecType != "audio" {
			continue
		}
		asset.SampleRate, _ = strconv.Atoi(s.SampleRate)
		asset.Channels = s.Channels
		break
	}
	return asset, nil
}

// ProbeDuration returns the length in seconds without segmenting.
func (as *AudioSplitter) ProbeDuration(ctx context.Context, audioPath string) (float64, error) {
	asset, err := as.Probe(ctx, audioPath)
	if err != nil {
		return 0, err
	}
	return asset.Duration, nil
}

// Split writes one file per chunk into outputDir and returns the chunks in
// sequence order. On an export failure the chunks written so far are
// returned alongside the error so the caller can clean them up.
func (as *AudioSplitter) Split(ctx context.Context, asset models.AudioAsset, segmentLength, overlap int, outputDir string) ([]models.Chunk, error) {
	// 1. plan boundaries
	plan, err := PlanChunks(asset.DurationMs(), int64(segmentLength)*1000, int64(overlap)*1000)
	if err != nil {
		return nil, err
	}
	log.Printf("✂️  %s: %s, creating %d segments (length: %ds, overlap: %ds)",
		filepath.Base(asset.Path), FormatDuration(asset.Duration),
		EstimateChunkCount(asset.DurationMs(), int64(segmentLength)*1000, int64(overlap)*1000),
		segmentLength, overlap)

	// 2. chunk directory
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create segments dir: %v", ErrSegmentExport, err)
	}

	// 3. export in order
	stem := strings.TrimSuffix(filepath.Base(asset.Path), filepath.Ext(asset.Path))
	chunks := make([]models.Chunk, 0, len(plan))
	for _, c := range plan {
		c.FilePath = filepath.Join(outputDir, fmt.Sprintf("%s_seg%03d.mp3", stem, c.Index))
		if err := as.extractChunk(ctx, asset.Path, c); err != nil {
			return chunks, fmt.Errorf("%w: segment %d: %v", ErrSegmentExport, c.Index, err)
		}
		chunks = append(chunks, c)
	}

	log.Printf("✓ Created %d segment files in %s", len(chunks), outputDir)
	return chunks, nil
}

// extractChunk re-encodes one slice as mono, 16 kHz, low bitrate MP3.
func (as *AudioSplitter) extractChunk(ctx context.Context, inputPath string, c models.Chunk) error {
	// ffmpeg -ss 0.000 -t 300.000 -i input -vn -ac 1 -ar 16000 -codec:a libmp3lame -b:a 64k -y output.mp3
	_, err := as.runner.Run(ctx, "ffmpeg",
		"-v", "error",
		"-ss", formatSeconds(c.StartMs),
		"-t", formatSeconds(c.EndMs-c.StartMs),
		"-i", inputPath,
		"-vn",
		"-ac", strconv.Itoa(as.channels),
		"-ar", strconv.Itoa(as.sampleRate),
		"-codec:a", "libmp3lame",
		"-b:a", as.bitrate,
		"-y",
		c.FilePath,
	)
	return err
}

// Cleanup deletes chunk files and reports how many were removed.
func (as *AudioSplitter) Cleanup(chunks []models.Chunk) int {
	deleted := 0
	for _, c := range chunks {
		if c.FilePath == "" {
			continue
		}
		if err := os.Remove(c.FilePath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Printf("⚠️ Failed to delete %s: %v", filepath.Base(c.FilePath), err)
			}
			continue
		}
		deleted++
	}
	log.Printf("🧹 Deleted %d temporary segment files", deleted)
	return deleted
}

func formatSeconds(ms int64) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}
