package models

import (
	"fmt"
	"time"
)

// AudioAsset is a source recording. It is read-only for the whole pipeline.
type AudioAsset struct {
	Path       string  `json:"path"`
	Duration   float64 `json:"duration"` // seconds, from ffprobe
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

// DurationMs returns the asset length in whole milliseconds.
func (a AudioAsset) DurationMs() int64 {
	return int64(a.Duration*1000 + 0.5)
}

// Chunk is one contiguous, possibly overlapping slice of an AudioAsset.
type Chunk struct {
	Index    int    `json:"index"`     // 1-based, append order during segmentation
	FilePath string `json:"file_path"` // encoded sub-asset, empty until exported
	StartMs  int64  `json:"start_ms"`
	EndMs    int64  `json:"end_ms"`
}

// Offset is the chunk's position in the original timeline.
func (c Chunk) Offset() time.Duration {
	return time.Duration(c.StartMs) * time.Millisecond
}

// Duration returns the length of the slice.
func (c Chunk) Duration() time.Duration {
	return time.Duration(c.EndMs-c.StartMs) * time.Millisecond
}

func (c Chunk) String() string {
	return fmt.Sprintf("chunk #%d (%.2fs - %.2fs)", c.Index, float64(c.StartMs)/1000, float64(c.EndMs)/1000)
}

// ChunkResult is the per-chunk outcome of one transcription call.
type ChunkResult struct {
	Index   int    `json:"index"`
	Payload string `json:"payload"` // raw response in the requested format
	OK      bool   `json:"ok"`
	Err     error  `json:"-"`
}

// Transcript is a successful chunk result paired with its chunk, in merge order.
type Transcript struct {
	Chunk   Chunk
	Payload string
}
