package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

type fakeRunner struct {
	mu          sync.Mutex
	calls       [][]string
	probe       string
	failFFmpeg  int // 1-based ffmpeg call that fails, 0 for never
	ffmpegCalls int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))

	switch name {
	case "ffprobe":
		if f.probe == "" {
			return nil, errors.New("ffprobe: invalid data found when processing input")
		}
		return []byte(f.probe), nil
	case "ffmpeg":
		f.ffmpegCalls++
		if f.ffmpegCalls == f.failFFmpeg {
			return nil, errors.New("ffmpeg: encoder error")
		}
		return nil, os.WriteFile(args[len(args)-1], []byte("mp3"), 0o644)
	}
	return nil, fmt.Errorf("unexpected command %s", name)
}

func TestPlanChunks(t *testing.T) {
	tests := []struct {
		name             string
		total, seg, over int64
		want             [][2]int64
	}{
		{"ten minutes with overlap", 600_000, 300_000, 3_000, [][2]int64{{0, 300_000}, {297_000, 597_000}, {594_000, 600_000}}},
		{"shorter than one segment", 42_000, 300_000, 3_000, [][2]int64{{0, 42_000}}},
		{"exact multiple without overlap", 600_000, 300_000, 0, [][2]int64{{0, 300_000}, {300_000, 600_000}}},
		{"exactly one segment", 300_000, 300_000, 3_000, [][2]int64{{0, 300_000}}},
		{"empty asset", 0, 300_000, 3_000, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := PlanChunks(tt.total, tt.seg, tt.over)
			if err != nil {
				t.Fatalf("PlanChunks: %v", err)
			}
			var got [][2]int64
			for i, c := range chunks {
				if c.Index != i+1 {
					t.Errorf("chunk %d has index %d", i, c.Index)
				}
				got = append(got, [2]int64{c.StartMs, c.EndMs})
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanChunksCoversTimeline(t *testing.T) {
	for _, total := range []int64{1, 999, 59_999, 600_000, 3_601_234} {
		for _, seg := range []int64{1_000, 30_000, 300_000} {
			for _, over := range []int64{0, 500, 3_000} {
				if over >= seg {
					continue
				}
				chunks, err := PlanChunks(total, seg, over)
				if err != nil {
					t.Fatalf("PlanChunks(%d, %d, %d): %v", total, seg, over, err)
				}
				if chunks[0].StartMs != 0 || chunks[len(chunks)-1].EndMs != total {
					t.Fatalf("PlanChunks(%d, %d, %d) does not span [0, total]: %v", total, seg, over, chunks)
				}
				for i := 1; i < len(chunks); i++ {
					prev, cur := chunks[i-1], chunks[i]
					if cur.StartMs != prev.StartMs+seg-over {
						t.Fatalf("chunk %d starts at %d, want %d", cur.Index, cur.StartMs, prev.StartMs+seg-over)
					}
					if prev.EndMs-cur.StartMs != over {
						t.Fatalf("chunks %d/%d overlap by %d, want %d", prev.Index, cur.Index, prev.EndMs-cur.StartMs, over)
					}
				}
			}
		}
	}
}

func TestPlanChunksRejectsBadParameters(t *testing.T) {
	for _, tc := range [][2]int64{{0, 0}, {-1, 0}, {1_000, 1_000}, {1_000, 2_000}, {1_000, -1}} {
		_, err := PlanChunks(10_000, tc[0], tc[1])
		if !errors.Is(err, models.ErrInvalidConfiguration) {
			t.Errorf("PlanChunks(seg=%d, overlap=%d) error = %v, want invalid configuration", tc[0], tc[1], err)
		}
	}
}

func TestEstimateChunkCount(t *testing.T) {
	if got := EstimateChunkCount(42_000, 300_000, 3_000); got != 1 {
		t.Errorf("short asset estimate = %d, want 1", got)
	}
	if got := EstimateChunkCount(3_600_000, 300_000, 0); got != 12 {
		t.Errorf("one hour estimate = %d, want 12", got)
	}
}

func TestProbe(t *testing.T) {
	input := filepath.Join(t.TempDir(), "talk.wav")
	if err := os.WriteFile(input, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{probe: `{"streams":[{"codec_type":"audio","sample_rate":"44100","channels":2}],"format":{"duration":"12.345"}}`}
	splitter := NewAudioSplitter(0, 0, "", WithCommandRunner(runner))

	asset, err := splitter.Probe(context.Background(), input)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	want := models.AudioAsset{Path: input, Duration: 12.345, SampleRate: 44100, Channels: 2}
	if asset != want {
		t.Errorf("asset = %+v, want %+v", asset, want)
	}
	if asset.DurationMs() != 12_345 {
		t.Errorf("DurationMs = %d", asset.DurationMs())
	}
}

func TestProbeFailures(t *testing.T) {
	splitter := NewAudioSplitter(0, 0, "", WithCommandRunner(&fakeRunner{}))

	_, err := splitter.Probe(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))
	if !errors.Is(err, ErrDecode) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file error = %v", err)
	}

	corrupt := filepath.Join(t.TempDir(), "corrupt.mp3")
	if err := os.WriteFile(corrupt, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = splitter.Probe(context.Background(), corrupt)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Path != corrupt {
		t.Errorf("corrupt file error = %v, want DecodeError", err)
	}
}

func TestSplitWritesChunks(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	splitter := NewAudioSplitter(16000, 1, "64k", WithCommandRunner(runner))
	asset := models.AudioAsset{Path: "/data/talk.wav", Duration: 10.5}

	chunks, err := splitter.Split(context.Background(), asset, 4, 1, filepath.Join(dir, "segments"))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	for i, c := range chunks {
		want := filepath.Join(dir, "segments", fmt.Sprintf("talk_seg%03d.mp3", i+1))
		if c.FilePath != want {
			t.Errorf("chunk %d path = %s, want %s", i, c.FilePath, want)
		}
		if _, err := os.Stat(c.FilePath); err != nil {
			t.Errorf("chunk %d not written: %v", i, err)
		}
	}
	if last := chunks[3]; last.StartMs != 9_000 || last.EndMs != 10_500 {
		t.Errorf("last chunk = %v", last)
	}

	second := runner.calls[1]
	for _, pair := range [][2]string{{"-ss", "3.000"}, {"-t", "4.000"}, {"-ar", "16000"}, {"-ac", "1"}, {"-b:a", "64k"}} {
		i := slices.Index(second, pair[0])
		if i < 0 || second[i+1] != pair[1] {
			t.Errorf("ffmpeg args %v missing %s %s", second, pair[0], pair[1])
		}
	}
}

func TestSplitExportFailure(t *testing.T) {
	runner := &fakeRunner{failFFmpeg: 2}
	splitter := NewAudioSplitter(0, 0, "", WithCommandRunner(runner))
	asset := models.AudioAsset{Path: "talk.mp3", Duration: 20}

	chunks, err := splitter.Split(context.Background(), asset, 5, 0, t.TempDir())
	if !errors.Is(err, ErrSegmentExport) {
		t.Fatalf("error = %v, want ErrSegmentExport", err)
	}
	if len(chunks) != 1 {
		t.Errorf("returned %d written chunks, want 1", len(chunks))
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	var chunks []models.Chunk
	for i := 1; i <= 3; i++ {
		path := filepath.Join(dir, fmt.Sprintf("c%d.mp3", i))
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		chunks = append(chunks, models.Chunk{Index: i, FilePath: path})
	}
	chunks = append(chunks, models.Chunk{Index: 4, FilePath: filepath.Join(dir, "gone.mp3")})

	if n := NewAudioSplitter(0, 0, "").Cleanup(chunks); n != 3 {
		t.Errorf("deleted %d files, want 3", n)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("%d files left behind", len(entries))
	}
}
