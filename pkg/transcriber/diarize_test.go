package transcriber

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

const conversation = `{
  "text": "Hi Bob. Hi Alice. How are you? Fine, thanks.",
  "segments": [
    {"speaker": "Alice", "start": 0.0, "end": 1.5, "text": "Hi Bob."},
    {"speaker": "Bob", "start": 1.5, "end": 2.5, "text": "Hi Alice."},
    {"speaker": "Bob", "start": 2.5, "end": 4.0, "text": "How are you?"},
    {"speaker": "Alice", "start": 3725.0, "end": 3727.0, "text": "Fine, thanks."}
  ]
}`

func TestFormatDiarized(t *testing.T) {
	got := FormatDiarized(conversation, true)
	want := "Alice: Hi Bob. [00:00-00:01]\n\n" +
		"Bob: Hi Alice. [00:01-00:02] How are you? [00:02-00:04]\n\n" +
		"Alice: Fine, thanks. [01:02:05-01:02:07]"
	if got != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}

	plain := FormatDiarized(conversation, false)
	if strings.Contains(plain, "[") || !strings.HasPrefix(plain, "Alice: Hi Bob.\n\nBob: Hi Alice. How are you?") {
		t.Errorf("without timestamps: %q", plain)
	}
}

func TestFormatDiarizedFallbacks(t *testing.T) {
	if got := FormatDiarized("plain text", true); got != "plain text" {
		t.Errorf("non-JSON input changed: %q", got)
	}
	if got := FormatDiarized(`{"text":" only text ","segments":[]}`, true); got != "only text" {
		t.Errorf("segment-less input = %q", got)
	}
}

func TestExtractSpeakers(t *testing.T) {
	if got := ExtractSpeakers(conversation); !slices.Equal(got, []string{"Alice", "Bob"}) {
		t.Errorf("speakers = %v", got)
	}
	if got := ExtractSpeakers("{"); got != nil {
		t.Errorf("speakers of invalid JSON = %v", got)
	}
}

func TestSpeakerStatistics(t *testing.T) {
	stats := SpeakerStatistics(conversation)
	if len(stats) != 2 {
		t.Fatalf("got %d speakers", len(stats))
	}
	alice, bob := stats[0], stats[1]
	if alice.Speaker != "Alice" || alice.Segments != 2 || alice.TotalDuration != 3.5 || alice.WordCount != 4 {
		t.Errorf("alice = %+v", alice)
	}
	if bob.Speaker != "Bob" || bob.Segments != 2 || bob.TotalDuration != 2.5 || bob.WordCount != 5 {
		t.Errorf("bob = %+v", bob)
	}
}

func TestToDataURL(t *testing.T) {
	dir := t.TempDir()
	data := []byte("fake audio bytes")

	mp3 := filepath.Join(dir, "alice.MP3")
	if err := os.WriteFile(mp3, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ToDataURL(mp3)
	if err != nil {
		t.Fatalf("ToDataURL: %v", err)
	}
	if want := "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(data); got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	unknown := filepath.Join(dir, "bob.sample")
	if err := os.WriteFile(unknown, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if got, _ := ToDataURL(unknown); !strings.HasPrefix(got, "data:audio/wav;base64,") {
		t.Errorf("unknown extension = %s", got)
	}

	if _, err := ToDataURL(filepath.Join(dir, "missing.wav")); err == nil {
		t.Error("missing reference should fail")
	}
}
