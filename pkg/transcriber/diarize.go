package transcriber

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var audioMimeTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

// ToDataURL encodes a speaker reference clip as a base64 data URL. Unknown
// extensions are sniffed from the content, falling back to audio/wav.
func ToDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read speaker reference: %w", err)
	}

	mime, ok := audioMimeTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		mime = "audio/wav"
		if detected := mimetype.Detect(data); strings.HasPrefix(detected.String(), "audio/") {
			mime = detected.String()
		}
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// DiarizedSegment is one speaker turn in a diarized_json response.
type DiarizedSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

type diarizedDocument struct {
	Text     string            `json:"text"`
	Segments []DiarizedSegment `json:"segments"`
}

func parseDiarized(payload string) (diarizedDocument, error) {
	var doc diarizedDocument
	err := json.Unmarshal([]byte(payload), &doc)
	return doc, err
}

// FormatDiarized renders a diarized_json document as readable text: one
// paragraph per run of consecutive segments from the same speaker, each
// utterance followed by its time range. Unparseable input is returned as is.
func FormatDiarized(payload string, includeTimestamps bool) string {
	doc, err := parseDiarized(payload)
	if err != nil {
		return payload
	}
	if len(doc.Segments) == 0 {
		return strings.TrimSpace(doc.Text)
	}

	var paragraphs []string
	currentSpeaker := ""
	var utterances []string

	flush := func() {
		if len(utterances) > 0 {
			paragraphs = append(paragraphs, currentSpeaker+": "+strings.Join(utterances, " "))
		}
		utterances = nil
	}

	for _, seg := range doc.Segments {
		speaker := seg.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		if speaker != currentSpeaker {
			flush()
			currentSpeaker = speaker
		}

		text := strings.TrimSpace(seg.Text)
		if includeTimestamps {
			text += fmt.Sprintf(" [%s-%s]", formatClock(seg.Start), formatClock(seg.End))
		}
		utterances = append(utterances, text)
	}
	flush()

	return strings.Join(paragraphs, "\n\n")
}

// formatClock renders seconds as MM:SS, or HH:MM:SS past the first hour.
func formatClock(seconds float64) string {
	total := int(seconds)
	h, m, s := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ExtractSpeakers lists the distinct speakers in order of first appearance.
func ExtractSpeakers(payload string) []string {
	doc, err := parseDiarized(payload)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var speakers []string
	for _, seg := range doc.Segments {
		if seg.Speaker != "" && !seen[seg.Speaker] {
			seen[seg.Speaker] = true
			speakers = append(speakers, seg.Speaker)
		}
	}
	return speakers
}

// SpeakerStats summarizes one speaker's share of a conversation.
type SpeakerStats struct {
	Speaker       string  `json:"speaker"`
	Segments      int     `json:"segments"`
	TotalDuration float64 `json:"total_duration"`
	WordCount     int     `json:"word_count"`
}

// SpeakerStatistics returns per-speaker totals sorted by speaking time.
func SpeakerStatistics(payload string) []SpeakerStats {
	doc, err := parseDiarized(payload)
	if err != nil {
		return nil
	}

	index := make(map[string]int)
	var stats []SpeakerStats
	for _, seg := range doc.Segments {
		speaker := seg.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		i, ok := index[speaker]
		if !ok {
			i = len(stats)
			index[speaker] = i
			stats = append(stats, SpeakerStats{Speaker: speaker})
		}
		stats[i].Segments++
		stats[i].TotalDuration += seg.End - seg.Start
		stats[i].WordCount += len(strings.Fields(seg.Text))
	}

	sort.SliceStable(stats, func(a, b int) bool {
		return stats[a].TotalDuration > stats[b].TotalDuration
	})
	return stats
}
