package transcriber

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

// DefaultSimilarityThreshold is the Jaccard score at which a chunk's leading
// sentence counts as a repeat of the previous chunk's trailing sentence.
const DefaultSimilarityThreshold = 0.8

// Merger combines ordered chunk payloads into one document.
type Merger struct {
	similarityThreshold float64
}

// NewMerger creates a merger. A non-positive threshold uses the default.
func NewMerger(similarityThreshold float64) *Merger {
	if similarityThreshold <= 0 {
		similarityThreshold = DefaultSimilarityThreshold
	}
	return &Merger{similarityThreshold: similarityThreshold}
}

// Merge joins transcripts (already in chunk order) using the strategy for
// format. No input gives an empty document; a single input is returned as is
// unless it comes from a later chunk and carries timestamps, in which case
// they are moved onto the source timeline.
func (m *Merger) Merge(transcripts []models.Transcript, format models.ResponseFormat) (string, error) {
	switch len(transcripts) {
	case 0:
		return "", nil
	case 1:
		t := transcripts[0]
		if t.Chunk.StartMs == 0 || !format.Timed() || (format.Structured() && !json.Valid([]byte(t.Payload))) {
			return t.Payload, nil
		}
	}

	switch format {
	case models.FormatText:
		return m.mergeText(transcripts), nil
	case models.FormatJSON, models.FormatVerboseJSON, models.FormatDiarizedJSON:
		return mergeJSON(transcripts)
	case models.FormatSRT:
		return mergeSRT(transcripts), nil
	case models.FormatVTT:
		return mergeVTT(transcripts), nil
	default:
		parts := make([]string, len(transcripts))
		for i, t := range transcripts {
			parts[i] = t.Payload
		}
		return strings.Join(parts, "\n"), nil
	}
}

var sentenceBoundary = regexp.MustCompile(`[.!?]+\s+`)

// splitSentences cuts after runs of . ! ? followed by whitespace, keeping
// the terminators.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		end := loc[0] + len(strings.TrimRightFunc(text[loc[0]:loc[1]], unicode.IsSpace))
		if s := strings.TrimSpace(text[start:end]); s != "" {
			sentences = append(sentences, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func normalizeSentence(s string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), ".!?")
}

func wordSet(s string) map[string]struct{} {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// similarity is the Jaccard index of the two sentences' word sets.
func similarity(a, b string) float64 {
	a, b = normalizeSentence(a), normalizeSentence(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	setA, setB := wordSet(a), wordSet(b)
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// mergeText drops a chunk's first sentence when it repeats the last sentence
// already merged, which is what the audio overlap produces.
func (m *Merger) mergeText(transcripts []models.Transcript) string {
	var parts []string
	lastSentence := ""

	for _, t := range transcripts {
		current := strings.TrimSpace(t.Payload)
		if current == "" {
			continue
		}
		sentences := splitSentences(current)

		if lastSentence != "" && len(sentences) > 0 && similarity(lastSentence, sentences[0]) >= m.similarityThreshold {
			sentences = sentences[1:]
			if len(sentences) == 0 {
				continue
			}
			current = strings.Join(sentences, " ")
		}

		parts = append(parts, current)
		lastSentence = sentences[len(sentences)-1]
	}
	return strings.Join(parts, " ")
}

type jsonTranscript struct {
	Text     string           `json:"text"`
	Language *string          `json:"language,omitempty"`
	Segments []map[string]any `json:"segments"`
}

// mergeJSON joins texts, concatenates segment arrays in order and moves
// segment times onto the source timeline. Unparseable payloads are skipped.
func mergeJSON(transcripts []models.Transcript) (string, error) {
	merged := jsonTranscript{Segments: []map[string]any{}}
	var texts []string
	languageSet := false

	for _, t := range transcripts {
		var doc jsonTranscript
		if err := json.Unmarshal([]byte(t.Payload), &doc); err != nil {
			log.Printf("⚠️ Skipping unparseable JSON from segment %d: %v", t.Chunk.Index, err)
			continue
		}
		if !languageSet {
			merged.Language = doc.Language
			languageSet = true
		}
		if text := strings.TrimSpace(doc.Text); text != "" {
			texts = append(texts, text)
		}

		offset := float64(t.Chunk.StartMs) / 1000
		for _, seg := range doc.Segments {
			if offset > 0 {
				shiftSeconds(seg, "start", offset)
				shiftSeconds(seg, "end", offset)
			}
			if _, ok := seg["id"]; ok {
				seg["id"] = len(merged.Segments)
			}
			merged.Segments = append(merged.Segments, seg)
		}
	}
	merged.Text = strings.Join(texts, " ")

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(merged); err != nil {
		return "", fmt.Errorf("encode merged JSON: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func shiftSeconds(seg map[string]any, key string, offset float64) {
	if v, ok := seg[key].(float64); ok {
		seg[key] = roundMillis(v + offset)
	}
}

func roundMillis(v float64) float64 {
	f, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 3, 64), 64)
	return f
}

// mergeSRT renumbers cues from 1 and shifts them by their chunk offset.
func mergeSRT(transcripts []models.Transcript) string {
	var blocks []string
	for _, t := range transcripts {
		for _, block := range splitBlocks(t.Payload) {
			lines := strings.Split(block, "\n")
			// index line, timing line, then text
			if len(lines) < 3 {
				continue
			}
			body := lines[1:]
			if shifted, ok := shiftTiming(body[0], t.Chunk.StartMs, formatSRTTime); ok {
				body[0] = shifted
			}
			blocks = append(blocks, strconv.Itoa(len(blocks)+1)+"\n"+strings.Join(body, "\n"))
		}
	}
	return strings.Join(blocks, "\n\n")
}

// mergeVTT strips each chunk's WEBVTT header and puts the shifted cues
// under a single header.
func mergeVTT(transcripts []models.Transcript) string {
	blocks := []string{"WEBVTT"}
	for _, t := range transcripts {
		for _, block := range splitBlocks(t.Payload) {
			if strings.HasPrefix(block, "WEBVTT") {
				continue
			}
			lines := strings.Split(block, "\n")
			for i, line := range lines {
				if shifted, ok := shiftTiming(line, t.Chunk.StartMs, formatVTTTime); ok {
					lines[i] = shifted
					break
				}
			}
			blocks = append(blocks, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(blocks, "\n\n") + "\n"
}
