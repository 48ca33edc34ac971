package transcriber

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

// SupportedExtensions are the input containers accepted for transcription.
var SupportedExtensions = []string{".aac", ".flac", ".m4a", ".mp3", ".mp4", ".ogg", ".wav", ".wma"}

// IsSupported reports whether path has a supported audio extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// FindAudioFiles returns path itself when it is a supported file, or every
// supported file below it, sorted.
func FindAudioFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}

	if !info.IsDir() {
		if !IsSupported(path) {
			log.Printf("⚠️ Unsupported file format: %s (supported: %s)", filepath.Ext(path), strings.Join(SupportedExtensions, ", "))
			return nil, nil
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsSupported(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	sort.Strings(files)
	log.Printf("📂 Found %d audio files in %s", len(files), path)
	return files, nil
}

// FormatDuration renders seconds as "1h 23m 45s", omitting zero units.
func FormatDuration(seconds float64) string {
	total := int(seconds)
	h, m, s := total/3600, total%3600/60, total%60

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

// outputBase is "<stem>_<ext>" for "<stem>.<ext>", so inputs that differ
// only by container do not collide.
func outputBase(audioPath string) string {
	name := filepath.Base(audioPath)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		return stem + "_" + ext
	}
	return stem
}

// OutputPath is where the merged transcript of audioPath is written.
func OutputPath(outputDir, audioPath string, format models.ResponseFormat) string {
	return filepath.Join(outputDir, fmt.Sprintf("%s_full.%s", outputBase(audioPath), format))
}

// ReadablePath is where the speaker-grouped text of a diarized run goes.
func ReadablePath(outputDir, audioPath string) string {
	return filepath.Join(outputDir, outputBase(audioPath)+"_full_readable.txt")
}

// ChunkOutputPath is where one chunk's raw payload is saved.
func ChunkOutputPath(outputDir, audioPath string, index int, format models.ResponseFormat) string {
	return filepath.Join(outputDir, fmt.Sprintf("%s_segment_%03d.%s", outputBase(audioPath), index, format))
}
