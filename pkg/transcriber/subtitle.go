package transcriber

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	blankLines = regexp.MustCompile(`\n[ \t]*\n`)
	cueTiming  = regexp.MustCompile(`^\s*((?:\d+:)?\d{1,2}:\d{2}[,.]\d{1,3})\s*-->\s*((?:\d+:)?\d{1,2}:\d{2}[,.]\d{1,3})(.*)$`)
)

// splitBlocks breaks a subtitle document into blank-line separated blocks.
func splitBlocks(doc string) []string {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	var blocks []string
	for _, b := range blankLines.Split(doc, -1) {
		if b = strings.Trim(b, "\n"); strings.TrimSpace(b) != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// shiftTiming moves a "start --> end" line by offsetMs and rewrites both
// timestamps with format. ok is false when line is not a timing line.
func shiftTiming(line string, offsetMs int64, format func(int64) string) (string, bool) {
	m := cueTiming.FindStringSubmatch(line)
	if m == nil {
		return line, false
	}
	start, ok1 := parseTimestamp(m[1])
	end, ok2 := parseTimestamp(m[2])
	if !ok1 || !ok2 {
		return line, false
	}
	return format(start+offsetMs) + " --> " + format(end+offsetMs) + m[3], true
}

// parseTimestamp accepts HH:MM:SS,mmm, HH:MM:SS.mmm and MM:SS.mmm.
func parseTimestamp(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	sep := strings.LastIndexAny(s, ",.")
	if sep < 0 {
		return 0, false
	}
	fraction := s[sep+1:]
	for len(fraction) < 3 {
		fraction += "0"
	}
	millis, err := strconv.ParseInt(fraction, 10, 64)
	if err != nil {
		return 0, false
	}

	parts := strings.Split(s[:sep], ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, false
		}
		total = total*60 + n
	}
	return total*1000 + millis, true
}

// formatSRTTime formats milliseconds as 00:01:05,500.
func formatSRTTime(ms int64) string {
	return formatClockMillis(ms, ',')
}

// formatVTTTime formats milliseconds as 00:01:05.500.
func formatVTTTime(ms int64) string {
	return formatClockMillis(ms, '.')
}

func formatClockMillis(ms int64, sep byte) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := ms % 3_600_000 / 60_000
	secs := ms % 60_000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, secs, sep, ms%1000)
}
