package models

import (
	"fmt"
	"strings"
)

// ResponseFormat is the representation requested from the transcription API.
// The set is closed: every merge strategy switches over these values.
type ResponseFormat string

const (
	FormatText         ResponseFormat = "text"
	FormatJSON         ResponseFormat = "json"
	FormatVerboseJSON  ResponseFormat = "verbose_json"
	FormatSRT          ResponseFormat = "srt"
	FormatVTT          ResponseFormat = "vtt"
	FormatDiarizedJSON ResponseFormat = "diarized_json"
)

// ResponseFormats lists every supported format in display order.
var ResponseFormats = []ResponseFormat{
	FormatText,
	FormatJSON,
	FormatVerboseJSON,
	FormatSRT,
	FormatVTT,
	FormatDiarizedJSON,
}

// ParseResponseFormat validates a user supplied format name.
func ParseResponseFormat(s string) (ResponseFormat, error) {
	f := ResponseFormat(strings.ToLower(strings.TrimSpace(s)))
	if f.Valid() {
		return f, nil
	}
	return "", &ConfigError{Field: "response_format", Reason: fmt.Sprintf("unsupported format %q", s)}
}

// Valid reports whether f is one of the known formats.
func (f ResponseFormat) Valid() bool {
	switch f {
	case FormatText, FormatJSON, FormatVerboseJSON, FormatSRT, FormatVTT, FormatDiarizedJSON:
		return true
	}
	return false
}

// Structured reports whether payloads of this format are JSON documents.
func (f ResponseFormat) Structured() bool {
	switch f {
	case FormatJSON, FormatVerboseJSON, FormatDiarizedJSON:
		return true
	}
	return false
}

// Timed reports whether payloads carry timestamps relative to the chunk.
func (f ResponseFormat) Timed() bool {
	return f.Structured() || f == FormatSRT || f == FormatVTT
}

func (f ResponseFormat) String() string { return string(f) }
