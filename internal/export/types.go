// Package export renders event room transcripts as HTML or PDF and archives them.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a query value to a Format; empty means HTML.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Transcript is everything a rendered export shows.
type Transcript struct {
	RoomID       string
	Title        string
	Description  string
	GroupName    string
	StartsAt     *time.Time
	EndsAt       *time.Time
	ExpiresAt    time.Time
	Expired      bool
	Participants []string
	Messages     []Line
	GeneratedAt  time.Time
}

// Line is one message in a transcript.
type Line struct {
	Author  string
	Content string
	At      time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	ErrUnsupportedFormat    = errors.New("unsupported export format")
	// ErrArchiveDisabled is returned when no object storage is configured.
	ErrArchiveDisabled = errors.New("transcript archive not configured")
)
