// Package export renders log entries to standalone HTML, PDF and DOCX files.
package export

import (
	"encoding/json"
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

func ParseFormat(value string) (Format, error) {
	switch f := Format(value); f {
	case FormatHTML, FormatPDF, FormatDOCX:
		return f, nil
	case "":
		return FormatPDF, nil
	}
	return "", ErrUnsupportedFormat
}

// Request contains parameters for an export operation
type Request struct {
	EntryID string
	Version string // empty or "latest" for the stored entry, otherwise a history hash
	Format  Format
}

// Entry is the exportable state of a log entry.
type Entry struct {
	ID        string
	LogID     string
	Title     string
	Author    string
	Version   string
	UpdatedAt time.Time
	Content   json.RawMessage
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates entry content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrUnsupportedFormat     = errors.New("unsupported export format")
)
