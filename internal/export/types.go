// Package export renders a matrix version as Markdown, PDF or DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatMarkdown Format = "md"
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
)

// ParseFormat accepts the format names the API takes. Empty means markdown.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatMarkdown, "markdown":
		return FormatMarkdown, nil
	case FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Section is one titled markdown block of the export, usually a table.
type Section struct {
	Heading  string
	Markdown string
}

// Document is everything an export contains.
type Document struct {
	Title       string
	Company     string
	GeneratedAt time.Time
	Sections    []Section
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates an unknown export format.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
