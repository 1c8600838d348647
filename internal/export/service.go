package export

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"bizmatrix/api/internal/logger"
	"bizmatrix/api/internal/matrix"
)

// Converter turns rendered HTML into a binary document.
type Converter func(ctx context.Context, html, title string) (*Result, error)

// Service provides matrix export functionality
type Service struct {
	log  *zap.Logger
	pdf  Converter
	docx Converter
}

// NewService creates an export service backed by headless Chrome and pandoc.
func NewService(log *zap.Logger) *Service {
	return &Service{log: logger.OrNop(log).Named("export"), pdf: exportPDF, docx: exportDOCX}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, doc Document, format Format) (*Result, error) {
	md := RenderMarkdown(doc)
	if format == FormatMarkdown {
		return &Result{
			Data:     []byte(md),
			Filename: sanitizeFilename(doc.Title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	}

	html, err := RenderHTML(doc)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var convert Converter
	switch format {
	case FormatPDF:
		convert = s.pdf
	case FormatDOCX:
		convert = s.docx
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	result, err := convert(ctx, html, doc.Title)
	if err != nil {
		s.log.Warn("export failed", zap.String("format", string(format)), zap.Error(err))
		return nil, err
	}
	return result, nil
}

// RenderMarkdown lays the document out as a single markdown file with a role legend.
func RenderMarkdown(doc Document) string {
	var b strings.Builder
	if doc.Title != "" {
		b.WriteString("# ")
		b.WriteString(doc.Title)
		b.WriteString("\n\n")
	}
	if doc.Company != "" {
		b.WriteString("**")
		b.WriteString(doc.Company)
		b.WriteString("**")
		if !doc.GeneratedAt.IsZero() {
			b.WriteString(" · ")
			b.WriteString(doc.GeneratedAt.Format("2006-01-02"))
		}
		b.WriteString("\n\n")
	}
	for _, section := range doc.Sections {
		if section.Heading != "" {
			b.WriteString("## ")
			b.WriteString(section.Heading)
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimRight(section.Markdown, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString(legend())
	return b.String()
}

func legend() string {
	parts := make([]string, 0, len(matrix.RoleCodes))
	for _, code := range matrix.RoleCodes {
		parts = append(parts, fmt.Sprintf("**%s** %s", code, code.Label()))
	}
	return "_" + strings.Join(parts, " · ") + "_\n"
}
