package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed templates/matrix.html
var templateFS embed.FS

var (
	matrixTemplate = template.Must(template.New("matrix.html").Funcs(template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}).ParseFS(templateFS, "templates/matrix.html"))

	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
)

// TemplateData holds data for matrix template rendering
type TemplateData struct {
	Title       string
	Company     string
	GeneratedAt time.Time
	ContentHTML template.HTML
}

// RenderHTML converts the document's markdown to HTML and wraps it in the page template.
func RenderHTML(doc Document) (string, error) {
	body := RenderMarkdown(Document{Sections: doc.Sections})

	var content bytes.Buffer
	if err := markdown.Convert([]byte(body), &content); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err := matrixTemplate.Execute(&buf, TemplateData{
		Title:       doc.Title,
		Company:     doc.Company,
		GeneratedAt: doc.GeneratedAt,
		ContentHTML: template.HTML(content.String()),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
