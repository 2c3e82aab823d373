package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var entryTemplate = template.Must(
	template.New("entry.html").
		Funcs(template.FuncMap{
			"lower": strings.ToLower,
			"formatDate": func(t time.Time, layout string) string {
				if t.IsZero() {
					return ""
				}
				return t.Format(layout)
			},
		}).
		ParseFS(templateFS, "templates/entry.html"),
)

// TemplateData holds data for entry template rendering
type TemplateData struct {
	Title       string
	Author      string
	LogID       string
	Version     string
	UpdatedAt   time.Time
	ContentHTML template.HTML
	References  []TemplateReferences
}

// TemplateReferences lists the labels of the mentioned entities of one type.
type TemplateReferences struct {
	Type   string
	Labels []string
}

// RenderEntryHTML renders the entry template with provided data
func RenderEntryHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := entryTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
