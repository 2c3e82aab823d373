package export

import (
	"context"
	"fmt"
	"html/template"

	"logbook/api/internal/doctree"
	"logbook/api/internal/mentions"
	"logbook/api/internal/render"
)

// EntrySource loads an entry at a version.
type EntrySource interface {
	ExportEntry(ctx context.Context, entryID, version string) (Entry, error)
}

type converter func(ctx context.Context, html, title string) (*Result, error)

// Service provides entry export functionality
type Service struct {
	source EntrySource
	pdf    converter
	docx   converter
}

func NewService(source EntrySource) *Service {
	return &Service{source: source, pdf: exportPDF, docx: exportDOCX}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	entry, err := s.source.ExportEntry(ctx, req.EntryID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	if len(entry.Content) == 0 {
		return nil, fmt.Errorf("%w: entry %s", ErrContentUnavailable, req.EntryID)
	}

	html, err := RenderEntryHTML(entryTemplateData(entry))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(entry.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.pdf(ctx, html, entry.Title)
	case FormatDOCX:
		return s.docx(ctx, html, entry.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func entryTemplateData(entry Entry) TemplateData {
	d := render.RenderJSON(entry.Content)
	data := TemplateData{
		Title:       entry.Title,
		Author:      entry.Author,
		LogID:       entry.LogID,
		Version:     entry.Version,
		UpdatedAt:   entry.UpdatedAt,
		ContentHTML: template.HTML(render.HTML(d)),
	}

	refs, err := mentions.Extract(entry.Content)
	if err != nil {
		return data
	}
	refs = mentions.Unique(refs)
	for _, entityType := range doctree.EntityTypes {
		group := mentions.ByType(refs, entityType)
		if len(group) == 0 {
			continue
		}
		section := TemplateReferences{Type: string(entityType)}
		for _, ref := range group {
			section.Labels = append(section.Labels, ref.Label)
		}
		data.References = append(data.References, section)
	}
	return data
}
