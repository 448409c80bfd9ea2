// Package export turns a case export into a printable document.
package export

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"lighthousenotes/pkg/domain"
	"lighthousenotes/services/web/internal/content"
)

// ErrPDFDependencyMissing indicates headless Chrome is not available.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")

// Section is one note or tab in display form.
type Section struct {
	Title   string
	Created time.Time
	Creator *domain.User
	HTML    template.HTML
}

// Document is a case export ready for rendering.
type Document struct {
	CaseID           string
	DisplayName      string
	LeadInvestigator domain.User
	Status           string
	Created          time.Time
	Modified         time.Time
	Users            []domain.User

	Notes       []Section
	Tabs        []Section
	SharedNotes []Section
	SharedTabs  []Section
}

// Builder converts exported content to display form.
type Builder struct {
	// Images returns the image resolver for a namespace.
	Images      func(ns domain.Namespace) content.ImageURLResolver
	Concurrency int
}

func (b Builder) Build(ctx context.Context, caseID string, in domain.Export) (Document, error) {
	doc := Document{
		CaseID:           caseID,
		DisplayName:      in.DisplayName,
		LeadInvestigator: in.LeadInvestigator,
		Status:           in.Status,
		Created:          in.Created,
		Modified:         in.Modified,
		Users:            in.Users,
	}
	personal := content.Rewriter{Resolve: b.Images(domain.Personal), Concurrency: b.Concurrency}
	shared := content.Rewriter{Resolve: b.Images(domain.Shared), Concurrency: b.Concurrency}

	for _, n := range in.ContemporaneousNotes {
		s, err := section(ctx, personal, caseID, content.ContemporaneousNote, n.Content)
		if err != nil {
			return Document{}, err
		}
		s.Created = n.DateTime
		doc.Notes = append(doc.Notes, s)
	}
	for _, t := range in.Tabs {
		s, err := section(ctx, personal, caseID, content.Tab, t.Content)
		if err != nil {
			return Document{}, err
		}
		s.Title = t.Name
		doc.Tabs = append(doc.Tabs, s)
	}
	for _, n := range in.SharedContemporaneousNotes {
		s, err := section(ctx, shared, caseID, content.ContemporaneousNote, n.Content)
		if err != nil {
			return Document{}, err
		}
		s.Created = n.Created
		s.Creator = &n.Creator
		doc.SharedNotes = append(doc.SharedNotes, s)
	}
	for _, t := range in.SharedTabs {
		s, err := section(ctx, shared, caseID, content.Tab, t.Content)
		if err != nil {
			return Document{}, err
		}
		s.Title = t.Name
		s.Created = t.Created
		s.Creator = &t.Creator
		doc.SharedTabs = append(doc.SharedTabs, s)
	}
	return doc, nil
}

func section(ctx context.Context, r content.Rewriter, caseID string, ct content.ContentType, stored string) (Section, error) {
	display, err := r.ToDisplayForm(ctx, stored, caseID, ct)
	if err != nil {
		return Section{}, fmt.Errorf("export %s: %w", ct, err)
	}
	return Section{HTML: template.HTML(display)}, nil
}

// Filename creates a safe file name from a case name.
func Filename(name, ext string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r == ' ':
			out = append(out, '-')
		}
	}
	if len(out) > 50 {
		out = out[:50]
	}
	if len(out) == 0 {
		return "export" + ext
	}
	return string(out) + ext
}
