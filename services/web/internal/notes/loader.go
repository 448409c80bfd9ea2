package notes

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"lighthousenotes/pkg/domain"
	"lighthousenotes/services/web/internal/content"
)

// NoteSource returns the stored HTML of one note.
type NoteSource interface {
	Note(ctx context.Context, token, caseID string, ns domain.Namespace, noteID string) (string, error)
}

// Note is an index entry with its content in display form.
type Note struct {
	Entry
	HTML string
}

// Loader fetches note content for one page of entries.
type Loader struct {
	Source   NoteSource
	Rewriter content.Rewriter
	// Concurrency bounds parallel note fetches. Zero means 4.
	Concurrency int
}

// Load fetches and converts the content of entries, keeping their order.
// Any failure fails the whole page.
func (l Loader) Load(ctx context.Context, token, caseID string, ns domain.Namespace, entries []Entry) ([]Note, error) {
	out := make([]Note, len(entries))
	limit := l.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, e := range entries {
		g.Go(func() error {
			stored, err := l.Source.Note(gctx, token, caseID, ns, e.ID)
			if err != nil {
				return fmt.Errorf("note %s: %w", e.ID, err)
			}
			display, err := l.Rewriter.ToDisplayForm(gctx, stored, caseID, content.ContemporaneousNote)
			if err != nil {
				return fmt.Errorf("note %s: %w", e.ID, err)
			}
			out[i] = Note{Entry: e, HTML: display}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
