package server

import (
	"context"
	"errors"

	"lighthousenotes/pkg/domain"
	"lighthousenotes/pkg/storage"
	"lighthousenotes/services/web/internal/content"
	"lighthousenotes/services/web/internal/notes"
)

// missingImage marks a bucket object that does not exist. The rewriter
// shows the placeholder for it instead of failing the page.
type missingImage struct{ err error }

func (e missingImage) Error() string     { return e.err.Error() }
func (e missingImage) Unwrap() error     { return e.err }
func (e missingImage) Recoverable() bool { return true }

// images returns the resolver for pictures in ns content. Bucket mode signs
// object URLs itself; otherwise the API hands out the URL.
func (s *Server) images(p *page, ns domain.Namespace) content.ImageURLResolver {
	if s.bucket != nil {
		owner := p.settings.UserID
		if ns == domain.Shared {
			owner = string(domain.Shared)
		}
		return func(ctx context.Context, caseID string, ct content.ContentType, filename string) (string, error) {
			key := storage.ImageKey(caseID, owner, ct.Folder(), filename)
			u, err := s.bucket.URL(ctx, key)
			if errors.Is(err, storage.ErrObjectNotFound) {
				return "", missingImage{err: err}
			}
			return u, err
		}
	}
	return func(ctx context.Context, caseID string, ct content.ContentType, filename string) (string, error) {
		return s.api.ImageURL(ctx, p.token, caseID, ns, string(ct), filename)
	}
}

func (s *Server) rewriter(p *page, ns domain.Namespace) content.Rewriter {
	return content.Rewriter{Resolve: s.images(p, ns), Concurrency: s.concurrency}
}

func (s *Server) loader(p *page, ns domain.Namespace) notes.Loader {
	return notes.Loader{Source: s.api, Rewriter: s.rewriter(p, ns), Concurrency: s.concurrency}
}
