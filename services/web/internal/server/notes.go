package server

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"lighthousenotes/internal/latest"
	"lighthousenotes/pkg/browserstore"
	"lighthousenotes/pkg/domain"
	"lighthousenotes/services/web/internal/content"
	"lighthousenotes/services/web/internal/notes"
)

var dateLayouts = []string{"2006-01-02T15:04", "2006-01-02"}

// dateRange reads the from and to filters. A date-only to includes the whole day.
func dateRange(r *http.Request, loc *time.Location) (from, to *time.Time, err error) {
	parse := func(name string, endOfDay bool) (*time.Time, error) {
		raw := strings.TrimSpace(r.URL.Query().Get(name))
		if raw == "" {
			return nil, nil
		}
		for _, layout := range dateLayouts {
			t, err := time.ParseInLocation(layout, raw, loc)
			if err != nil {
				continue
			}
			if endOfDay && len(layout) == len("2006-01-02") {
				t = t.Add(24*time.Hour - time.Nanosecond)
			}
			return &t, nil
		}
		return nil, inputError("invalid " + name + " date")
	}
	if from, err = parse("from", false); err != nil {
		return nil, nil, err
	}
	if to, err = parse("to", true); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

type noteView struct {
	notes.Entry
	HTML template.HTML
}

type notesView struct {
	Case   domain.Case
	Shared bool
	Notes  []noteView
	Page   notes.Page
	Pager  pager
	From   string
	To     string
	Search string
}

// notePage filters, searches and pages the note index of a case and loads
// the content of the selected page in display form.
func (s *Server) notePage(ctx context.Context, r *http.Request, p *page, caseID string, ns domain.Namespace) (notes.Page, []notes.Note, error) {
	from, to, err := dateRange(r, p.settings.Location())
	if err != nil {
		return notes.Page{}, nil, err
	}
	index, err := s.api.Notes(ctx, p.token, caseID, ns)
	if err != nil {
		return notes.Page{}, nil, err
	}
	entries := notes.FilterByDateRange(notes.FromNotes(index), from, to)
	if ns == domain.Shared {
		entries = notes.Search(entries, r.URL.Query().Get("search"))
	}
	pageNum, pageSize := pageParams(r, notes.DefaultPageSize)
	pg := notes.Paginate(entries, pageNum, pageSize)
	loaded, err := s.loader(p, ns).Load(ctx, p.token, caseID, ns, pg.Entries)
	if err != nil {
		return notes.Page{}, nil, err
	}
	return pg, loaded, nil
}

func (s *Server) handleNotes(ns domain.Namespace) pageHandler {
	return func(w http.ResponseWriter, r *http.Request, p *page) {
		caseID := r.PathValue("caseID")
		var (
			c      domain.Case
			pg     notes.Page
			loaded []notes.Note
		)
		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() (err error) {
			c, err = s.api.Case(ctx, p.token, caseID)
			return err
		})
		g.Go(func() (err error) {
			pg, loaded, err = s.notePage(ctx, r, p, caseID, ns)
			return err
		})
		if err := g.Wait(); err != nil {
			s.renderError(w, r, p, err)
			return
		}
		view := notesView{
			Case:   c,
			Shared: ns == domain.Shared,
			Page:   pg,
			Pager:  newPager(r, domain.Pagination{Page: pg.Page, TotalPages: pg.TotalPages, Total: pg.Total}, pg.PageSize),
			From:   r.URL.Query().Get("from"),
			To:     r.URL.Query().Get("to"),
			Search: r.URL.Query().Get("search"),
		}
		for _, n := range loaded {
			view.Notes = append(view.Notes, noteView{Entry: n.Entry, HTML: template.HTML(n.HTML)})
		}
		s.render(w, r, http.StatusOK, "notes", p, "Contemporaneous Notes", view)
	}
}

// storedContent reads the editor field of a form post and converts it to
// storage form for the signed in user.
func (s *Server) storedContent(w http.ResponseWriter, r *http.Request, p *page, caseID string, ns domain.Namespace, ct content.ContentType) (string, error) {
	if err := parseForm(w, r); err != nil {
		return "", err
	}
	raw := r.PostFormValue("content")
	if strings.TrimSpace(raw) == "" {
		return "", inputError("content is required")
	}
	prefix := content.StoragePrefix(p.settings.S3Endpoint, caseID, ns, p.settings.UserID, ct)
	return content.FinalizeForStorage(r.Context(), raw, caseID, prefix)
}

func (s *Server) handleSaveNote(ns domain.Namespace) pageHandler {
	return func(w http.ResponseWriter, r *http.Request, p *page) {
		caseID := r.PathValue("caseID")
		stored, err := s.storedContent(w, r, p, caseID, ns, content.ContemporaneousNote)
		if err != nil {
			s.renderError(w, r, p, err)
			return
		}
		if err := s.api.PostNote(r.Context(), p.token, caseID, ns, stored); err != nil {
			s.renderError(w, r, p, err)
			return
		}
		http.Redirect(w, r, caseLink(caseID, ns, "contemporaneous-notes"), http.StatusSeeOther)
	}
}

type tabView struct {
	Case   domain.Case
	Tab    domain.Tab
	Shared bool
	Exists bool
	HTML   template.HTML
	// Source is the display form as editable markup.
	Source string
}

func (s *Server) handleTab(ns domain.Namespace) pageHandler {
	return func(w http.ResponseWriter, r *http.Request, p *page) {
		caseID, tabID := r.PathValue("caseID"), r.PathValue("tabID")
		view := tabView{Shared: ns == domain.Shared}
		var stored string
		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() (err error) {
			view.Case, err = s.api.Case(ctx, p.token, caseID)
			return err
		})
		g.Go(func() (err error) {
			view.Tab, err = s.api.Tab(ctx, p.token, caseID, ns, tabID)
			return err
		})
		g.Go(func() (err error) {
			view.Exists, stored, err = s.api.TabContent(ctx, p.token, caseID, ns, tabID)
			return err
		})
		if err := g.Wait(); err != nil {
			s.renderError(w, r, p, err)
			return
		}
		if view.Exists {
			display, err := s.rewriter(p, ns).ToDisplayForm(r.Context(), stored, caseID, content.Tab)
			if err != nil {
				s.renderError(w, r, p, err)
				return
			}
			view.HTML = template.HTML(display)
			view.Source = display
		}
		s.render(w, r, http.StatusOK, "tab", p, view.Tab.Name, view)
	}
}

func (s *Server) handleSaveTab(ns domain.Namespace) pageHandler {
	return func(w http.ResponseWriter, r *http.Request, p *page) {
		caseID, tabID := r.PathValue("caseID"), r.PathValue("tabID")
		stored, err := s.storedContent(w, r, p, caseID, ns, content.Tab)
		if err != nil {
			s.renderError(w, r, p, err)
			return
		}
		if err := s.api.PostTabContent(r.Context(), p.token, caseID, ns, tabID, stored); err != nil {
			s.renderError(w, r, p, err)
			return
		}
		http.Redirect(w, r, caseLink(caseID, ns, "tab/"+url.PathEscape(tabID)), http.StatusSeeOther)
	}
}

func (s *Server) handleCreateTab(ns domain.Namespace) pageHandler {
	return func(w http.ResponseWriter, r *http.Request, p *page) {
		caseID := r.PathValue("caseID")
		if err := parseForm(w, r); err != nil {
			s.renderError(w, r, p, err)
			return
		}
		name, err := field(r, "name", "tab name", true, maxFieldLength)
		if err != nil {
			s.renderError(w, r, p, err)
			return
		}
		if err := s.api.CreateTab(r.Context(), p.token, caseID, ns, name); err != nil {
			s.renderError(w, r, p, err)
			return
		}
		http.Redirect(w, r, caseLink(caseID, domain.Personal, ""), http.StatusSeeOther)
	}
}

type searchNote struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Creator string    `json:"creator,omitempty"`
	HTML    string    `json:"html"`
}

type searchResponse struct {
	Page       int          `json:"page"`
	TotalPages int          `json:"totalPages"`
	Total      int          `json:"total"`
	Notes      []searchNote `json:"notes"`
}

// handleSearch serves shared note searches. Only the newest search of a
// browser for a case answers; older ones get 409.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, p *page) {
	if !s.allowRate(w, r, s.searchLimiter, "too many searches") {
		return
	}
	caseID := r.PathValue("caseID")
	key := browserstore.BrowserID(w, r, s.browserCookie, s.secureCookies) + "|" + caseID
	ctx, ticket := s.searches.Begin(r.Context(), key)
	defer ticket.Done()

	pg, loaded, err := s.notePage(ctx, r, p, caseID, domain.Shared)
	if !ticket.Current() || errors.Is(context.Cause(ctx), latest.ErrSuperseded) {
		writeError(w, http.StatusConflict, "superseded")
		return
	}
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	resp := searchResponse{Page: pg.Page, TotalPages: pg.TotalPages, Total: pg.Total, Notes: make([]searchNote, 0, len(loaded))}
	for _, n := range loaded {
		resp.Notes = append(resp.Notes, searchNote{
			ID:      n.ID,
			Created: n.Created,
			Creator: creatorName(n.Creator),
			HTML:    n.HTML,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func caseLink(caseID string, ns domain.Namespace, rest string) string {
	base := "/case/" + url.PathEscape(caseID)
	if ns == domain.Shared {
		base += "/shared"
	}
	if rest == "" {
		return base
	}
	return base + "/" + rest
}
