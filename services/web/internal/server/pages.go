package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"lighthousenotes/pkg/domain"
	"lighthousenotes/services/web/internal/apiclient"
	"lighthousenotes/services/web/internal/content"
	"lighthousenotes/services/web/internal/export"
	"lighthousenotes/services/web/internal/notes"
)

const maxPageSize = 100

type pager struct {
	domain.Pagination
	PageSize int
	// Base is the page URL with every query parameter except page.
	Base string
}

func (p pager) HasPrevious() bool { return p.Page > 1 }
func (p pager) HasNext() bool     { return p.Page < p.TotalPages }

func (p pager) Link(n int) string {
	sep := "?"
	if strings.Contains(p.Base, "?") {
		sep = "&"
	}
	return p.Base + sep + "page=" + strconv.Itoa(n)
}

func newPager(r *http.Request, pg domain.Pagination, pageSize int) pager {
	q := r.URL.Query()
	q.Del("page")
	base := r.URL.Path
	if enc := q.Encode(); enc != "" {
		base += "?" + enc
	}
	return pager{Pagination: pg, PageSize: pageSize, Base: base}
}

// intParam reads a positive integer query parameter.
func intParam(r *http.Request, name string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func pageParams(r *http.Request, defaultSize int) (int, int) {
	return intParam(r, "page", 1), min(intParam(r, "pageSize", defaultSize), maxPageSize)
}

type homeView struct {
	Cases     []domain.Case
	Pager     pager
	Sort      string
	Search    string
	CanCreate bool
	// SIOs is only filled when CanCreate is set.
	SIOs []domain.User
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request, p *page) {
	pageNum, pageSize := pageParams(r, 10)
	q := apiclient.CaseQuery{
		Page:     pageNum,
		PageSize: pageSize,
		Sort:     r.URL.Query().Get("sort"),
		Search:   strings.TrimSpace(r.URL.Query().Get("search")),
	}
	view := homeView{Sort: q.Sort, Search: q.Search, CanCreate: canManageCases(p)}
	var pg domain.Pagination
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		pg, view.Cases, err = s.api.Cases(ctx, p.token, q)
		return err
	})
	if view.CanCreate {
		g.Go(func() (err error) {
			_, view.SIOs, err = s.api.Users(ctx, p.token, apiclient.UserQuery{SIO: true})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	view.Pager = newPager(r, pg, pageSize)
	s.render(w, r, http.StatusOK, "home", p, "Cases", view)
}

type caseView struct {
	Case       domain.Case
	Tabs       []notes.Entry
	SharedTabs []notes.Entry
	TabSearch  string
	CanManage  bool
}

func (s *Server) handleCase(w http.ResponseWriter, r *http.Request, p *page) {
	caseID := r.PathValue("caseID")
	view := caseView{
		TabSearch: strings.TrimSpace(r.URL.Query().Get("tabSearch")),
		CanManage: canManageCases(p),
	}
	var tabs, shared []domain.Tab
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		view.Case, err = s.api.Case(ctx, p.token, caseID)
		return err
	})
	g.Go(func() (err error) {
		tabs, err = s.api.Tabs(ctx, p.token, caseID, domain.Personal)
		return err
	})
	g.Go(func() (err error) {
		shared, err = s.api.Tabs(ctx, p.token, caseID, domain.Shared)
		return err
	})
	if err := g.Wait(); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	view.Tabs = notes.Newest(notes.Search(notes.FromTabs(tabs), view.TabSearch))
	view.SharedTabs = notes.Newest(notes.Search(notes.FromTabs(shared), view.TabSearch))
	s.render(w, r, http.StatusOK, "case", p, view.Case.DisplayName, view)
}

type exhibitsView struct {
	CaseID   string
	Exhibits []domain.Exhibit
	Pager    pager
}

func (s *Server) handleExhibits(w http.ResponseWriter, r *http.Request, p *page) {
	caseID := r.PathValue("caseID")
	pageNum, pageSize := pageParams(r, 10)
	pg, exhibits, err := s.api.Exhibits(r.Context(), p.token, caseID, apiclient.ExhibitQuery{
		Page:     pageNum,
		PageSize: pageSize,
		Sort:     r.URL.Query().Get("sort"),
	})
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	s.render(w, r, http.StatusOK, "exhibits", p, "Exhibits", exhibitsView{
		CaseID:   caseID,
		Exhibits: exhibits,
		Pager:    newPager(r, pg, pageSize),
	})
}

type exhibitView struct {
	CaseID  string
	Exhibit domain.Exhibit
}

func (s *Server) handleExhibit(w http.ResponseWriter, r *http.Request, p *page) {
	caseID := r.PathValue("caseID")
	exhibit, err := s.api.Exhibit(r.Context(), p.token, caseID, r.PathValue("exhibitID"))
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	s.render(w, r, http.StatusOK, "exhibit", p, exhibit.Reference, exhibitView{CaseID: caseID, Exhibit: exhibit})
}

// handleUser shows the profile of the user a mention links to.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request, p *page) {
	email := strings.TrimSpace(r.PathValue("email"))
	if email == "" {
		s.renderError(w, r, p, errNotFound)
		return
	}
	_, users, err := s.api.Users(r.Context(), p.token, apiclient.UserQuery{Page: 1, PageSize: 25, Search: email})
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	for _, u := range users {
		if strings.EqualFold(u.EmailAddress, email) {
			s.render(w, r, http.StatusOK, "user", p, u.DisplayName, u)
			return
		}
	}
	s.renderError(w, r, p, errNotFound)
}

type auditView struct {
	Events []domain.UserAudit
	Pager  pager
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request, p *page) {
	pageNum, pageSize := pageParams(r, 25)
	pg, events, err := s.api.UserAudit(r.Context(), p.token, pageNum, pageSize)
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	s.render(w, r, http.StatusOK, "audit", p, "Audit", auditView{Events: events, Pager: newPager(r, pg, pageSize)})
}

type exportView struct {
	export.Document
	Settings domain.Settings
}

// exportHTML builds the standalone export document for caseID.
func (s *Server) exportHTML(r *http.Request, p *page, caseID string) (export.Document, []byte, error) {
	in, err := s.api.Export(r.Context(), p.token, caseID)
	if err != nil {
		return export.Document{}, nil, err
	}
	b := export.Builder{
		Images:      func(ns domain.Namespace) content.ImageURLResolver { return s.images(p, ns) },
		Concurrency: s.concurrency,
	}
	doc, err := b.Build(r.Context(), caseID, in)
	if err != nil {
		return export.Document{}, nil, err
	}
	var buf bytes.Buffer
	if err := s.exportPage.ExecuteTemplate(&buf, "export", exportView{Document: doc, Settings: p.settings}); err != nil {
		return export.Document{}, nil, err
	}
	return doc, buf.Bytes(), nil
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, p *page) {
	_, body, err := s.exportHTML(r, p, r.PathValue("caseID"))
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}

func (s *Server) handleExportPDF(w http.ResponseWriter, r *http.Request, p *page) {
	doc, body, err := s.exportHTML(r, p, r.PathValue("caseID"))
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	pdf, err := s.pdf.Render(r.Context(), string(body))
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(doc.DisplayName, ".pdf")+`"`)
	_, _ = w.Write(pdf)
}
