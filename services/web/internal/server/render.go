package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"lighthousenotes/internal/identity"
	"lighthousenotes/internal/util"
	"lighthousenotes/pkg/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{
	"home", "case", "notes", "tab", "exhibits", "exhibit", "user", "audit", "error",
	"settings", "organization", "users", "useredit", "newuser",
}

type layout struct {
	Title    string
	User     identity.Principal
	Settings domain.Settings
	Body     any
}

var funcs = template.FuncMap{
	"when":    func(s domain.Settings, t time.Time) string { return s.Format(t) },
	"day":     func(s domain.Settings, t time.Time) string { return s.FormatDate(t) },
	"path":    url.PathEscape,
	"query":   url.QueryEscape,
	"creator": creatorName,
	"add":     func(a, b int) int { return a + b },
	"now":     time.Now,
	"hasRole": func(u domain.User, role domain.Role) bool { return slices.Contains(u.Roles, string(role)) },
}

func creatorName(u *domain.User) string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return strings.TrimSpace(u.GivenName + " " + u.LastName)
}

func parseTemplates() (map[string]*template.Template, *template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = t
	}
	exportPage, err := template.New("export").Funcs(funcs).ParseFS(templateFS, "templates/export.html")
	if err != nil {
		return nil, nil, fmt.Errorf("parse export template: %w", err)
	}
	return pages, exportPage, nil
}

// render executes a page template inside the layout. Output is buffered so
// a template failure still produces a clean error response.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, p *page, title string, body any) {
	t, ok := s.pages[name]
	if !ok {
		http.Error(w, "unknown page", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	err := t.ExecuteTemplate(&buf, "layout", layout{
		Title:    title,
		User:     p.principal,
		Settings: p.settings,
		Body:     body,
	})
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("template_error", "page", name, "err", err)
		http.Error(w, "page could not be rendered", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

var placeholder = sync.OnceValues(func() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 180))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 0xe9, G: 0xec, B: 0xef, A: 0xff}}, image.Point{}, draw.Src)
	// A red cross marks the missing image.
	red := color.RGBA{R: 0xdc, G: 0x35, B: 0x45, A: 0xff}
	for i := range 120 {
		for d := -2; d <= 2; d++ {
			img.Set(100+i+d, 30+i, red)
			img.Set(220-i+d, 30+i, red)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
})

// handlePlaceholder serves the image shown in place of pictures that failed verification.
func (s *Server) handlePlaceholder(w http.ResponseWriter, r *http.Request) {
	body, err := placeholder()
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("placeholder_image", "err", err)
		http.Error(w, "image unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(body)
}
