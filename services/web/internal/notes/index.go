// Package notes filters, searches and pages note and tab indexes, and loads
// the content of one page of notes for display.
package notes

import (
	"slices"
	"strings"
	"time"

	"lighthousenotes/pkg/domain"
)

const DefaultPageSize = 10

// Entry is one index entry. Creator is set for shared content and Name for tabs.
type Entry struct {
	ID      string
	Created time.Time
	Creator *domain.User
	Name    string
}

func FromNotes(in []domain.NoteIndex) []Entry {
	out := make([]Entry, 0, len(in))
	for _, n := range in {
		out = append(out, Entry{ID: n.ID, Created: n.Created, Creator: n.Creator})
	}
	return out
}

func FromTabs(in []domain.Tab) []Entry {
	out := make([]Entry, 0, len(in))
	for _, t := range in {
		out = append(out, Entry{ID: t.ID, Created: t.Created, Creator: t.Creator, Name: t.Name})
	}
	return out
}

// FilterByDateRange keeps entries created within [from, to]. Both bounds
// are needed; when either is nil every entry is kept.
func FilterByDateRange(entries []Entry, from, to *time.Time) []Entry {
	if from == nil || to == nil {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Created.Before(*from) || e.Created.After(*to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Search keeps entries whose creator or name contains query, ignoring case.
func Search(entries []Entry, query string) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if matches(e, query) {
			out = append(out, e)
		}
	}
	return out
}

func matches(e Entry, query string) bool {
	fields := []string{e.Name}
	if c := e.Creator; c != nil {
		fields = append(fields, c.DisplayName, c.EmailAddress, c.GivenName+" "+c.LastName)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}

// Page is one page of an index.
type Page struct {
	Entries    []Entry
	Page       int
	PageSize   int
	TotalPages int
	Total      int
}

func (p Page) HasPrevious() bool { return p.Page > 1 }

func (p Page) HasNext() bool { return p.Page < p.TotalPages }

// Newest returns a copy of entries ordered newest first.
func Newest(entries []Entry) []Entry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		return b.Created.Compare(a.Created)
	})
	return sorted
}

// Paginate orders entries newest first and returns the 1-based page, which
// is clamped into range.
func Paginate(entries []Entry, page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	sorted := Newest(entries)
	total := len(sorted)
	totalPages := (total + pageSize - 1) / pageSize
	if page < 1 {
		page = 1
	}
	if totalPages > 0 && page > totalPages {
		page = totalPages
	}
	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)
	return Page{
		Entries:    sorted[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		Total:      total,
	}
}
