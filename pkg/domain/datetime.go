package domain

import (
	"strings"
	"time"
)

// patternTokens maps .NET custom date and time format specifiers, longest
// first, to Go layout elements.
var patternTokens = []struct {
	token  string
	layout string
}{
	{"yyyy", "2006"},
	{"yy", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"M", "1"},
	{"dddd", "Monday"},
	{"ddd", "Mon"},
	{"dd", "02"},
	{"d", "2"},
	{"HH", "15"},
	{"H", "15"},
	{"hh", "03"},
	{"h", "3"},
	{"mm", "04"},
	{"m", "4"},
	{"ss", "05"},
	{"s", "5"},
	{"fff", "000"},
	{"tt", "PM"},
	{"zzz", "-07:00"},
}

// Layout converts a .NET style pattern such as "dd/MM/yyyy HH:mm:ss" into a
// Go time layout. Text in single quotes is copied literally.
func Layout(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		if pattern[i] == '\'' {
			end := strings.IndexByte(pattern[i+1:], '\'')
			if end < 0 {
				b.WriteString(pattern[i+1:])
				break
			}
			b.WriteString(pattern[i+1 : i+1+end])
			i += end + 2
			continue
		}
		matched := false
		for _, t := range patternTokens {
			if strings.HasPrefix(pattern[i:], t.token) {
				b.WriteString(t.layout)
				i += len(t.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}
	return b.String()
}

// Format renders t in the settings time zone using DateTimeFormat, falling
// back to RFC 1123 when no format is configured.
func (s Settings) Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(s.Location())
	pattern := strings.TrimSpace(s.DateTimeFormat)
	if pattern == "" {
		return t.Format(time.RFC1123)
	}
	return t.Format(Layout(pattern))
}

// FormatDate renders only the date part of t.
func (s Settings) FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(s.Location())
	if strings.TrimSpace(s.DateFormat) == "" {
		return t.Format("2006-01-02")
	}
	return t.Format(Layout(s.DateFormat))
}
