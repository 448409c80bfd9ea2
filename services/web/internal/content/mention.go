package content

import (
	"context"
	"encoding/json"
	"errors"
	stdhtml "html"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"lighthousenotes/internal/util"
)

type userMention struct {
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

type exhibitMention struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
}

var errIncompleteMention = errors.New("mention payload is missing required fields")

// ResolveMentions replaces user (@) and exhibit (#) mentions with links.
// Mentions with another marker are kept. A mention whose payload is missing
// or unreadable is logged and kept unchanged.
func ResolveMentions(ctx context.Context, content, caseID string) (string, error) {
	doc, err := Parse(content)
	if err != nil {
		return "", err
	}
	for _, m := range doc.Mentions() {
		denotation := m.Denotation()
		if denotation != "@" && denotation != "#" {
			continue
		}
		payload, ok := m.Payload()
		if !ok {
			logger(ctx).Warn("mention without payload", "denotation", denotation, "case_id", caseID)
			continue
		}
		link, err := mentionLink(denotation, payload, caseID)
		if err != nil {
			logger(ctx).Warn("unreadable mention payload", "denotation", denotation, "case_id", caseID, "err", err)
			continue
		}
		m.ReplaceWith(link)
	}
	return doc.HTML()
}

func mentionLink(denotation, payload, caseID string) (*html.Node, error) {
	switch denotation {
	case "@":
		var u userMention
		if err := decodePayload(payload, &u); err != nil {
			return nil, err
		}
		if u.EmailAddress == "" {
			return nil, errIncompleteMention
		}
		return anchor("/user/"+url.PathEscape(u.EmailAddress), " @"+u.DisplayName+" "), nil
	default:
		var e exhibitMention
		if err := decodePayload(payload, &e); err != nil {
			return nil, err
		}
		if e.ID == "" {
			return nil, errIncompleteMention
		}
		href := "/case/" + url.PathEscape(caseID) + "/exhibit/" + url.PathEscape(e.ID)
		return anchor(href, " #"+e.Reference+" "), nil
	}
}

// decodePayload accepts the JSON either as parsed from the attribute or
// still entity encoded.
func decodePayload(payload string, out any) error {
	payload = strings.TrimSpace(payload)
	err := json.Unmarshal([]byte(payload), out)
	if err == nil {
		return nil
	}
	if unescaped := stdhtml.UnescapeString(payload); unescaped != payload {
		if json.Unmarshal([]byte(unescaped), out) == nil {
			return nil
		}
	}
	return err
}

func anchor(href, text string) *html.Node {
	a := &html.Node{
		Type:     html.ElementNode,
		Data:     "a",
		DataAtom: atom.A,
		Attr: []html.Attribute{
			{Key: "class", Val: "mention-link"},
			{Key: "href", Val: href},
		},
	}
	a.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return a
}

func logger(ctx context.Context) *slog.Logger {
	return util.LoggerFromContext(ctx).With("component", "content")
}
