// Package content converts rich text between the form it is stored in and
// the form it is displayed in.
//
// Storage form references uploaded images as ".path/<file>" and keeps the
// editor's raw mention markup. Display form carries presigned image URLs
// and plain links in place of mentions.
package content

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrMalformedHTML is returned when content cannot be parsed as an HTML fragment.
var ErrMalformedHTML = errors.New("malformed html")

// Document is a parsed HTML fragment.
type Document struct {
	root *html.Node
}

// Parse parses s as the content of a <body> element.
func Parse(s string) (*Document, error) {
	if strings.ContainsRune(s, 0) {
		return nil, fmt.Errorf("%w: NUL byte in content", ErrMalformedHTML)
	}
	root := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHTML, err)
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return &Document{root: root}, nil
}

// HTML renders the fragment.
func (d *Document) HTML() (string, error) {
	var b strings.Builder
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if err := render(&b, c); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// Image is an <img> element.
type Image struct {
	n *html.Node
}

func (i Image) Src() string {
	v, _ := attr(i.n, "src")
	return v
}

func (i Image) SetSrc(src string) {
	setAttr(i.n, "src", src)
}

// Images returns every <img> in document order.
func (d *Document) Images() []Image {
	var out []Image
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			out = append(out, Image{n: n})
		}
		return true
	})
	return out
}

// Mention is an editor mention element: a span with class "mention".
type Mention struct {
	n *html.Node
}

// Denotation is the marker character, "@" for users and "#" for exhibits.
func (m Mention) Denotation() string {
	v, _ := attr(m.n, "data-denotation-char")
	return v
}

// Payload returns the embedded JSON describing the mentioned entity.
func (m Mention) Payload() (string, bool) {
	return attr(m.n, "data-__data-json")
}

// ReplaceWith swaps the mention element for n.
func (m Mention) ReplaceWith(n *html.Node) {
	parent := m.n.Parent
	if parent == nil {
		return
	}
	parent.InsertBefore(n, m.n)
	parent.RemoveChild(m.n)
}

// Mentions returns every mention span in document order. Mentions are not
// searched for inside other mentions.
func (d *Document) Mentions() []Mention {
	var out []Mention
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Span && hasClass(n, "mention") {
			out = append(out, Mention{n: n})
			return false
		}
		return true
	})
	return out
}

// walk visits n's descendants depth first. fn returns false to skip a
// node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if fn(c) {
			walk(c, fn)
		}
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func hasClass(n *html.Node, class string) bool {
	v, ok := attr(n, "class")
	if !ok {
		return false
	}
	return slices.Contains(strings.Fields(v), class)
}
