package content

import (
	"fmt"
	"io"

	"golang.org/x/net/html"
)

// render writes the fragment node n with the HTML5 serializer. Void
// elements come out self-closed ("<img src=x/>"), which parses back to the
// same tree.
func render(w io.Writer, n *html.Node) error {
	switch n.Type {
	case html.DoctypeNode, html.DocumentNode:
		return fmt.Errorf("%w: unexpected document node in fragment", ErrMalformedHTML)
	}
	if err := html.Render(w, n); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHTML, err)
	}
	return nil
}
