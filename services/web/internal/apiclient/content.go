package apiclient

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"

	"lighthousenotes/pkg/domain"
)

// Notes lists the contemporaneous note index of a case. Shared entries carry
// their creator.
func (c *Client) Notes(ctx context.Context, token, caseID string, ns domain.Namespace) ([]domain.NoteIndex, error) {
	var out []domain.NoteIndex
	if err := c.doJSON(ctx, http.MethodGet, casePath(caseID, ns, "contemporaneous-notes"), token, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Note returns the stored HTML of one note. When the API cannot verify the
// note the result is a red message span in place of the content.
func (c *Client) Note(ctx context.Context, token, caseID string, ns domain.Namespace, noteID string) (string, error) {
	body, err := c.doText(ctx, casePath(caseID, ns, "contemporaneous-note/"+url.PathEscape(noteID)), token)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Recoverable() {
			return fmt.Sprintf(`<span style="color:red"> %s </span>`, html.EscapeString(apiErr.Detail)), nil
		}
		return "", err
	}
	return body, nil
}

func (c *Client) PostNote(ctx context.Context, token, caseID string, ns domain.Namespace, content string) error {
	return c.upload(ctx, casePath(caseID, ns, "contemporaneous-note"), token, "note.txt", content)
}

func (c *Client) Tabs(ctx context.Context, token, caseID string, ns domain.Namespace) ([]domain.Tab, error) {
	var out []domain.Tab
	if err := c.doJSON(ctx, http.MethodGet, casePath(caseID, ns, "tabs"), token, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Tab(ctx context.Context, token, caseID string, ns domain.Namespace, tabID string) (domain.Tab, error) {
	var out domain.Tab
	if err := c.doJSON(ctx, http.MethodGet, casePath(caseID, ns, "tab/"+url.PathEscape(tabID)), token, nil, nil, &out); err != nil {
		return domain.Tab{}, err
	}
	return out, nil
}

func (c *Client) CreateTab(ctx context.Context, token, caseID string, ns domain.Namespace, name string) error {
	payload := map[string]string{"name": name}
	return c.doJSON(ctx, http.MethodPost, casePath(caseID, ns, "tab"), token, nil, payload, nil)
}

// TabContent returns the stored HTML of a tab. exists is false when the tab
// has no stored object yet.
func (c *Client) TabContent(ctx context.Context, token, caseID string, ns domain.Namespace, tabID string) (exists bool, content string, err error) {
	body, err := c.doText(ctx, casePath(caseID, ns, "tab/"+url.PathEscape(tabID)+"/content"), token)
	if err != nil {
		if IsRecoverable(err) {
			return false, "", nil
		}
		return false, "", err
	}
	return true, body, nil
}

func (c *Client) PostTabContent(ctx context.Context, token, caseID string, ns domain.Namespace, tabID, content string) error {
	return c.upload(ctx, casePath(caseID, ns, "tab/"+url.PathEscape(tabID)+"/content"), token, "tab.txt", content)
}

// ImageURL returns a presigned URL for an uploaded image. contentType is the
// API's content folder ("contemporaneous-note" or "tab"). A recoverable
// error means the image exists but cannot be served.
func (c *Client) ImageURL(ctx context.Context, token, caseID string, ns domain.Namespace, contentType, filename string) (string, error) {
	path := casePath(caseID, ns, url.PathEscape(contentType)+"/image/"+url.PathEscape(filename))
	body, err := c.doText(ctx, path, token)
	if err != nil {
		return "", err
	}
	return unquote(body), nil
}
