// Package apiclient is a typed client for the Lighthouse Notes API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lighthousenotes/internal/util"
	"lighthousenotes/pkg/domain"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 64 << 10
)

// Client calls the Lighthouse Notes API over HTTP. Every call carries the
// caller's bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs an API client. A nil httpClient gets a default one
// with a 10 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// request is one API call.
type request struct {
	method string
	path   string
	query  url.Values
	token  string
	// body is sent as-is with contentType.
	body        io.Reader
	contentType string
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends req and returns the response when its status is 2xx. Any other
// status is returned as *APIError with the body consumed.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	target := c.endpoint(r.path, r.query)
	req, err := http.NewRequestWithContext(ctx, r.method, target, r.body)
	if err != nil {
		return nil, err
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if id := util.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(util.RequestIDHeader, id)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	util.LoggerFromContext(ctx).Debug("api_request",
		"method", r.method,
		"path", r.path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, newAPIError(r.method, target, resp)
}

func newAPIError(method, target string, resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{
		Method: method,
		URL:    target,
		Status: resp.StatusCode,
		Reason: http.StatusText(resp.StatusCode),
		Body:   string(raw),
	}
	var p problem
	if json.Unmarshal(raw, &p) == nil {
		apiErr.Title = p.Title
		apiErr.Detail = p.Detail
	}
	return apiErr
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, query url.Values, payload any, out any) error {
	_, err := c.doJSONHeaders(ctx, method, path, token, query, payload, out)
	return err
}

// doJSONHeaders is doJSON that also returns the response headers.
func (c *Client) doJSONHeaders(ctx context.Context, method, path, token string, query url.Values, payload any, out any) (http.Header, error) {
	r := request{method: method, path: path, query: query, token: token}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		r.body = bytes.NewReader(data)
		r.contentType = "application/json"
	}
	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return resp.Header, nil
}

// doText returns the raw body of a successful GET.
func (c *Client) doText(ctx context.Context, path, token string) (string, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, token: token})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// upload posts content as the multipart form field "file".
func (c *Client) upload(ctx context.Context, path, token, filename, content string) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(part, content); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}
	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		token:       token,
		body:        &buf,
		contentType: form.FormDataContentType(),
	})
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func pagination(h http.Header) (domain.Pagination, error) {
	var p domain.Pagination
	fields := []struct {
		name string
		dst  *int
	}{
		{"X-Page", &p.Page},
		{"X-Total-Pages", &p.TotalPages},
		{"X-Total-Count", &p.Total},
	}
	for _, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(h.Get(f.name)))
		if err != nil {
			return domain.Pagination{}, fmt.Errorf("pagination header %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return p, nil
}

func pageQuery(page, pageSize int) url.Values {
	q := url.Values{}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	return q
}

// casePath builds case/{id}[/shared]/rest.
func casePath(caseID string, ns domain.Namespace, rest string) string {
	p := "case/" + url.PathEscape(caseID)
	if ns == domain.Shared {
		p += "/shared"
	}
	return p + "/" + rest
}

// unquote returns a JSON string body as plain text. Bodies that are not a
// JSON string are returned trimmed with any quotes removed.
func unquote(body string) string {
	var s string
	if err := json.Unmarshal([]byte(body), &s); err == nil {
		return s
	}
	return strings.ReplaceAll(strings.TrimSpace(body), `"`, "")
}
