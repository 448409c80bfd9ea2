package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"lighthousenotes/pkg/domain"
)

// CaseQuery selects a page of cases.
type CaseQuery struct {
	Page     int
	PageSize int
	Sort     string
	Search   string
}

func (c *Client) Cases(ctx context.Context, token string, q CaseQuery) (domain.Pagination, []domain.Case, error) {
	query := pageQuery(q.Page, q.PageSize)
	if q.Sort != "" {
		query.Set("sort", q.Sort)
	}
	if q.Search != "" {
		query.Set("search", q.Search)
	}
	var cases []domain.Case
	h, err := c.doJSONHeaders(ctx, http.MethodGet, "cases", token, query, nil, &cases)
	if err != nil {
		return domain.Pagination{}, nil, err
	}
	p, err := pagination(h)
	if err != nil {
		return domain.Pagination{}, nil, err
	}
	return p, cases, nil
}

func (c *Client) Case(ctx context.Context, token, caseID string) (domain.Case, error) {
	var out domain.Case
	if err := c.doJSON(ctx, http.MethodGet, "case/"+url.PathEscape(caseID), token, nil, nil, &out); err != nil {
		return domain.Case{}, err
	}
	return out, nil
}

func (c *Client) CreateCase(ctx context.Context, token string, in domain.AddCase) error {
	return c.doJSON(ctx, http.MethodPost, "case", token, nil, in, nil)
}

func (c *Client) UpdateCase(ctx context.Context, token, caseID string, in domain.UpdateCase) error {
	return c.doJSON(ctx, http.MethodPut, "case/"+url.PathEscape(caseID), token, nil, in, nil)
}

func (c *Client) AddCaseUser(ctx context.Context, token, caseID, userID string) error {
	return c.doJSON(ctx, http.MethodPut, casePath(caseID, domain.Personal, "user/"+url.PathEscape(userID)), token, nil, nil, nil)
}

func (c *Client) RemoveCaseUser(ctx context.Context, token, caseID, userID string) error {
	return c.doJSON(ctx, http.MethodDelete, casePath(caseID, domain.Personal, "user/"+url.PathEscape(userID)), token, nil, nil, nil)
}

// ExhibitQuery selects a page of a case's exhibits.
type ExhibitQuery struct {
	Page     int
	PageSize int
	Sort     string
}

func (c *Client) Exhibits(ctx context.Context, token, caseID string, q ExhibitQuery) (domain.Pagination, []domain.Exhibit, error) {
	query := pageQuery(q.Page, q.PageSize)
	if q.Sort != "" {
		query.Set("sort", q.Sort)
	}
	var exhibits []domain.Exhibit
	h, err := c.doJSONHeaders(ctx, http.MethodGet, casePath(caseID, domain.Personal, "exhibits"), token, query, nil, &exhibits)
	if err != nil {
		return domain.Pagination{}, nil, err
	}
	p, err := pagination(h)
	if err != nil {
		return domain.Pagination{}, nil, err
	}
	return p, exhibits, nil
}

func (c *Client) Exhibit(ctx context.Context, token, caseID, exhibitID string) (domain.Exhibit, error) {
	var out domain.Exhibit
	if err := c.doJSON(ctx, http.MethodGet, casePath(caseID, domain.Personal, "exhibit/"+url.PathEscape(exhibitID)), token, nil, nil, &out); err != nil {
		return domain.Exhibit{}, err
	}
	return out, nil
}

func (c *Client) CreateExhibit(ctx context.Context, token, caseID string, in domain.AddExhibit) error {
	return c.doJSON(ctx, http.MethodPost, casePath(caseID, domain.Personal, "exhibit"), token, nil, in, nil)
}

// Export returns everything the caller can see in a case.
func (c *Client) Export(ctx context.Context, token, caseID string) (domain.Export, error) {
	var out domain.Export
	if err := c.doJSON(ctx, http.MethodGet, casePath(caseID, domain.Personal, "export"), token, nil, nil, &out); err != nil {
		return domain.Export{}, err
	}
	return out, nil
}

func (c *Client) UserAudit(ctx context.Context, token string, page, pageSize int) (domain.Pagination, []domain.UserAudit, error) {
	var audit []domain.UserAudit
	h, err := c.doJSONHeaders(ctx, http.MethodGet, "audit/user", token, pageQuery(page, pageSize), nil, &audit)
	if err != nil {
		return domain.Pagination{}, nil, err
	}
	p, err := pagination(h)
	if err != nil {
		return domain.Pagination{}, nil, err
	}
	return p, audit, nil
}
