package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"lighthousenotes/pkg/domain"
)

func (c *Client) OrganizationSettings(ctx context.Context, token string) (domain.OrganizationSettings, error) {
	var out domain.OrganizationSettings
	if err := c.doJSON(ctx, http.MethodGet, "organization/settings", token, nil, nil, &out); err != nil {
		return domain.OrganizationSettings{}, err
	}
	return out, nil
}

func (c *Client) UpdateOrganizationConfig(ctx context.Context, token string, cfg domain.OrganizationSettings) error {
	return c.doJSON(ctx, http.MethodPut, "organization/config", token, nil, cfg, nil)
}

// UserQuery selects a page of users. SIO lists only users holding the sio
// role and ignores the other fields.
type UserQuery struct {
	Page     int
	PageSize int
	Sort     string
	Search   string
	SIO      bool
}

func (c *Client) Users(ctx context.Context, token string, q UserQuery) (domain.Pagination, []domain.User, error) {
	var query url.Values
	if q.SIO {
		query = url.Values{"sio": {"true"}}
	} else {
		query = pageQuery(q.Page, q.PageSize)
		if q.Sort != "" {
			query.Set("sort", q.Sort)
		}
		if q.Search != "" {
			query.Set("search", q.Search)
		}
	}
	var users []domain.User
	h, err := c.doJSONHeaders(ctx, http.MethodGet, "users", token, query, nil, &users)
	if err != nil {
		return domain.Pagination{}, nil, err
	}
	if q.SIO {
		return domain.Pagination{Page: 1, TotalPages: 1, Total: len(users)}, users, nil
	}
	p, err := pagination(h)
	if err != nil {
		return domain.Pagination{}, nil, err
	}
	return p, users, nil
}

func (c *Client) User(ctx context.Context, token, userID string) (domain.User, error) {
	var user domain.User
	if err := c.doJSON(ctx, http.MethodGet, "user/"+url.PathEscape(userID), token, nil, nil, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (c *Client) CreateUser(ctx context.Context, token string, user domain.AddUser) error {
	return c.doJSON(ctx, http.MethodPost, "user", token, nil, user, nil)
}

func (c *Client) UpdateUser(ctx context.Context, token, userID string, update domain.UpdateUser) error {
	return c.doJSON(ctx, http.MethodPut, "user/"+url.PathEscape(userID), token, nil, update, nil)
}

func (c *Client) DeleteUser(ctx context.Context, token, userID string) error {
	return c.doJSON(ctx, http.MethodDelete, "user/"+url.PathEscape(userID), token, nil, nil, nil)
}

// UserSettings returns the caller's settings, or ErrNoSettings when the API
// answers 404.
func (c *Client) UserSettings(ctx context.Context, token string) (domain.APISettings, error) {
	var out domain.APISettings
	err := c.doJSON(ctx, http.MethodGet, "user/settings", token, nil, nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return domain.APISettings{}, ErrNoSettings
	}
	if err != nil {
		return domain.APISettings{}, err
	}
	return out, nil
}

func (c *Client) UpdateUserSettings(ctx context.Context, token string, s domain.UserSettings) error {
	return c.doJSON(ctx, http.MethodPut, "user/settings", token, nil, s, nil)
}
