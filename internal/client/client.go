// Package client is a Go client for the RBAC REST API. It keeps the bearer
// session in an injected SessionProvider and transparently refreshes the
// access token once when a request is rejected with 401.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// ErrSessionExpired is returned when the refresh token can no longer be
// exchanged. The session has been cleared by then.
var ErrSessionExpired = httpx.NewError(httpx.ErrUnauthorized, "session expired")

// Client talks to the API rooted at the base URL given to New, for example
// https://rbac.example.com/api/v1.
type Client struct {
	http      *resty.Client
	session   SessionProvider
	logger    *slog.Logger
	refreshes singleflight.Group

	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithSession injects the session state. Defaults to a MemorySession.
func WithSession(s SessionProvider) Option { return func(c *Client) { c.session = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithHTTPClient sets the underlying transport client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithTimeout bounds every request. Defaults to 30s.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// New constructs a Client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{session: NewMemorySession(), logger: slog.Default(), timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	rc := resty.New()
	if c.httpClient != nil {
		rc = resty.NewWithClient(c.httpClient)
	}
	c.http = rc.
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json")
	return c
}

// Session returns the session provider in use.
func (c *Client) Session() SessionProvider { return c.session }

func (c *Client) execute(ctx context.Context, method, path, access string, body, result any) (int, error) {
	var problem httpx.ProblemDetail
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-Id", uuid.NewString()).
		SetError(&problem)
	if access != "" {
		req.SetAuthToken(access)
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return 0, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return resp.StatusCode(), newAPIError(resp.StatusCode(), &problem)
	}
	return resp.StatusCode(), nil
}

// call performs an authenticated request. A 401 triggers exactly one refresh
// followed by one retry.
func (c *Client) call(ctx context.Context, method, path string, body, result any) error {
	tokens := c.session.Tokens()
	if tokens.Access == "" && tokens.Refresh == "" {
		return ErrNoSession
	}
	status, err := c.execute(ctx, method, path, tokens.Access, body, result)
	if status != http.StatusUnauthorized {
		return err
	}
	access, err := c.refreshAccess(ctx, tokens.Access)
	if err != nil {
		return err
	}
	_, err = c.execute(ctx, method, path, access, body, result)
	return err
}

// refreshAccess exchanges the refresh token for a new access token. Callers
// that saw a 401 for the same stale token share one exchange; a caller whose
// token was already replaced just picks up the new one.
func (c *Client) refreshAccess(ctx context.Context, stale string) (string, error) {
	if cur := c.session.Tokens(); cur.Access != "" && cur.Access != stale {
		return cur.Access, nil
	}
	ch := c.refreshes.DoChan("refresh", func() (interface{}, error) {
		tokens := c.session.Tokens()
		if tokens.Access != "" && tokens.Access != stale {
			return tokens.Access, nil
		}
		if tokens.Refresh == "" {
			c.session.Clear()
			return nil, ErrSessionExpired
		}
		var out struct {
			Access string `json:"access"`
		}
		_, err := c.execute(context.WithoutCancel(ctx), http.MethodPost, "/token/refresh", "",
			map[string]string{"refresh": tokens.Refresh}, &out)
		if err == nil && out.Access == "" {
			err = errors.New("empty access token")
		}
		if err != nil {
			c.session.Clear()
			c.logger.Warn("token refresh failed, session cleared", slog.Any("error", err))
			return nil, errors.Join(ErrSessionExpired, err)
		}
		c.session.UpdateAccess(out.Access)
		return out.Access, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

type loginResponse struct {
	Access  string    `json:"access"`
	Refresh string    `json:"refresh"`
	User    rbac.User `json:"user"`
}

// Login authenticates and stores the token pair in the session.
func (c *Client) Login(ctx context.Context, username, password string) (rbac.User, error) {
	var out loginResponse
	_, err := c.execute(ctx, http.MethodPost, "/users/login", "",
		map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		return rbac.User{}, err
	}
	c.session.SetTokens(Tokens{Access: out.Access, Refresh: out.Refresh})
	return out.User, nil
}

// Logout revokes the refresh token when possible and clears the session.
func (c *Client) Logout(ctx context.Context) {
	tokens := c.session.Tokens()
	if tokens.Refresh != "" {
		if _, err := c.execute(ctx, http.MethodPost, "/token/revoke", "",
			map[string]string{"refresh": tokens.Refresh}, nil); err != nil {
			c.logger.Warn("revoke refresh token", slog.Any("error", err))
		}
	}
	c.session.Clear()
}
