// Package gameapi is the HTTP client for the finder backend.
package gameapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/jetfinder/internal/storage"
	"github.com/DoyleJ11/jetfinder/pkg/types"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("finder api: status %d: %s", e.StatusCode, e.Body)
}

// Client calls the finder endpoints. The backend tracks the player through a
// session cookie, which is kept in the KeyValue store so it survives restarts.
type Client struct {
	base    *url.URL
	http    *http.Client
	cookies storage.KeyValue
	logger  *zap.Logger
}

func New(baseURL string, timeout time.Duration, cookies storage.KeyValue, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return &Client{
		base:    base,
		http:    &http.Client{Timeout: timeout},
		cookies: cookies,
		logger:  logger.Named("gameapi"),
	}, nil
}

func (c *Client) Config(ctx context.Context) (types.ConfigResponse, error) {
	var resp types.ConfigResponse
	err := c.get(ctx, "/finder/config", nil, &resp)
	return resp, err
}

func (c *Client) Proximity(ctx context.Context, beacons string) (types.ProximityResponse, error) {
	var resp types.ProximityResponse
	err := c.get(ctx, "/finder/proximity", url.Values{"beacons": {beacons}}, &resp)
	return resp, err
}

func (c *Client) Register(ctx context.Context, name string) (types.RegisterResponse, error) {
	var resp types.RegisterResponse
	err := c.get(ctx, "/finder/register", url.Values{"name": {name}}, &resp)
	return resp, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	stored, ok, err := c.cookies.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("reading cookies: %w", err)
	}
	if ok && stored != "" {
		req.Header.Set("Cookie", stored)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer res.Body.Close()

	if err := c.keepCookies(ctx, stored, res.Cookies()); err != nil {
		c.logger.Warn("storing cookies", zap.Error(err))
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// keepCookies merges cookies set by the backend into the stored header value.
func (c *Client) keepCookies(ctx context.Context, stored string, set []*http.Cookie) error {
	if len(set) == 0 {
		return nil
	}

	var jar []*http.Cookie
	if stored != "" {
		parsed, err := http.ParseCookie(stored)
		if err == nil {
			jar = parsed
		}
	}

	for _, ck := range set {
		replaced := false
		for i, have := range jar {
			if have.Name == ck.Name {
				jar[i] = &http.Cookie{Name: ck.Name, Value: ck.Value}
				replaced = true
				break
			}
		}
		if !replaced {
			jar = append(jar, &http.Cookie{Name: ck.Name, Value: ck.Value})
		}
	}

	parts := make([]string, 0, len(jar))
	for _, ck := range jar {
		parts = append(parts, ck.String())
	}
	header := strings.Join(parts, "; ")
	return c.cookies.SetCookies(ctx, &header)
}
