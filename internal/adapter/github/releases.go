// Package github implements the release index port against the GitHub REST
// API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Strob0t/GowaManager/internal/config"
	"github.com/Strob0t/GowaManager/internal/domain"
	"github.com/Strob0t/GowaManager/internal/port/releases"
	"github.com/Strob0t/GowaManager/internal/resilience"
)

const userAgent = "gowa-manager"

// Client queries the release index of one repository. Index calls go
// through a circuit breaker so a flapping upstream degrades to fast
// failures instead of piling up timeouts.
type Client struct {
	baseURL string
	repo    string
	http    *http.Client
	breaker *resilience.Breaker
}

// NewClient creates a release index client from config.
func NewClient(cfg config.Releases, breaker *resilience.Breaker) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		repo:    cfg.Repo,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}
}

// Latest returns the head release.
func (c *Client) Latest(ctx context.Context) (*releases.Release, error) {
	var rel releases.Release
	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.baseURL, c.repo)
	if err := c.getJSON(ctx, url, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// ByTag returns the release for a concrete tag.
func (c *Client) ByTag(ctx context.Context, tag string) (*releases.Release, error) {
	var rel releases.Release
	url := fmt.Sprintf("%s/repos/%s/releases/tags/%s", c.baseURL, c.repo, tag)
	if err := c.getJSON(ctx, url, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// List returns up to limit releases, newest first.
func (c *Client) List(ctx context.Context, limit int) ([]releases.Release, error) {
	var rels []releases.Release
	url := fmt.Sprintf("%s/repos/%s/releases?per_page=%s", c.baseURL, c.repo, strconv.Itoa(limit))
	if err := c.getJSON(ctx, url, &rels); err != nil {
		return nil, err
	}
	if len(rels) > limit {
		rels = rels[:limit]
	}
	return rels, nil
}

// Download streams an asset. The caller closes the returned reader.
func (c *Client) Download(ctx context.Context, asset releases.Asset) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", asset.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download %s: unexpected status %d", asset.Name, resp.StatusCode)
	}
	return resp.Body, nil
}

// getJSON performs one index query through the breaker. A 404 is a healthy
// upstream answer, so it does not count against the breaker.
func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	var notFound error
	err := c.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/vnd.github+json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("query %s: %w", url, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			notFound = fmt.Errorf("%w: %s", domain.ErrNotFound, url)
			return nil
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("query %s: status %d: %s", url, resp.StatusCode, body)
		}

		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decode %s: %w", url, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return notFound
}
