package management

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client provides HTTP client for the management API
type Client struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL
}

// NewClient creates a new management API client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// ListExchanges returns every exchange on the broker, across all vhosts.
// An empty response body is treated as no exchanges.
func (c *Client) ListExchanges(ctx context.Context) ([]Exchange, error) {
	body, err := c.doRequest(ctx, http.MethodGet, &url.URL{Path: "/api/exchanges"})
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return []Exchange{}, nil
	}

	var exchanges []Exchange
	if err := json.Unmarshal(body, &exchanges); err != nil {
		return nil, fmt.Errorf("unexpected exchange listing %s: %w", truncate(body), err)
	}
	return exchanges, nil
}

// DeleteExchange deletes the named exchange in vhost.
func (c *Client) DeleteExchange(ctx context.Context, vhost, name string) error {
	u := &url.URL{
		Path:    "/api/exchanges/" + vhost + "/" + name,
		RawPath: "/api/exchanges/" + url.PathEscape(vhost) + "/" + url.PathEscape(name),
	}
	if _, err := c.doRequest(ctx, http.MethodDelete, u); err != nil {
		return fmt.Errorf("failed to delete exchange %q in vhost %q: %w", name, vhost, err)
	}
	return nil
}

// doRequest performs an authenticated request and returns the response body
func (c *Client) doRequest(ctx context.Context, method string, ref *url.URL) ([]byte, error) {
	fullURL := c.baseURL.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.config.Username, c.config.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, truncate(body))
		}
		return nil, fmt.Errorf("API error (%d): %s - %s", resp.StatusCode, errResp.Error, errResp.Reason)
	}
	return body, nil
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
