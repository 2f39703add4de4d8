// Package search wraps the Google Programmable Search JSON API.
package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://www.googleapis.com/customsearch/v1"

// Client performs web search operations.
type Client interface {
	Search(ctx context.Context, query string, num int) ([]Result, error)
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey   string
	engineID string
	baseURL  string
	http     *http.Client
}

// NewClient creates a Programmable Search client for the given key and
// engine id.
func NewClient(apiKey, engineID string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		engineID: engineID,
		baseURL:  defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchResponse struct {
	Items []Result `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *httpClient) Search(ctx context.Context, query string, num int) ([]Result, error) {
	if num <= 0 || num > 10 {
		num = 10
	}
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("cx", c.engineID)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(num))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "search: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "search: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "search: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("search: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result searchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "search: unmarshal response")
	}
	if result.Error != nil {
		return nil, eris.Errorf("search: api error %d: %s", result.Error.Code, result.Error.Message)
	}

	return result.Items, nil
}
