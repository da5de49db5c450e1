// Package websearch implements the retrieval-augmented answer path: query
// a search API, pull text out of the top results, and generate an answer
// constrained to that context.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/courier/internal/llm"
	"github.com/dwizi/courier/internal/llm/pool"
)

var errSearchExhausted = errors.New("all search credentials failed")

type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SearchClient posts queries to a search API, rotating through its own
// credential ring the same way the completion pool does.
type SearchClient struct {
	endpoint   string
	keys       *pool.KeyRing
	maxResults int
	httpClient *http.Client
	logger     *slog.Logger
}

func NewSearchClient(endpoint string, keys *pool.KeyRing, maxResults int, timeout time.Duration, logger *slog.Logger) *SearchClient {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	if maxResults < 1 {
		maxResults = 5
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchClient{
		endpoint:   strings.TrimSpace(endpoint),
		keys:       keys,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Search returns ordered candidate links for the query. Each credential is
// tried at most once; rate-limited keys rotate like completion keys do.
func (c *SearchClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if c.keys.Size() == 0 {
		return nil, fmt.Errorf("no search credentials configured")
	}
	var lastErr error
	for attempt := 0; attempt < c.keys.Size(); attempt++ {
		key := c.keys.Next()
		results, err := c.searchOnce(ctx, key, query)
		if err == nil {
			return results, nil
		}
		lastErr = err
		c.logger.Warn("search call failed, rotating credential", "error", err)
	}
	return nil, fmt.Errorf("%w: %w", errSearchExhausted, lastErr)
}

func (c *SearchClient) searchOnce(ctx context.Context, apiKey, query string) ([]SearchResult, error) {
	body, err := json.Marshal(map[string]any{
		"q":           query,
		"max_results": c.maxResults,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d", llm.ErrRateLimited, res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("search failed with status %d", res.StatusCode)
	}

	var payload struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	results := make([]SearchResult, 0, len(payload.Results))
	for _, result := range payload.Results {
		if strings.TrimSpace(result.URL) == "" {
			continue
		}
		results = append(results, result)
	}
	return results, nil
}
