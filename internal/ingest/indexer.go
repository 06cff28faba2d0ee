package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Indexer is the downstream search/indexing collaborator. It consumes a
// source identifier plus a content stream and reports how many documents
// it produced. This core treats it as opaque.
type Indexer interface {
	Index(ctx context.Context, source string, content io.Reader) (int, error)
}

// IndexingError reports a downstream indexer failure for one source. The
// affected record is marked failed and the batch continues.
type IndexingError struct {
	Source string
	Err    error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("index %s: %v", e.Source, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }

// HTTPIndexer streams content to an indexing service over HTTP. The
// service answers with {"documents": N}.
type HTTPIndexer struct {
	URL    string
	Client *http.Client
}

// NewHTTPIndexer creates an HTTPIndexer for the given endpoint.
func NewHTTPIndexer(endpoint string, timeout time.Duration) *HTTPIndexer {
	return &HTTPIndexer{
		URL:    endpoint,
		Client: &http.Client{Timeout: timeout},
	}
}

type indexResponse struct {
	Documents int `json:"documents"`
}

// Index streams content to the indexing service and returns the reported
// document count. The source identifier travels in a query parameter so
// the body stays a raw content stream.
func (ix *HTTPIndexer) Index(ctx context.Context, source string, content io.Reader) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ix.URL+"?source="+url.QueryEscape(source), content)
	if err != nil {
		return 0, &IndexingError{Source: source, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := ix.Client.Do(req)
	if err != nil {
		return 0, &IndexingError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &IndexingError{Source: source, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))}
	}

	var parsed indexResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, &IndexingError{Source: source, Err: fmt.Errorf("decode response: %w", err)}
	}
	return parsed.Documents, nil
}
