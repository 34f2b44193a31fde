package storefront

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"storefront/internal/metrics"
)

// Fetcher loads the product list from the remote endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]Product, error)
}

type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64

	// observe is called with the body size of every 2xx response.
	observe func(n int)
}

func NewHTTPFetcher(client *http.Client, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]Product, error) {
	start := time.Now()
	defer func() { metrics.ObserveFetch(time.Since(start)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, networkFailure("", errors.Wrap(err, "build request"))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, networkFailure("", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, networkFailure(msgFetchFailed, errors.Errorf("unexpected status %d", resp.StatusCode))
	}

	var r io.Reader = resp.Body
	if f.maxBytes > 0 {
		r = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, networkFailure("", errors.Wrap(err, "read body"))
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return nil, parseFailure(errors.Errorf("response body exceeds %s", formatBytes(uint64(f.maxBytes))))
	}
	if f.observe != nil {
		f.observe(len(body))
	}

	var products []Product
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, parseFailure(err)
	}
	if products == nil {
		products = []Product{}
	}
	return products, nil
}
