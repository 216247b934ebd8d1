package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

const (
	fetchAttempts = 5
	fetchBackoff  = 2 * time.Second
)

// Fetcher wraps HTTP GET with bounded retry and an optional proxy. Feed
// pages and image downloads both go through it, so one flaky upstream
// response never fails a whole feed check outright.
type Fetcher struct {
	client *http.Client
	log    logx.Logger
}

func NewFetcher(proxyURL string, log logx.Logger) (*Fetcher, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &Fetcher{
		client: &http.Client{Timeout: 20 * time.Second, Transport: transport},
		log:    log,
	}, nil
}

// Get retries up to 5 attempts with a short pause, then gives up.
func (f *Fetcher) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(fetchBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		body, err := f.getOnce(ctx, rawURL, header)
		if err == nil {
			return body, nil
		}
		lastErr = err
		f.log.Warn("fetch attempt failed",
			logx.String("url", rawURL), logx.Int("attempt", attempt), logx.Err(err))
	}
	return nil, fmt.Errorf("all fetch attempts failed: %w", lastErr)
}

func (f *Fetcher) getOnce(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Images downloads every URL; one incomplete download fails the batch, so
// the relay never registers an item with holes in its image list.
func (f *Fetcher) Images(ctx context.Context, urls []string) ([][]byte, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		b, err := f.Get(ctx, u, nil)
		if err != nil {
			return nil, fmt.Errorf("download image %s: %w", u, err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("downloaded image is empty: %s", u)
		}
		out = append(out, b)
	}
	return out, nil
}
