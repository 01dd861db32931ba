// Package rpc is the HTTP/JSON client for a Tezos-family node. It exposes a
// single bounded-concurrency batched-GET contract; retries and backoff live
// one layer up, in the orchestrator.
package rpc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"lorre/internal/config"
)

// Result pairs an input with the raw response body fetched for it, or the
// error that occurred fetching it.
type Result[In any] struct {
	Input In
	Body  []byte
	Err   error
}

// Client issues batched GETs against one node's base URL. The underlying
// http.Transport pools connections the same way the teacher's connection
// pool did for raw TCP: a bounded number of idle connections per host,
// reused across requests instead of dialing fresh each time.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	log            *logrus.Entry
}

// New builds a Client for the given network node, sized for up to
// maxConcurrency simultaneous in-flight requests.
func New(node config.Node, maxConcurrency int, requestTimeout time.Duration) *Client {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	transport := &http.Transport{
		MaxIdleConns:        maxConcurrency * 2,
		MaxIdleConnsPerHost: maxConcurrency,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL:        node.BaseURL(),
		httpClient:     &http.Client{Transport: transport},
		requestTimeout: requestTimeout,
		log:            logrus.WithField("component", "rpc"),
	}
}

// get issues a single GET against path relative to the client's base URL.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: build request %s: %w", path, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rpc: read body %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rpc: %s returned status %d: %s", path, resp.StatusCode, trim(body))
	}
	return body, nil
}

// BatchedGet resolves pathFor(input) for every input and fetches them with
// at most concurrency requests in flight at once, preserving the pairing
// between each input and its response body. A transport or non-2xx failure
// on any single input fails the whole batch unless tolerant is true, in
// which case that input's Result carries the error instead and the batch
// continues (used by decoders for rights/votes endpoints per spec §4.2).
func (c *Client) BatchedGet(ctx context.Context, inputs []string, pathFor func(string) string, concurrency int, tolerant bool) ([]Result[string], error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(concurrency))
	results := make([]Result[string], len(inputs))

	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex

	for i, in := range inputs {
		if err := sem.Acquire(batchCtx, 1); err != nil {
			wg.Wait()
			return nil, fmt.Errorf("rpc: batch cancelled: %w", err)
		}
		wg.Add(1)
		go func(idx int, input string) {
			defer wg.Done()
			defer sem.Release(1)
			body, err := c.get(batchCtx, pathFor(input))
			results[idx] = Result[string]{Input: input, Body: body, Err: err}
			if err != nil && !tolerant {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}(i, in)
	}

	wg.Wait()

	if firstErr != nil {
		c.log.WithError(firstErr).Warn("batch fetch failed")
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func trim(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
