package rpc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"lorre/internal/config"
)

func newTestClient(t *testing.T, srv *httptest.Server, concurrency int) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	node := config.Node{Protocol: "http", Host: u.Hostname(), Port: port, PathPrefix: ""}
	return New(node, concurrency, time.Second)
}

func TestBatchedGetPreservesPairing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "body:%s", strings.TrimPrefix(r.URL.Path, "/chains/main/"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	inputs := []string{"a", "b", "c", "d"}
	results, err := c.BatchedGet(context.Background(), inputs, func(s string) string { return s }, 3, false)
	if err != nil {
		t.Fatalf("BatchedGet: %v", err)
	}
	if len(results) != len(inputs) {
		t.Fatalf("expected %d results, got %d", len(inputs), len(results))
	}
	for i, in := range inputs {
		want := "body:" + in
		if string(results[i].Body) != want {
			t.Fatalf("result %d: input %q paired with %q, want %q", i, in, results[i].Body, want)
		}
	}
}

func TestBatchedGetFailsWholeBatchWhenIntolerant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)
	_, err := c.BatchedGet(context.Background(), []string{"good", "bad"}, func(s string) string { return s }, 2, false)
	if err == nil {
		t.Fatal("expected batch error when a non-tolerant input 5xxs")
	}
}

func TestBatchedGetTolerantKeepsNeutralResultOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)
	results, err := c.BatchedGet(context.Background(), []string{"good", "bad"}, func(s string) string { return s }, 2, true)
	if err != nil {
		t.Fatalf("tolerant batch should not fail: %v", err)
	}
	foundErr := false
	for _, r := range results {
		if r.Input == "bad" && r.Err != nil {
			foundErr = true
		}
	}
	if !foundErr {
		t.Fatal("expected the failing input's Result to carry its error")
	}
}
