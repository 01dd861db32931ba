package orchestrator

import (
	"testing"
	"time"

	"lorre/internal/config"
)

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	cfg := config.Defaults()
	cfg.MaxBackoff = 8 * time.Second
	l := &Loop{cfg: cfg, backoff: time.Second}

	got := []time.Duration{}
	for i := 0; i < 5; i++ {
		got = append(got, l.nextBackoff())
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("backoff step %d: expected %v, got %v", i, w, got[i])
		}
	}
}
