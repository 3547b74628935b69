package httpclient

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewStopsRedirectLoops(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		http.Redirect(w, r, "/hop"+strconv.Itoa(int(n)), http.StatusFound)
	}))
	defer srv.Close()

	client := New(Config{Timeout: 2 * time.Second, MaxRedirects: 3})
	resp, err := client.Get(srv.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatalf("expected redirect loop to be stopped")
	}
	if !strings.Contains(err.Error(), "stopped after 3 redirects") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 requests before giving up, got %d", got)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	client := New(Config{Timeout: time.Second})
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("unexpected transport type %T", client.Transport)
	}
	if transport.MaxIdleConns != defaultMaxIdleConns || transport.IdleConnTimeout != defaultIdleConnTimeout {
		t.Fatalf("defaults not applied: %d %s", transport.MaxIdleConns, transport.IdleConnTimeout)
	}
	if client.Timeout != time.Second {
		t.Fatalf("unexpected timeout %s", client.Timeout)
	}
}
