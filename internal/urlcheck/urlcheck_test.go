package urlcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("User-Agent") != BrowserUserAgent {
			w.WriteHeader(http.StatusTeapot)
			return
		}
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/gone", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCheck(t *testing.T) {
	srv := newSite(t)
	c := New(nil)

	tests := []struct {
		path   string
		alive  bool
		status int
	}{
		{"/ok", true, http.StatusOK},
		{"/forbidden", true, http.StatusForbidden},
		{"/gone", false, http.StatusNotFound},
		{"/broken", false, http.StatusBadGateway},
		{"/moved", false, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := c.Check(context.Background(), srv.URL+tt.path)
			if got.Alive != tt.alive || got.Status != tt.status {
				t.Errorf("Check(%s) = %+v, want alive=%v status=%d", tt.path, got, tt.alive, tt.status)
			}
		})
	}

	if c.CheckAlive(context.Background(), "http://127.0.0.1:1/") {
		t.Error("Expected unreachable host to be dead")
	}
	if c.CheckAlive(context.Background(), "::not a url") {
		t.Error("Expected malformed URL to be dead")
	}
}

func TestCheckAll(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/dead" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/a", srv.URL + "/dead", srv.URL + "/b", srv.URL + "/c"}
	c := New(nil)
	c.Concurrency = 2

	results := c.CheckAll(context.Background(), urls)
	if len(results) != len(urls) {
		t.Fatalf("CheckAll returned %d results, want %d", len(results), len(urls))
	}
	for i, r := range results {
		if r.URL != urls[i] {
			t.Errorf("result %d URL = %s, want %s", i, r.URL, urls[i])
		}
	}

	want := []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"}
	if got := Alive(results); !reflect.DeepEqual(got, want) {
		t.Errorf("Alive() = %v, want %v", got, want)
	}
	if hits.Load() != 4 {
		t.Errorf("server saw %d requests, want 4", hits.Load())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, r := range c.CheckAll(ctx, urls) {
		if r.Alive {
			t.Errorf("Expected %s to be dead after cancel", r.URL)
		}
	}
}

func TestReadWriteURLs(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "urls.txt")
	content := "\ufeffhttps://a.example\n\n  https://b.example  \n# comment\r\nhttps://a.example\r\n"
	if err := os.WriteFile(in, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	urls, err := ReadURLs(in)
	if err != nil {
		t.Fatalf("ReadURLs failed: %v", err)
	}
	want := []string{"https://a.example", "https://b.example", "https://a.example"}
	if !reflect.DeepEqual(urls, want) {
		t.Errorf("ReadURLs() = %q, want %q", urls, want)
	}

	out := filepath.Join(dir, "alive.txt")
	if err := WriteURLs(out, urls[:2]); err != nil {
		t.Fatalf("WriteURLs failed: %v", err)
	}
	back, _ := ReadURLs(out)
	if !reflect.DeepEqual(back, urls[:2]) {
		t.Errorf("round trip = %q", back)
	}

	if _, err := ReadURLs(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestDedupe(t *testing.T) {
	got, skipped := Dedupe(
		[]string{"a", "b", "a", "c", "known"},
		[]string{"known"},
	)
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) || skipped != 2 {
		t.Errorf("Dedupe() = %v, %d", got, skipped)
	}
}
