package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollyFetcher_Fetch(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><pre>header</pre><pre>rows</pre></body></html>"))
	}))
	defer srv.Close()

	f := NewCollyFetcher(CollyConfig{UserAgent: "cmt-test/0.1"})
	resp, err := f.Fetch(context.Background(), srv.URL+"/CMT5/form?yr=2020")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if !strings.Contains(string(resp.Body), "<pre>rows</pre>") {
		t.Errorf("Body = %q", resp.Body)
	}
	if !strings.HasPrefix(resp.URL, srv.URL+"/CMT5/form") {
		t.Errorf("URL = %q", resp.URL)
	}
	if gotUA != "cmt-test/0.1" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestCollyFetcher_SameURLTwice(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f := NewCollyFetcher(CollyConfig{})
	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
			t.Fatalf("Fetch() #%d error = %v", i+1, err)
		}
	}
	if hits != 2 {
		t.Errorf("server hits = %d, want 2", hits)
	}
}

func TestCollyFetcher_StatusError(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"server error", http.StatusInternalServerError},
		{"unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewCollyFetcher(CollyConfig{}).Fetch(context.Background(), srv.URL)

			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("Fetch() error = %v, want StatusError", err)
			}
			if statusErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, tt.status)
			}
		})
	}
}

func TestCollyFetcher_SuccessStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"ok", http.StatusOK},
		{"non-authoritative", http.StatusNonAuthoritativeInfo},
		{"partial content", http.StatusPartialContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("<pre>h</pre><pre>rows</pre>"))
			}))
			defer srv.Close()

			resp, err := NewCollyFetcher(CollyConfig{}).Fetch(context.Background(), srv.URL)
			if err != nil {
				t.Fatalf("Fetch() error = %v, want success for %d", err, tt.status)
			}
			if !strings.Contains(string(resp.Body), "rows") {
				t.Errorf("Body = %q", resp.Body)
			}
		})
	}
}

func TestFailedStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{0, true},
		{200, false},
		{204, false},
		{304, false},
		{400, true},
		{404, true},
		{503, true},
	}

	for _, tt := range tests {
		if got := failedStatus(tt.code); got != tt.want {
			t.Errorf("failedStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestCollyFetcher_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewCollyFetcher(CollyConfig{}).Fetch(context.Background(), addr)
	if err == nil {
		t.Fatal("Fetch() error = nil, want transport error")
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		t.Errorf("connection failure reported as status error: %v", err)
	}
}

func TestStatusError_Error(t *testing.T) {
	err := &StatusError{URL: "https://example.org/x", StatusCode: 502, Status: "Bad Gateway"}
	want := "unexpected status code: 502 - status: Bad Gateway (https://example.org/x)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
