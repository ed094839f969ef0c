package netx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPostJSON(t *testing.T) {
	body := map[string]any{"user_id": 42}

	t.Run("success 200 OK", func(t *testing.T) {
		var gotBody map[string]any
		var gotCT, gotAuth, gotMethod string

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotCT = r.Header.Get("Content-Type")
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		err := PostJSON(context.Background(), ts.Client(), ts.URL+"/users/deleted", "internal-token", body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotMethod != http.MethodPost {
			t.Fatalf("method = %q, want POST", gotMethod)
		}
		if gotCT != "application/json" {
			t.Fatalf("Content-Type = %q, want application/json", gotCT)
		}
		if gotAuth != "Bearer internal-token" {
			t.Fatalf("Authorization = %q", gotAuth)
		}
		if gotBody["user_id"] != float64(42) {
			t.Fatalf("body = %v", gotBody)
		}
	})

	t.Run("no bearer, nil client", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Errorf("unexpected Authorization header")
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer ts.Close()

		if err := PostJSON(context.Background(), nil, ts.URL, "", body); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("non-2xx -> error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, "nope")
		}))
		defer ts.Close()

		err := PostJSON(context.Background(), ts.Client(), ts.URL, "", body)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "post failed: 403") || !strings.Contains(err.Error(), "nope") {
			t.Fatalf("error = %q, want status and body", err.Error())
		}
	})

	t.Run("unencodable body", func(t *testing.T) {
		err := PostJSON(context.Background(), nil, "http://127.0.0.1:1", "", make(chan int))
		if err == nil || !strings.Contains(err.Error(), "encode body") {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("network error", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()

		err := PostJSON(context.Background(), nil, ts.URL, "", body)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		var opErr *net.OpError
		if !errors.As(err, &opErr) {
			t.Fatalf("expected *net.OpError in chain, got %T: %v", err, err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := PostJSON(ctx, nil, "http://127.0.0.1:1", "", body)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
