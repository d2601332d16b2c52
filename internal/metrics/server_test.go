package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeStatus struct {
	err error
}

func (f fakeStatus) Owners(context.Context) (interface{}, error) {
	return []string{"alice"}, f.err
}

func (f fakeStatus) Owner(_ context.Context, ownerID string) (interface{}, error) {
	if ownerID != "alice" {
		return nil, ErrUnknownOwner
	}
	return map[string]string{"owner_id": ownerID}, f.err
}

func TestServer_Routes(t *testing.T) {
	srv := NewServer("127.0.0.1:0", fakeStatus{}, zerolog.Nop())

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/health", http.StatusOK, "OK"},
		{"/metrics", http.StatusOK, "quotakeeper_"},
		{"/owners", http.StatusOK, "alice"},
		{"/owners/alice", http.StatusOK, `"owner_id":"alice"`},
		{"/owners/mallory", http.StatusNotFound, "unknown owner"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			// Touch a vector so /metrics has at least one quotakeeper series
			InvalidEvents.WithLabelValues("test").Add(0)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("Expected body to contain %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestServer_StatusFailure(t *testing.T) {
	srv := NewServer("127.0.0.1:0", fakeStatus{err: errors.New("redis down")}, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/owners", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "redis down") {
		t.Error("Expected internal error to stay out of the response")
	}
}
