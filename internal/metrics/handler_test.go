package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSetupMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordEventCreated()
	c.RecordSessionsPurged(3)
	handler := SetupMetricsRoute(reg)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "scrape",
			method:     http.MethodGet,
			path:       "/metrics",
			wantStatus: http.StatusOK,
			wantBody:   []string{"organizer_events_created_total 1", "organizer_provider_sessions_purged_total 3"},
		},
		{"unknown path", http.MethodGet, "/health", http.StatusNotFound, nil},
		{"wrong method", http.MethodPost, "/metrics", http.StatusMethodNotAllowed, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("body should contain %q", want)
				}
			}
		})
	}
}
