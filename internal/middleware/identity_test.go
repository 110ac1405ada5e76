package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/organizer/internal/model"
)

// mockIdentityResolver はIdentityResolverのモック。
type mockIdentityResolver struct {
	resolveFn func(ctx context.Context, clientID string) (*model.Identity, error)
}

func (m *mockIdentityResolver) ResolveIdentity(ctx context.Context, clientID string) (*model.Identity, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, clientID)
	}
	return nil, nil
}

func identityRequest(clientID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	if clientID != "" {
		req = req.WithContext(ContextWithClientID(req.Context(), clientID))
	}
	return req
}

func TestRequireIdentity_InjectsUserID(t *testing.T) {
	resolver := &mockIdentityResolver{
		resolveFn: func(ctx context.Context, clientID string) (*model.Identity, error) {
			if clientID != "client-1" {
				t.Errorf("clientID = %q, want client-1", clientID)
			}
			return &model.Identity{ID: "uid-1"}, nil
		},
	}

	var userID string
	handler := NewRequireIdentityMiddleware(resolver, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ = UserIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, identityRequest("client-1"))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if userID != "uid-1" {
		t.Errorf("user ID = %q, want uid-1", userID)
	}
}

func TestRequireIdentity_Returns401(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		resolver *mockIdentityResolver
	}{
		{"signed out", "client-1", &mockIdentityResolver{}},
		{"no client", "", &mockIdentityResolver{}},
		{"resolver error", "client-1", &mockIdentityResolver{
			resolveFn: func(ctx context.Context, clientID string) (*model.Identity, error) {
				return nil, errors.New("restore timed out")
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewRequireIdentityMiddleware(tt.resolver, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, identityRequest(tt.clientID))

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}
