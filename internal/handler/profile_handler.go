package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/organizer/internal/middleware"
	"github.com/hitoshi/organizer/internal/model"
)

// ProfileReader はプロフィールを取得するインターフェース。
type ProfileReader interface {
	Get(ctx context.Context, uid string) (*model.Profile, error)
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	profiles ProfileReader
	messages middleware.Translator
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(profiles ProfileReader, messages middleware.Translator) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, messages: messages}
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	UID         string    `json:"uid"`
	DisplayName string    `json:"displayName"`
	Email       *string   `json:"email"`
	PhoneNumber *string   `json:"phoneNumber"`
	PhotoURL    *string   `json:"photoURL"`
	Role        string    `json:"role"`
	AuthMethod  string    `json:"authMethod"`
	CreatedAt   time.Time `json:"createdAt"`
	LastLoginAt time.Time `json:"lastLoginAt"`
}

// GetProfile はサインイン中のユーザーのプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteLocalizedError(w, r, h.messages, http.StatusUnauthorized, model.ErrCodeUnauthorized, "auth")
		return
	}

	p, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, h.messages, err)
		return
	}
	if p == nil {
		middleware.WriteLocalizedError(w, r, h.messages, http.StatusNotFound, model.ErrCodeProfileNotFound, "auth")
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		UID:         p.UID,
		DisplayName: p.DisplayName,
		Email:       optional(p.Email),
		PhoneNumber: optional(p.PhoneNumber),
		PhotoURL:    optional(p.PhotoURL),
		Role:        p.Role,
		AuthMethod:  string(p.AuthMethod),
		CreatedAt:   p.CreatedAt,
		LastLoginAt: p.LastLoginAt,
	})
}
