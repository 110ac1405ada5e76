// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/organizer/internal/events"
	"github.com/hitoshi/organizer/internal/middleware"
	"github.com/hitoshi/organizer/internal/model"
)

// errorBody はJSONレスポンスに埋め込むエラー表現。
type errorBody = middleware.ErrorResponseBody

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// errorMapping はエラーからHTTPステータス、エラーコード、カテゴリへの対応を表す。
type errorMapping struct {
	status   int
	code     string
	category string
}

// mapError はドメインエラーをAPIエラーに対応付ける。
// 対応しないエラーはokがfalseになる。
func mapError(err error) (m errorMapping, ok bool) {
	var validationErr *model.ValidationError
	if errors.As(err, &validationErr) {
		return errorMapping{http.StatusBadRequest, validationCode(validationErr.Reason), "validation"}, true
	}

	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		return authErrorMapping(authErr), true
	}

	var repoErr *model.RepositoryError
	if errors.As(err, &repoErr) {
		code := model.ErrCodeCreateFailed
		switch repoErr.Op {
		case model.RepoOpDelete:
			code = model.ErrCodeDeleteFailed
		case model.RepoOpSubscribe:
			code = model.ErrCodeSubscribeFailed
		}
		return errorMapping{http.StatusBadGateway, code, "event"}, true
	}

	if errors.Is(err, events.ErrNoOwner) {
		return errorMapping{http.StatusUnauthorized, model.ErrCodeUnauthorized, "auth"}, true
	}

	return errorMapping{}, false
}

func validationCode(reason model.ValidationReason) string {
	switch reason {
	case model.ValidationNameRequired:
		return model.ErrCodeNameRequired
	case model.ValidationLocationRequired:
		return model.ErrCodeLocationRequired
	case model.ValidationDateRequired:
		return model.ErrCodeDateRequired
	case model.ValidationDateInvalid:
		return model.ErrCodeDateInvalid
	case model.ValidationDateInPast:
		return model.ErrCodeDateInPast
	case model.ValidationNameTooLong:
		return model.ErrCodeNameTooLong
	case model.ValidationLocationTooLong:
		return model.ErrCodeLocationTooLong
	case model.ValidationMarkup:
		return model.ErrCodeMarkupNotAllowed
	default:
		return model.ErrCodeInvalidRequest
	}
}

func authErrorMapping(err *model.AuthError) errorMapping {
	switch err.Reason {
	case model.AuthReasonInvalidCode:
		return errorMapping{http.StatusBadRequest, model.ErrCodeInvalidOTP, "auth"}
	case model.AuthReasonInvalidPhone:
		return errorMapping{http.StatusBadRequest, model.ErrCodeInvalidPhone, "auth"}
	case model.AuthReasonSignInInProgress:
		return errorMapping{http.StatusConflict, model.ErrCodeSignInInProgress, "auth"}
	case model.AuthReasonLogoutFailed:
		return errorMapping{http.StatusBadGateway, model.ErrCodeLogoutFailed, "auth"}
	}
	if err.Provider == model.AuthProviderPhone {
		return errorMapping{http.StatusUnauthorized, model.ErrCodePhoneSignIn, "auth"}
	}
	return errorMapping{http.StatusUnauthorized, model.ErrCodeGoogleSignIn, "auth"}
}

// describeError はエラーをAccept-Languageに応じたエラー表現に変換する。
// errがnilの場合はnilを返す。
func describeError(r *http.Request, messages middleware.Translator, err error) *errorBody {
	if err == nil {
		return nil
	}
	m, ok := mapError(err)
	if !ok {
		m = errorMapping{http.StatusInternalServerError, model.ErrCodeInternal, "system"}
	}
	apiErr := middleware.LocalizedError(r, messages, m.code, m.category)
	return &errorBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// handleServiceError はドメイン層から返されたエラーを適切なHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, messages middleware.Translator, err error) {
	m, ok := mapError(err)
	if !ok {
		slog.Error("internal server error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteLocalizedError(w, r, messages, m.status, m.code, m.category)
}

// writeInvalidRequest は400 INVALID_REQUESTを書き込む。
func writeInvalidRequest(w http.ResponseWriter, r *http.Request, messages middleware.Translator) {
	middleware.WriteLocalizedError(w, r, messages, http.StatusBadRequest, model.ErrCodeInvalidRequest, "validation")
}

// identityResponse はIdentityのJSON表現。未設定の任意項目はnullになる。
type identityResponse struct {
	UID         string  `json:"uid"`
	DisplayName *string `json:"displayName"`
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phoneNumber"`
	PhotoURL    *string `json:"photoURL"`
}

func toIdentityResponse(identity *model.Identity) *identityResponse {
	if identity == nil {
		return nil
	}
	return &identityResponse{
		UID:         identity.ID,
		DisplayName: optional(identity.DisplayName),
		Email:       optional(identity.Email),
		PhoneNumber: optional(identity.PhoneNumber),
		PhotoURL:    optional(identity.PhotoURL),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
