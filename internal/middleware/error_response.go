package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/organizer/internal/model"
)

// Translator はエラーコードからユーザー向けメッセージを引くインターフェース。
// メッセージIDは<CODE>、対処方法は<CODE>_ACTIONとする。
type Translator interface {
	T(locale, key string, data map[string]any) string
}

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// LocalizedError はリクエストのAccept-Languageに応じたAPIErrorを組み立てる。
// translatorがnilの場合はエラーコードをそのままメッセージとする。
func LocalizedError(r *http.Request, translator Translator, code, category string) *model.APIError {
	apiErr := &model.APIError{Code: code, Message: code, Category: category}
	if translator == nil {
		return apiErr
	}
	locale := r.Header.Get("Accept-Language")
	apiErr.Message = translator.T(locale, code, nil)
	apiErr.Action = translator.T(locale, code+"_ACTION", nil)
	return apiErr
}

// WriteLocalizedError はAccept-Languageに応じたメッセージで統一エラーレスポンスを書き込む。
func WriteLocalizedError(w http.ResponseWriter, r *http.Request, translator Translator, statusCode int, code, category string) {
	WriteErrorResponse(w, statusCode, LocalizedError(r, translator, code, category))
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "Something went wrong.",
		Category: "system",
		Action:   "Please try again in a moment.",
	})
}
