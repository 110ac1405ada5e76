// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ClientCookieName はブラウザクライアントを識別するCookieの名前。
const ClientCookieName = "client_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// clientIDContextKey はリクエストコンテキストにクライアントIDを格納するためのキー。
	clientIDContextKey = contextKey("client_id")

	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")

	// newClientContextKey はこのリクエストでクライアントIDを発行したことを示すキー。
	newClientContextKey = contextKey("new_client")
)

// ClientConfig はクライアントCookieの設定。
type ClientConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       int // 秒
}

// NewClientMiddleware はHTTP Only CookieからクライアントIDを読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieが無い、またはUUIDとして解釈できない場合は新しいクライアントIDを発行する。
func NewClientMiddleware(config ClientConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientID := ""
			if cookie, err := r.Cookie(ClientCookieName); err == nil {
				if id, err := uuid.Parse(cookie.Value); err == nil {
					clientID = id.String()
				}
			}

			if clientID == "" {
				clientID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookieName,
					Value:    clientID,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   config.MaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
				ctx = context.WithValue(ctx, newClientContextKey, true)
			}

			ctx = context.WithValue(ctx, clientIDContextKey, clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIDFromContext はリクエストコンテキストからクライアントIDを取得する。
// クライアントミドルウェアを通過したリクエストでのみ有効。
func ClientIDFromContext(ctx context.Context) (string, error) {
	clientID, ok := ctx.Value(clientIDContextKey).(string)
	if !ok || clientID == "" {
		return "", fmt.Errorf("client ID not found in context")
	}
	return clientID, nil
}

// IsNewClient はこのリクエストでクライアントIDが発行されたかどうかを返す。
// 発行直後のクライアントにはIdPセッションが存在しない。
func IsNewClient(ctx context.Context) bool {
	isNew, _ := ctx.Value(newClientContextKey).(bool)
	return isNew
}

// ContextWithClientID はコンテキストにクライアントIDを注入する。
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDContextKey, clientID)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// RequireIdentityミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
