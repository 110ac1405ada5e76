package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/organizer/internal/model"
)

// identityWaitTimeout はセッション復元の完了を待つ上限。
const identityWaitTimeout = 5 * time.Second

// IdentityResolver はクライアントIDから現在のIdentityを解決するインターフェース。
// セッション復元中の場合は完了まで待機する。未認証の場合はnilを返す。
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, clientID string) (*model.Identity, error)
}

// NewRequireIdentityMiddleware は認証済みのIdentityを要求するミドルウェアを返す。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを統一エラーフォーマットで返す。
func NewRequireIdentityMiddleware(resolver IdentityResolver, messages Translator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, err := ClientIDFromContext(r.Context())
			if err != nil {
				WriteLocalizedError(w, r, messages, http.StatusUnauthorized, model.ErrCodeUnauthorized, "auth")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), identityWaitTimeout)
			identity, err := resolver.ResolveIdentity(ctx, clientID)
			cancel()
			if err != nil {
				slog.Error("failed to resolve identity",
					slog.String("client_id", clientID),
					slog.String("error", err.Error()),
				)
				WriteLocalizedError(w, r, messages, http.StatusUnauthorized, model.ErrCodeUnauthorized, "auth")
				return
			}
			if identity == nil {
				WriteLocalizedError(w, r, messages, http.StatusUnauthorized, model.ErrCodeUnauthorized, "auth")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), identity.ID)))
		})
	}
}
