package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/hitoshi/organizer/internal/model"
)

// NewRecoveryMiddleware はハンドラー内のpanicを捕捉し、統一フォーマットの500を返すミドルウェアを返す。
// http.ErrAbortHandlerはnet/httpに処理を任せるため再度panicさせる。
func NewRecoveryMiddleware(messages Translator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				WriteLocalizedError(w, r, messages, http.StatusInternalServerError, model.ErrCodeInternal, "system")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
