package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/organizer/internal/config"
	"github.com/hitoshi/organizer/internal/session"
)

// healthTimeout はヘルスチェックでのDB疎通確認の上限。
const healthTimeout = 2 * time.Second

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Health はDB疎通を確認し、結果を返す。
// GET /health
func Health(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// clientConfigResponse はフロントエンドの初期化に必要な公開設定。
type clientConfigResponse struct {
	Backend            config.BackendConfig `json:"backend"`
	DefaultCountryCode string               `json:"defaultCountryCode"`
	DemoOTP            string               `json:"demoOtp"`
	DefaultLocale      string               `json:"defaultLocale"`
}

// ClientConfig はバックエンド接続パラメータと電話番号入力の既定値を返す。
// GET /client-config
func ClientConfig(cfg *config.Config) http.HandlerFunc {
	body := clientConfigResponse{
		Backend:            cfg.Backend,
		DefaultCountryCode: cfg.DefaultCountryCode,
		DemoOTP:            session.DemoOTP,
		DefaultLocale:      cfg.DefaultLocale,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, body)
	}
}
