package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/organizer/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	SignInRate      rate.Limit    // サインイン操作のレート（req/sec）
	SignInBurst     int           // サインイン操作のバーストサイズ
	AddressRate     rate.Limit    // 接続元アドレスごとの全体レート（req/sec）
	AddressBurst    int           // 接続元アドレスごとのバーストサイズ。0以下で無効
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/client、サインイン 10 req/min/client、接続元ごとに 600 req/min。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 10, 600)
}

// NewRateLimiterConfig は1分あたりの上限からレート制限設定を生成する。
func NewRateLimiterConfig(generalPerMinute, signInPerMinute, addressPerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMinute) / 60.0),
		GeneralBurst:    generalPerMinute,
		SignInRate:      rate.Limit(float64(signInPerMinute) / 60.0),
		SignInBurst:     signInPerMinute,
		AddressRate:     rate.Limit(float64(addressPerMinute) / 60.0),
		AddressBurst:    addressPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// RejectionRecorder はレート制限による拒否を記録するインターフェース。
type RejectionRecorder interface {
	RecordRateLimited(limitType string)
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は種類ごとのクライアント別リミッター集合。
type limiterSet struct {
	limit rate.Limit
	burst int

	mu       sync.RWMutex
	limiters map[string]*clientLimiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
}

// get はクライアントのリミッターを取得または作成する。
func (s *limiterSet) get(clientID string) *rate.Limiter {
	s.mu.RLock()
	cl, exists := s.limiters[clientID]
	s.mu.RUnlock()

	if exists {
		s.mu.Lock()
		cl.lastAccess = time.Now()
		s.mu.Unlock()
		return cl.limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ダブルチェック
	if cl, exists := s.limiters[clientID]; exists {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(s.limit, s.burst)
	s.limiters[clientID] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

func (s *limiterSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// evict は最終アクセスからttl以上経過したエントリを削除する。
func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for clientID, cl := range s.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(s.limiters, clientID)
		}
	}
}

// RateLimiter はクライアントごと、接続元アドレスごとのレート制限を管理する。
// サインイン操作はクライアントと接続元アドレスの両方で制限する。
type RateLimiter struct {
	config   RateLimiterConfig
	recorder RejectionRecorder

	general       *limiterSet
	signIn        *limiterSet
	signInAddress *limiterSet
	address       *limiterSet

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet(config.GeneralRate, config.GeneralBurst),
		signIn:  newLimiterSet(config.SignInRate, config.SignInBurst),
		stopCh:  make(chan struct{}),

		signInAddress: newLimiterSet(config.SignInRate, config.SignInBurst),
		address:       newLimiterSet(config.AddressRate, config.AddressBurst),
	}

	go rl.cleanupLoop()

	return rl
}

// SetRecorder は拒否の記録先を設定する。
func (rl *RateLimiter) SetRecorder(recorder RejectionRecorder) {
	rl.recorder = recorder
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにクライアントIDが含まれている必要がある（ClientMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, "general")
}

// SignInMiddleware はサインイン操作専用のレート制限ミドルウェアを返す。
// 接続元アドレス単位で先に制限するため、Cookieを送らないクライアントも制限される。
func (rl *RateLimiter) SignInMiddleware() func(next http.Handler) http.Handler {
	byAddress := rl.addressMiddleware(rl.signInAddress, "sign_in")
	byClient := rl.middleware(rl.signIn, "sign_in")
	return func(next http.Handler) http.Handler {
		return byAddress(byClient(next))
	}
}

// AddressMiddleware は接続元アドレスごとの全体レート制限ミドルウェアを返す。
// クライアントIDの発行より前に配置する。
func (rl *RateLimiter) AddressMiddleware() func(next http.Handler) http.Handler {
	if rl.config.AddressBurst <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.addressMiddleware(rl.address, "address")
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// SignInLimiterCount は現在管理されているサインインリミッターのエントリ数を返す。
func (rl *RateLimiter) SignInLimiterCount() int {
	return rl.signIn.len()
}

// AddressLimiterCount は現在管理されている接続元アドレスのエントリ数を返す。
func (rl *RateLimiter) AddressLimiterCount() int {
	return rl.address.len()
}

func (rl *RateLimiter) middleware(set *limiterSet, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, err := ClientIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusBadRequest, LocalizedError(r, nil, model.ErrCodeInvalidRequest, "system"))
				return
			}

			if !set.get(clientID).Allow() {
				rl.reject(w, set, limitType, slog.String("client_id", clientID))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) addressMiddleware(set *limiterSet, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := remoteAddress(r)
			if !set.get(addr).Allow() {
				rl.reject(w, set, limitType, slog.String("remote_addr", addr))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) reject(w http.ResponseWriter, set *limiterSet, limitType string, key slog.Attr) {
	writeRateLimitResponse(w, set.limit)
	slog.Warn("rate limit exceeded", key, slog.String("limit_type", limitType))
	if rl.recorder != nil {
		rl.recorder.RecordRateLimited(limitType)
	}
}

// remoteAddress はリクエストの接続元ホストを返す。ポートは含めない。
func remoteAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	rl.general.evict(now, ttl)
	rl.signIn.evict(now, ttl)
	rl.signInAddress.evict(now, ttl)
	rl.address.evict(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "rate_limit_exceeded",
		"message":  "Too many requests. Please try again later.",
		"category": "system",
		"action":   "Please wait and retry after the specified time.",
	})
}
