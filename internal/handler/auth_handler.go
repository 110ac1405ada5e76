package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/organizer/internal/auth"
	"github.com/hitoshi/organizer/internal/middleware"
	"github.com/hitoshi/organizer/internal/model"
	"github.com/hitoshi/organizer/internal/session"
)

const (
	oauthStateCookie = "oauth_state"

	// meWaitTimeout はGET /auth/meでセッション復元を待つ上限。
	meWaitTimeout = 3 * time.Second
)

// LoginURLProvider はGoogle OAuthの認証URLを生成するインターフェース。
type LoginURLProvider interface {
	GetLoginURL(state string) string
}

// SignInRecorder はサインイン試行の結果を記録するインターフェース。
type SignInRecorder interface {
	RecordSignIn(provider string, err error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL            string
	CookieSecure       bool
	DefaultCountryCode string
}

// AuthHandler はサインイン、ログアウト、認証状態のHTTPハンドラー。
type AuthHandler struct {
	clients  ClientRegistry
	oauth    LoginURLProvider
	messages middleware.Translator
	recorder SignInRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(
	clients ClientRegistry,
	oauth LoginURLProvider,
	messages middleware.Translator,
	recorder SignInRecorder,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		clients:  clients,
		oauth:    oauth,
		messages: messages,
		recorder: recorder,
		config:   config,
	}
}

// sessionResponse は認証状態のAPIレスポンス。
type sessionResponse struct {
	User    *identityResponse `json:"user"`
	Loading bool              `json:"loading"`
	Error   *errorBody        `json:"error"`
}

// phoneRequest は電話番号サインインのリクエストボディ。
type phoneRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.oauth.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、セッションストア経由でサインインする。
// 失敗はセッションストアのエラースロットに残り、GET /auth/meで参照できる。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		writeInvalidRequest(w, r, h.messages)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeInvalidRequest(w, r, h.messages)
		return
	}

	c, err := clientFromRequest(h.clients, r)
	if err != nil {
		writeClientError(w, r, h.messages, err)
		return
	}
	release := h.clients.Hold(c)
	defer release()

	_, err = c.Session.SignInWithGoogle(r.Context(), code)
	h.record(model.AuthProviderGoogle, err)

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// SendOTP は電話番号を検証し、デモ用OTPを送信済みとして応答する。
// POST /auth/phone/otp
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, r, h.messages)
		return
	}

	phone := session.FormatPhoneNumber(req.PhoneNumber, h.config.DefaultCountryCode)
	if session.Digits(phone) == "" {
		middleware.WriteLocalizedError(w, r, h.messages, http.StatusBadRequest, model.ErrCodeInvalidPhone, "auth")
		return
	}

	message := phone
	if h.messages != nil {
		message = h.messages.T(r.Header.Get("Accept-Language"), "OTP_SENT", map[string]any{"Phone": phone})
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"phoneNumber": phone,
		"message":     message,
	})
}

// VerifyOTP はOTPを検証し、電話番号でサインインする。
// POST /auth/phone/verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, r, h.messages)
		return
	}

	c, err := clientFromRequest(h.clients, r)
	if err != nil {
		writeClientError(w, r, h.messages, err)
		return
	}
	release := h.clients.Hold(c)
	defer release()

	phone := session.FormatPhoneNumber(req.PhoneNumber, h.config.DefaultCountryCode)
	identity, err := c.Session.SignInWithPhone(r.Context(), phone, req.Code)
	h.record(model.AuthProviderPhone, err)
	if err != nil {
		handleServiceError(w, r, h.messages, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{User: toIdentityResponse(identity)})
}

// Logout はサインアウトする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	c, err := signedInClientFromRequest(h.clients, r)
	if err != nil {
		writeClientError(w, r, h.messages, err)
		return
	}
	if c == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := c.Session.Logout(r.Context()); err != nil {
		handleServiceError(w, r, h.messages, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在の認証状態を返す。セッション復元中の場合は完了を短時間待つ。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	c, err := signedInClientFromRequest(h.clients, r)
	if err != nil {
		writeClientError(w, r, h.messages, err)
		return
	}
	if c == nil {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), meWaitTimeout)
	_ = c.Session.WaitReady(ctx)
	cancel()

	state := c.Session.State()
	resp := sessionResponse{
		User:    toIdentityResponse(state.Identity),
		Loading: state.Loading,
	}
	if state.Err != nil {
		resp.Error = describeError(r, h.messages, state.Err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearError は認証エラーを消去する。
// DELETE /auth/error
func (h *AuthHandler) ClearError(w http.ResponseWriter, r *http.Request) {
	c, err := signedInClientFromRequest(h.clients, r)
	if err != nil {
		writeClientError(w, r, h.messages, err)
		return
	}
	if c == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	c.Session.ClearError()
	w.WriteHeader(http.StatusNoContent)
}

// Token は現在のIDトークンを返す。ライブストリームの接続に使用する。
// GET /auth/token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	c, err := signedInClientFromRequest(h.clients, r)
	if err != nil {
		writeClientError(w, r, h.messages, err)
		return
	}
	if c == nil {
		middleware.WriteLocalizedError(w, r, h.messages, http.StatusUnauthorized, model.ErrCodeUnauthorized, "auth")
		return
	}

	token, err := c.Auth.IDToken(r.Context())
	if err != nil {
		if errors.Is(err, auth.ErrNotSignedIn) {
			middleware.WriteLocalizedError(w, r, h.messages, http.StatusUnauthorized, model.ErrCodeUnauthorized, "auth")
			return
		}
		handleServiceError(w, r, h.messages, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"idToken": token})
}

func (h *AuthHandler) record(provider string, err error) {
	if h.recorder != nil {
		h.recorder.RecordSignIn(provider, err)
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
