package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/organizer/internal/auth"
	"github.com/hitoshi/organizer/internal/middleware"
	"github.com/hitoshi/organizer/internal/model"
)

const (
	liveWriteWait    = 10 * time.Second
	livePongWait     = 60 * time.Second
	livePingInterval = (livePongWait * 9) / 10
)

// TokenVerifier はIDトークンを検証するインターフェース。
type TokenVerifier interface {
	VerifyIDToken(token string) (*auth.IDTokenClaims, error)
}

// LiveHandlerConfig はライブストリームの設定。
type LiveHandlerConfig struct {
	APIKey        string // ハンドシェイクのkeyと一致しなければならない
	AllowedOrigin string // 空の場合はOriginを検査しない
}

// LiveHandler はイベント画面の状態をWebSocketで配信するハンドラー。
type LiveHandler struct {
	clients  ClientRegistry
	verifier TokenVerifier
	messages middleware.Translator
	config   LiveHandlerConfig
	upgrader websocket.Upgrader
}

// NewLiveHandler はLiveHandlerを生成する。
func NewLiveHandler(clients ClientRegistry, verifier TokenVerifier, messages middleware.Translator, config LiveHandlerConfig) *LiveHandler {
	h := &LiveHandler{
		clients:  clients,
		verifier: verifier,
		messages: messages,
		config:   config,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// liveMessage はWebSocketで送信するイベント画面の状態。
type liveMessage struct {
	Type string `json:"type"`
	eventListResponse
}

// Stream はイベント画面の状態が変わるたびに最新のスナップショットを送信する。
// ハンドシェイクのクエリにid_tokenとkeyが必要。
// GET /api/events/live?id_token=xxx&key=yyy
func (h *LiveHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteLocalizedError(w, r, h.messages, http.StatusUnauthorized, model.ErrCodeUnauthorized, "auth")
		return
	}

	if r.URL.Query().Get("key") != h.config.APIKey {
		slog.Warn("live stream rejected: api key mismatch")
		middleware.WriteLocalizedError(w, r, h.messages, http.StatusUnauthorized, model.ErrCodeUnauthorized, "auth")
		return
	}
	claims, err := h.verifier.VerifyIDToken(r.URL.Query().Get("id_token"))
	if err != nil || claims.Subject != userID {
		slog.Warn("live stream rejected: invalid id token", slog.String("user_id", userID))
		middleware.WriteLocalizedError(w, r, h.messages, http.StatusUnauthorized, model.ErrCodeUnauthorized, "auth")
		return
	}

	c, err := clientFromRequest(h.clients, r)
	if err != nil {
		writeClientError(w, r, h.messages, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		slog.Info("failed to upgrade to websocket", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	release := h.clients.Hold(c)
	defer release()

	changes, stop := c.Events.Watch()
	defer stop()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readPump(conn, cancel)

	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()

	send := func() error {
		msg := liveMessage{Type: "snapshot", eventListResponse: viewResponse(r, h.messages, c.Events.Snapshot())}
		conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		return conn.WriteJSON(msg)
	}

	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-changes:
			if err := send(); err != nil {
				logWriteError(err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logWriteError(err)
				return
			}
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(liveWriteWait))
			return
		}
	}
}

// readPump はクライアントからのメッセージを読み捨て、切断を検知したらcancelを呼ぶ。
func (h *LiveHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("failed to read from websocket", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (h *LiveHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if h.config.AllowedOrigin == "" || origin == "" {
		return true
	}
	return origin == h.config.AllowedOrigin
}

func logWriteError(err error) {
	if _, ok := err.(*websocket.CloseError); !ok {
		slog.Info("failed to write to websocket", slog.String("error", err.Error()))
	}
}
