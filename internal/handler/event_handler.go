package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/organizer/internal/events"
	"github.com/hitoshi/organizer/internal/middleware"
	"github.com/hitoshi/organizer/internal/model"
)

// viewWaitTimeout はイベント画面がサインイン中のユーザーに追従するのを待つ上限。
const viewWaitTimeout = 3 * time.Second

// EventHandler はイベント管理のHTTPハンドラー。
type EventHandler struct {
	clients  ClientRegistry
	messages middleware.Translator
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(clients ClientRegistry, messages middleware.Translator) *EventHandler {
	return &EventHandler{clients: clients, messages: messages}
}

// eventListResponse はイベント画面の状態のAPIレスポンス。
type eventListResponse struct {
	Events  []model.Event `json:"events"`
	Loading bool          `json:"loading"`
	Error   *errorBody    `json:"error"`
	Success bool          `json:"success"`
}

func viewResponse(r *http.Request, messages middleware.Translator, st events.ViewState) eventListResponse {
	return eventListResponse{
		Events:  st.Events,
		Loading: st.Loading,
		Error:   describeError(r, messages, st.Err),
		Success: st.Success,
	}
}

// ListEvents はサインイン中の主催者のイベント一覧を作成日時の新しい順に返す。
// GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewResponse(r, h.messages, view.Snapshot()))
}

// CreateEvent はイベントを作成する。
// POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var input model.EventInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeInvalidRequest(w, r, h.messages)
		return
	}

	view, ok := h.view(w, r)
	if !ok {
		return
	}

	event, err := view.Create(r.Context(), input)
	if err != nil {
		handleServiceError(w, r, h.messages, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// DeleteEvent はイベントを削除する。
// DELETE /api/events/{id}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeInvalidRequest(w, r, h.messages)
		return
	}

	view, ok := h.view(w, r)
	if !ok {
		return
	}

	if err := view.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, h.messages, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearError はイベント画面のエラーを消去する。
// DELETE /api/events/error
func (h *EventHandler) ClearError(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}
	view.ClearError()
	w.WriteHeader(http.StatusNoContent)
}

// view はリクエストのクライアントのイベント画面を返す。
// 画面が認証済みユーザーに追従し初回読み込みを終えるまで短時間待つ。
func (h *EventHandler) view(w http.ResponseWriter, r *http.Request) (*events.View, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteLocalizedError(w, r, h.messages, http.StatusUnauthorized, model.ErrCodeUnauthorized, "auth")
		return nil, false
	}
	c, err := clientFromRequest(h.clients, r)
	if err != nil {
		writeClientError(w, r, h.messages, err)
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), viewWaitTimeout)
	defer cancel()
	awaitOwner(ctx, c.Events, userID)
	return c.Events, true
}

// awaitOwner はビューの主催者がuserIDになり、読み込みが完了するまで待つ。
// ctxが終了した場合はその時点で戻る。
func awaitOwner(ctx context.Context, view *events.View, userID string) {
	changes, stop := view.Watch()
	defer stop()

	for {
		st := view.Snapshot()
		if st.OwnerID == userID && !st.Loading {
			return
		}
		select {
		case <-changes:
		case <-ctx.Done():
			return
		}
	}
}
