package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hitoshi/organizer/internal/dashboard"
	"github.com/hitoshi/organizer/internal/middleware"
	"github.com/hitoshi/organizer/internal/model"
)

// ClientRegistry はブラウザクライアントごとのオブジェクト群を提供するインターフェース。
type ClientRegistry interface {
	Get(clientID string) (*dashboard.Client, error)
	Hold(c *dashboard.Client) func()
}

// clientFromRequest はクライアントミドルウェアが注入したクライアントIDに対応するClientを返す。
func clientFromRequest(clients ClientRegistry, r *http.Request) (*dashboard.Client, error) {
	clientID, err := middleware.ClientIDFromContext(r.Context())
	if err != nil {
		return nil, err
	}
	return clients.Get(clientID)
}

// writeClientError はクライアント取得の失敗をレスポンスに書き込む。
func writeClientError(w http.ResponseWriter, r *http.Request, messages middleware.Translator, err error) {
	if errors.Is(err, dashboard.ErrClosed) {
		middleware.WriteLocalizedError(w, r, messages, http.StatusServiceUnavailable, model.ErrCodeInternal, "system")
		return
	}
	writeInvalidRequest(w, r, messages)
}

// signedInClientFromRequest はIdPセッションを持ちうるクライアントを返す。
// このリクエストでクライアントIDが発行された場合はClientを生成せずnilを返す。
func signedInClientFromRequest(clients ClientRegistry, r *http.Request) (*dashboard.Client, error) {
	if middleware.IsNewClient(r.Context()) {
		if _, err := middleware.ClientIDFromContext(r.Context()); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return clientFromRequest(clients, r)
}

// IdentityResolver はClientRegistryをmiddleware.IdentityResolverに適合させる。
type IdentityResolver struct {
	clients ClientRegistry
}

// NewIdentityResolver はIdentityResolverを生成する。
func NewIdentityResolver(clients ClientRegistry) *IdentityResolver {
	return &IdentityResolver{clients: clients}
}

// ResolveIdentity はセッションの復元を待ってから現在のIdentityを返す。
func (r *IdentityResolver) ResolveIdentity(ctx context.Context, clientID string) (*model.Identity, error) {
	if middleware.IsNewClient(ctx) {
		return nil, nil
	}
	c, err := r.clients.Get(clientID)
	if err != nil {
		return nil, err
	}
	if err := c.Session.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for session restore: %w", err)
	}
	return c.Session.State().Identity, nil
}

var _ middleware.IdentityResolver = (*IdentityResolver)(nil)
