// Package dashboard はブラウザクライアントごとのセッションストア、プロフィール監視、
// イベントビューを束ね、クライアントIDで管理する。
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/organizer/internal/events"
	"github.com/hitoshi/organizer/internal/profile"
	"github.com/hitoshi/organizer/internal/session"
)

// ErrClosed はClose後のレジストリからクライアントを取得しようとした場合のエラー。
var ErrClosed = errors.New("dashboard: registry closed")

// AuthClient はクライアント1つ分のIdPハンドル。
type AuthClient interface {
	session.Provider
	IDToken(ctx context.Context) (string, error)
	Close()
}

// AuthClientFactory はクライアントIDに対応するAuthClientを生成する。
type AuthClientFactory func(clientID string) AuthClient

// Recorder は管理中のクライアント数を記録するインターフェース。
type Recorder interface {
	SetActiveClients(n int)
}

// Config はレジストリの設定を保持する。
type Config struct {
	IdleTTL         time.Duration // 最終アクセスからこの時間を過ぎたクライアントを破棄する
	CleanupInterval time.Duration // アイドルクライアントの確認間隔
	SuccessDisplay  time.Duration // イベント作成成功フラグの表示時間
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		IdleTTL:         30 * time.Minute,
		CleanupInterval: time.Minute,
		SuccessDisplay:  events.DefaultSuccessDisplay,
	}
}

// Client はブラウザクライアント1つ分のオブジェクト群。
type Client struct {
	ID      string
	Auth    AuthClient
	Session *session.Store
	Events  *events.View

	mu       sync.Mutex
	lastSeen time.Time
	holds    int
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *Client) idle(now time.Time, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holds == 0 && now.Sub(c.lastSeen) > ttl
}

func (c *Client) close() {
	c.Session.Close()
	c.Auth.Close()
	c.Events.Close()
}

// Registry はクライアントIDごとのClientを管理する。
type Registry struct {
	config       Config
	newAuth      AuthClientFactory
	bootstrapper *profile.Bootstrapper
	repo         *events.Repository
	recorder     Recorder
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRegistry はRegistryを生成し、アイドルクライアントの破棄を開始する。
// recorderはnilでもよい。
func NewRegistry(
	config Config,
	newAuth AuthClientFactory,
	bootstrapper *profile.Bootstrapper,
	repo *events.Repository,
	recorder Recorder,
	logger *slog.Logger,
) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		config:       config,
		newAuth:      newAuth,
		bootstrapper: bootstrapper,
		repo:         repo,
		recorder:     recorder,
		logger:       logger,
		now:          time.Now,
		clients:      make(map[string]*Client),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Get はクライアントIDに対応するClientを返す。存在しない場合は生成する。
// 生成されたClientは永続化されたIdPセッションの復元を開始する。
// Close後はClientを生成せずErrClosedを返す。
func (r *Registry) Get(clientID string) (*Client, error) {
	now := r.now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := r.clients[clientID]; ok {
		r.mu.Unlock()
		c.touch(now)
		return c, nil
	}
	c := r.build(clientID)
	c.lastSeen = now
	r.clients[clientID] = c
	n := len(r.clients)
	r.mu.Unlock()

	r.record(n)
	r.logger.Debug("dashboard client created", slog.String("client_id", clientID))
	return c, nil
}

// Hold はクライアントをアイドル破棄の対象外にする。返り値の関数で解除する。
// ライブ配信の接続中に使用する。
func (r *Registry) Hold(c *Client) func() {
	c.mu.Lock()
	c.holds++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.holds--
			c.mu.Unlock()
			c.touch(r.now())
		})
	}
}

// Len は管理中のクライアント数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close は全てのクライアントを破棄し、バックグラウンド処理を停止する。
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh

	for _, c := range clients {
		c.close()
	}
	r.record(0)
}

// build はClientのオブジェクト群を生成して結線する。
// プロフィール監視とイベントビューはIdPの購読より前に登録し、復元の通知を取りこぼさない。
// プロフィール監視をイベントビューより先に呼び出す。
func (r *Registry) build(clientID string) *Client {
	ac := r.newAuth(clientID)
	logger := r.logger.With(slog.String("client_id", clientID))
	view := events.NewView(r.repo, r.config.SuccessDisplay)

	var observers []func(session.State)
	if r.bootstrapper != nil {
		observers = append(observers, r.bootstrapper.Observe)
	}
	observers = append(observers, func(st session.State) {
		view.SetOwner(st.Identity)
	})

	return &Client{
		ID:      clientID,
		Auth:    ac,
		Session: session.NewStore(ac, logger, observers...),
		Events:  view,
	}
}

// evictIdle はアイドル状態のクライアントを破棄する。
func (r *Registry) evictIdle() {
	now := r.now()

	r.mu.Lock()
	var evicted []*Client
	for id, c := range r.clients {
		if c.idle(now, r.config.IdleTTL) {
			evicted = append(evicted, c)
			delete(r.clients, id)
		}
	}
	n := len(r.clients)
	r.mu.Unlock()

	if len(evicted) == 0 {
		return
	}
	for _, c := range evicted {
		c.close()
	}
	r.record(n)
	r.logger.Info("evicted idle dashboard clients",
		slog.Int("evicted", len(evicted)),
		slog.Int("remaining", n),
	)
}

func (r *Registry) cleanupLoop() {
	defer close(r.doneCh)

	interval := r.config.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) record(n int) {
	if r.recorder != nil {
		r.recorder.SetActiveClients(n)
	}
}
