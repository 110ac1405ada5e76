package auth

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/organizer/internal/model"
)

// restoreTimeout はクライアント生成時のセッション復元のタイムアウト。
const restoreTimeout = 10 * time.Second

// Client はブラウザクライアント1つに対応するIdPのハンドル。
// 認証状態の変化（サインイン、サインアウト、トークン更新、セッション復元）を
// 登録されたオブザーバーへ到着順に1件ずつ通知する。
type Client struct {
	backend  *Backend
	clientID string
	logger   *slog.Logger

	mu          sync.Mutex
	account     *model.Account
	sessionID   string
	token       string
	tokenExpiry time.Time
	initialized bool
	observers   map[uint64]func(*model.Identity)
	nextID      uint64
	queue       []notification

	ready     chan struct{}
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// notification は配信待ちの通知。targetsは登録時点のオブザーバー。
type notification struct {
	identity *model.Identity
	targets  []uint64
}

// NewClient はクライアントIDに対応するClientを生成し、永続化されたセッションの復元を開始する。
// 復元の完了が最初の通知となる。
func (b *Backend) NewClient(clientID string) *Client {
	c := &Client{
		backend:   b,
		clientID:  clientID,
		logger:    b.logger.With(slog.String("client_id", clientID)),
		observers: make(map[uint64]func(*model.Identity)),
		ready:     make(chan struct{}),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

// ClientID はクライアントIDを返す。
func (c *Client) ClientID() string {
	return c.clientID
}

// OnAuthStateChanged は認証状態のオブザーバーを登録し、登録解除関数を返す。
// 初期化済みの場合は現在の状態を一度だけ通知する。
func (c *Client) OnAuthStateChanged(fn func(*model.Identity)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.observers[id] = fn
	if c.initialized {
		c.enqueueLocked(notification{identity: c.identityLocked(), targets: []uint64{id}})
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

// SignInWithGoogle はGoogleの認可コードでサインインする。
func (c *Client) SignInWithGoogle(ctx context.Context, code string) (*model.Identity, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}
	account, err := c.backend.signInWithGoogle(ctx, code)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, account)
}

// CreateUserWithEmailAndPassword はパスワードアカウントを作成してサインインする。
// 既に存在する場合はErrEmailAlreadyInUseを返す。
func (c *Client) CreateUserWithEmailAndPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}
	account, err := c.backend.createPasswordAccount(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, account)
}

// SignInWithEmailAndPassword はパスワードアカウントでサインインする。
func (c *Client) SignInWithEmailAndPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}
	account, err := c.backend.verifyPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, account)
}

// SignOut はセッションを破棄し、未認証状態を通知する。
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	if err := c.backend.closeSession(ctx, c.clientID); err != nil {
		return err
	}

	c.mu.Lock()
	c.account = nil
	c.sessionID = ""
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.enqueueLocked(c.broadcastLocked(nil))
	c.mu.Unlock()

	c.logger.Info("signed out")
	return nil
}

// IDToken は現在のIDトークンを返す。
// 有効期限を過ぎている場合は再発行してセッションを延長し、トークン更新を通知する。
func (c *Client) IDToken(ctx context.Context) (string, error) {
	if err := c.waitReady(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	account, sessionID := c.account, c.sessionID
	if account == nil {
		c.mu.Unlock()
		return "", ErrNotSignedIn
	}
	if c.token != "" && c.backend.now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	if err := c.backend.extendSession(ctx, sessionID); err != nil {
		return "", err
	}
	token, expiry, err := c.backend.tokens.Issue(account)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.account == nil || c.account.ID != account.ID {
		return "", ErrNotSignedIn
	}
	c.token = token
	c.tokenExpiry = expiry
	c.enqueueLocked(c.broadcastLocked(account.Identity()))
	return token, nil
}

// Close は通知の配信を停止する。永続化されたセッションは破棄しない。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// establish はセッションとIDトークンを発行し、サインインを通知する。
func (c *Client) establish(ctx context.Context, account *model.Account) (*model.Identity, error) {
	session, err := c.backend.openSession(ctx, c.clientID, account.ID)
	if err != nil {
		return nil, err
	}
	token, expiry, err := c.backend.tokens.Issue(account)
	if err != nil {
		return nil, err
	}

	identity := account.Identity()

	c.mu.Lock()
	c.account = account
	c.sessionID = session.ID
	c.token = token
	c.tokenExpiry = expiry
	c.enqueueLocked(c.broadcastLocked(identity))
	c.mu.Unlock()

	c.logger.Info("signed in",
		slog.String("account_id", account.ID),
		slog.String("provider", account.Provider),
	)
	return identity, nil
}

func (c *Client) waitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) run() {
	c.restore()
	close(c.ready)

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}
		n := c.queue[0]
		c.queue = c.queue[1:]
		fns := make([]func(*model.Identity), 0, len(n.targets))
		for _, id := range n.targets {
			if fn, ok := c.observers[id]; ok {
				fns = append(fns, fn)
			}
		}
		c.mu.Unlock()

		for _, fn := range fns {
			fn(n.identity)
		}

		select {
		case <-c.done:
			return
		default:
		}
	}
}

// restore は永続化されたセッションを読み込み、最初の通知をキューに積む。
// 読み込みに失敗した場合は未認証として扱う。
func (c *Client) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()

	account, session, err := c.backend.restoreSession(ctx, c.clientID)
	if err != nil {
		c.logger.Warn("failed to restore session", slog.String("error", err.Error()))
		account, session = nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var identity *model.Identity
	if account != nil {
		c.account = account
		c.sessionID = session.ID
		identity = account.Identity()
	}
	c.initialized = true
	c.enqueueLocked(c.broadcastLocked(identity))
}

func (c *Client) identityLocked() *model.Identity {
	if c.account == nil {
		return nil
	}
	return c.account.Identity()
}

func (c *Client) broadcastLocked(identity *model.Identity) notification {
	targets := make([]uint64, 0, len(c.observers))
	for id := range c.observers {
		targets = append(targets, id)
	}
	slices.Sort(targets)
	return notification{identity: identity, targets: targets}
}

func (c *Client) enqueueLocked(n notification) {
	c.queue = append(c.queue, n)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
