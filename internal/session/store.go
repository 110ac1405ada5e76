// Package session は現在の認証済みIdentityを保持するセッションストアを提供する。
// Identityの更新はIdPの通知コールバックのみが行い、利用側は参照と購読のみを行う。
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/hitoshi/organizer/internal/auth"
	"github.com/hitoshi/organizer/internal/model"
)

// Provider はセッションストアが依存するIdPのインターフェース。
type Provider interface {
	OnAuthStateChanged(fn func(*model.Identity)) func()
	SignInWithGoogle(ctx context.Context, code string) (*model.Identity, error)
	CreateUserWithEmailAndPassword(ctx context.Context, email, password string) (*model.Identity, error)
	SignInWithEmailAndPassword(ctx context.Context, email, password string) (*model.Identity, error)
	SignOut(ctx context.Context) error
}

// State はセッションストアの状態のスナップショット。
type State struct {
	Identity *model.Identity
	Loading  bool
	Err      *model.AuthError
}

// Store はIdentityスロット、ローディングフラグ、エラースロットを保持する。
// 最初のIdP通知が届くまではLoading=true、Identity=nilとなる。
type Store struct {
	provider Provider
	logger   *slog.Logger

	mu        sync.RWMutex
	state     State
	pending   bool
	observers map[uint64]func(State)
	nextID    uint64

	ready       chan struct{}
	readyOnce   sync.Once
	unsubscribe func()
}

// NewStore はStoreを生成し、IdPの通知を購読する。
// observersはIdPの購読より前に登録され、最初の通知から受け取る。
func NewStore(provider Provider, logger *slog.Logger, observers ...func(State)) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		provider:  provider,
		logger:    logger,
		state:     State{Loading: true},
		observers: make(map[uint64]func(State)),
		ready:     make(chan struct{}),
	}
	for _, fn := range observers {
		if fn == nil {
			continue
		}
		s.nextID++
		s.observers[s.nextID] = fn
	}
	s.unsubscribe = provider.OnAuthStateChanged(s.handleAuthStateChanged)
	return s
}

// State は現在の状態を返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe はIdP通知ごとに発行される状態のオブザーバーを登録し、登録解除関数を返す。
// オブザーバーは通知の到着順に1件ずつ呼び出され、完了するまで次の通知は配信されない。
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// WaitReady は最初のIdP通知が届くまで待機する。
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignInWithGoogle はGoogleの認可コードでサインインする。
// 成功時のIdentityの反映はIdPの通知経由で行われる。
func (s *Store) SignInWithGoogle(ctx context.Context, code string) (*model.Identity, error) {
	if !s.beginSignIn() {
		return nil, model.NewAuthError(model.AuthProviderGoogle, model.AuthReasonSignInInProgress, nil)
	}
	defer s.endSignIn()

	identity, err := s.provider.SignInWithGoogle(ctx, code)
	if err != nil {
		return nil, s.fail(model.NewAuthError(model.AuthProviderGoogle, model.AuthReasonProviderError, err))
	}
	return identity, nil
}

// SignInWithPhone はデモ用OTPで電話番号サインインする。
// codeがDemoOTPと一致しない場合はIdPを呼び出さずに失敗する。
// 合成アカウントの作成を試み、既に存在する場合はサインインに切り替える。
func (s *Store) SignInWithPhone(ctx context.Context, phone, code string) (*model.Identity, error) {
	if !s.beginSignIn() {
		return nil, model.NewAuthError(model.AuthProviderPhone, model.AuthReasonSignInInProgress, nil)
	}
	defer s.endSignIn()

	if code != DemoOTP {
		return nil, s.fail(model.NewAuthError(model.AuthProviderPhone, model.AuthReasonInvalidCode, nil))
	}

	digits := Digits(phone)
	if digits == "" {
		return nil, s.fail(model.NewAuthError(model.AuthProviderPhone, model.AuthReasonInvalidPhone, nil))
	}

	email, password := PhoneCredential(digits)
	identity, err := s.provider.CreateUserWithEmailAndPassword(ctx, email, password)
	if errors.Is(err, auth.ErrEmailAlreadyInUse) {
		identity, err = s.provider.SignInWithEmailAndPassword(ctx, email, password)
	}
	if err != nil {
		return nil, s.fail(model.NewAuthError(model.AuthProviderPhone, model.AuthReasonProviderError, err))
	}
	return identity, nil
}

// Logout はサインアウトする。失敗時はIdentityスロットを変更しない。
func (s *Store) Logout(ctx context.Context) error {
	s.ClearError()

	if err := s.provider.SignOut(ctx); err != nil {
		return s.fail(model.NewAuthError("", model.AuthReasonLogoutFailed, err))
	}
	return nil
}

// ClearError はエラースロットをクリアする。
func (s *Store) ClearError() {
	s.mu.Lock()
	s.state.Err = nil
	s.mu.Unlock()
}

// Close はIdPの通知の購読を解除する。
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// handleAuthStateChanged はIdPの通知コールバック。Identityスロットを更新する唯一の経路。
func (s *Store) handleAuthStateChanged(identity *model.Identity) {
	s.mu.Lock()
	s.state.Identity = identity
	s.state.Loading = false
	snapshot := s.state
	ids := make([]uint64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.observers[id])
	}
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })

	for _, fn := range fns {
		fn(snapshot)
	}
}

// beginSignIn は進行中のサインインが無ければ開始し、エラースロットをクリアする。
func (s *Store) beginSignIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return false
	}
	s.pending = true
	s.state.Err = nil
	return true
}

func (s *Store) endSignIn() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
}

func (s *Store) fail(err *model.AuthError) *model.AuthError {
	s.mu.Lock()
	s.state.Err = err
	s.mu.Unlock()

	s.logger.Warn("authentication failed",
		slog.String("provider", err.Provider),
		slog.String("reason", string(err.Reason)),
		slog.Any("error", err.Err),
	)
	return err
}
