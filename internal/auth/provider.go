// Package auth は外部IdPとしての認証基盤を提供する。
// アカウント、Google OAuth、パスワード認証、クライアント単位のセッション、IDトークンを扱う。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/organizer/internal/model"
	"github.com/hitoshi/organizer/internal/repository"
)

var (
	// ErrEmailAlreadyInUse はパスワードアカウントが既に存在することを表す。
	ErrEmailAlreadyInUse = errors.New("email already in use")
	// ErrInvalidCredential はメールアドレスまたはパスワードが一致しないことを表す。
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrNotSignedIn はサインインしていないクライアントへの操作を表す。
	ErrNotSignedIn = errors.New("not signed in")
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	PictureURL     string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// BackendConfig はIdPの設定。
type BackendConfig struct {
	SessionMaxAge time.Duration // クライアントセッションの有効期間
	Token         TokenConfig
}

// Backend は全クライアントで共有するIdPの状態を保持する。
type Backend struct {
	oauth    OAuthProvider
	accounts repository.AccountRepository
	sessions repository.ProviderSessionRepository
	hasher   PasswordHasher
	tokens   *TokenIssuer
	config   BackendConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewBackend はBackendを生成する。
func NewBackend(
	oauth OAuthProvider,
	accounts repository.AccountRepository,
	sessions repository.ProviderSessionRepository,
	hasher PasswordHasher,
	config BackendConfig,
	logger *slog.Logger,
) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		oauth:    oauth,
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	b.tokens = NewTokenIssuer(config.Token, func() time.Time { return b.now() })
	return b
}

// GetLoginURL はGoogle OAuthの認証URLを生成する。
func (b *Backend) GetLoginURL(state string) string {
	return b.oauth.GetLoginURL(state)
}

// VerifyIDToken はIDトークンを検証してクレームを返す。
func (b *Backend) VerifyIDToken(token string) (*IDTokenClaims, error) {
	return b.tokens.Verify(token)
}

// signInWithGoogle は認可コードを交換し、対応するアカウントを取得または作成する。
func (b *Backend) signInWithGoogle(ctx context.Context, code string) (*model.Account, error) {
	info, err := b.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	account, err := b.accounts.FindByProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	if account == nil {
		account = &model.Account{
			Provider:       info.Provider,
			ProviderUserID: info.ProviderUserID,
			Email:          info.Email,
			DisplayName:    info.Name,
			PhotoURL:       info.PictureURL,
		}
		if err := b.accounts.Create(ctx, account); err != nil {
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
		b.logger.Info("account created",
			slog.String("account_id", account.ID),
			slog.String("provider", info.Provider),
		)
		return account, nil
	}

	if account.DisplayName != info.Name || account.Email != info.Email || account.PhotoURL != info.PictureURL {
		account.DisplayName = info.Name
		account.Email = info.Email
		account.PhotoURL = info.PictureURL
		if err := b.accounts.UpdateProfile(ctx, account); err != nil {
			return nil, fmt.Errorf("failed to update account: %w", err)
		}
	}
	return account, nil
}

// createPasswordAccount はパスワードアカウントを作成する。
// 既に存在する場合はErrEmailAlreadyInUseを返す。
func (b *Backend) createPasswordAccount(ctx context.Context, email, password string) (*model.Account, error) {
	hash, err := b.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &model.Account{
		Provider:     model.ProviderPassword,
		Email:        email,
		PasswordHash: hash,
	}
	if err := b.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailAlreadyInUse
		}
		return nil, err
	}

	b.logger.Info("account created",
		slog.String("account_id", account.ID),
		slog.String("provider", model.ProviderPassword),
	)
	return account, nil
}

// verifyPassword はメールアドレスとパスワードでアカウントを認証する。
func (b *Backend) verifyPassword(ctx context.Context, email, password string) (*model.Account, error) {
	account, err := b.accounts.FindPasswordAccountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil || !b.hasher.Verify(account.PasswordHash, password) {
		return nil, ErrInvalidCredential
	}
	return account, nil
}

// openSession はクライアントのセッションを発行し永続化する。
func (b *Backend) openSession(ctx context.Context, clientID, accountID string) (*model.ProviderSession, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := b.now()
	session := &model.ProviderSession{
		ID:        id,
		ClientID:  clientID,
		AccountID: accountID,
		ExpiresAt: now.Add(b.config.SessionMaxAge),
		CreatedAt: now,
	}
	if err := b.sessions.Upsert(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// restoreSession は永続化されたセッションからアカウントを復元する。
// セッションが無い場合はnilを返す。
func (b *Backend) restoreSession(ctx context.Context, clientID string) (*model.Account, *model.ProviderSession, error) {
	session, err := b.sessions.FindByClientID(ctx, clientID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil, nil
	}

	account, err := b.accounts.FindByID(ctx, session.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, nil, nil
	}
	return account, session, nil
}

// extendSession はセッションの有効期限を延長する。
func (b *Backend) extendSession(ctx context.Context, sessionID string) error {
	return b.sessions.Extend(ctx, sessionID, b.now().Add(b.config.SessionMaxAge))
}

// closeSession はクライアントのセッションを破棄する。
func (b *Backend) closeSession(ctx context.Context, clientID string) error {
	if err := b.sessions.DeleteByClientID(ctx, clientID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
