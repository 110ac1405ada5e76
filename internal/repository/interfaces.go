// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/organizer/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate record")

// AccountRepository はIdPアカウントの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByProviderUserID はproviderとprovider_user_idでアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Account, error)

	// FindPasswordAccountByEmail はパスワードアカウントをメールアドレスで検索する。
	// 見つからない場合はnilを返す。
	FindPasswordAccountByEmail(ctx context.Context, email string) (*model.Account, error)

	// Create はアカウントを作成し、採番されたIDとタイムスタンプを設定する。
	// 一意制約に違反した場合はErrDuplicateを返す。
	Create(ctx context.Context, account *model.Account) error

	// UpdateProfile は表示名、メールアドレス、写真URLを更新する。
	UpdateProfile(ctx context.Context, account *model.Account) error
}

// ProviderSessionRepository はクライアント単位のIdPセッションの永続化インターフェース。
type ProviderSessionRepository interface {
	// Upsert はクライアントのセッションを作成または置き換える。
	Upsert(ctx context.Context, session *model.ProviderSession) error

	// FindByClientID はクライアントの有効なセッションを取得する。期限切れの場合はnilを返す。
	FindByClientID(ctx context.Context, clientID string) (*model.ProviderSession, error)

	// Extend はセッションの有効期限を延長する。
	Extend(ctx context.Context, id string, expiresAt time.Time) error

	// DeleteByClientID はクライアントのセッションを削除する。
	DeleteByClientID(ctx context.Context, clientID string) error
}

// ProfileRepository はプロフィール（usersテーブル）の永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定UIDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, uid string) (*model.Profile, error)

	// Create はプロフィールを作成する。
	// 同じUIDが既に存在する場合はlast_login_atのみを更新する。
	Create(ctx context.Context, profile *model.Profile) error

	// UpdateLastLogin はlast_login_atのみを更新する。
	UpdateLastLogin(ctx context.Context, uid string, at time.Time) error
}

// EventRepository はイベントの永続化インターフェース。
type EventRepository interface {
	// Create はイベントを作成し、採番されたIDを設定する。
	Create(ctx context.Context, event *model.Event) error

	// ListByOrganizer は主催者のイベントをcreated_at降順で返す。
	ListByOrganizer(ctx context.Context, organizerID string) ([]model.Event, error)

	// DeleteByID は指定IDのイベントを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
}
