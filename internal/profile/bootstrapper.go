// Package profile はサインインしたIdentityごとのプロフィールレコードを保証する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/organizer/internal/model"
	"github.com/hitoshi/organizer/internal/repository"
	"github.com/hitoshi/organizer/internal/session"
)

const (
	// DefaultDisplayName は表示名を持たないIdentityのプロフィール表示名。
	DefaultDisplayName = "User"

	phoneDisplayNamePrefix = "Phone User "

	ensureTimeout = 10 * time.Second
)

// StateSource はセッションストアの購読インターフェース。
type StateSource interface {
	Subscribe(fn func(session.State)) func()
}

// Recorder はプロフィール作成／更新の結果を記録するインターフェース。
type Recorder interface {
	RecordProfileEnsured(created bool, err error)
}

// Bootstrapper はサインインのたびにプロフィールを作成または更新する。
type Bootstrapper struct {
	profiles repository.ProfileRepository
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewBootstrapper はBootstrapperを生成する。recorderはnilでもよい。
func NewBootstrapper(profiles repository.ProfileRepository, recorder Recorder, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{
		profiles: profiles,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Attach はセッションストアを購読し、Identityを含む通知ごとにEnsureを実行する。
// 失敗はログに記録し、呼び出し元へは伝播しない。返り値は購読解除関数。
func (b *Bootstrapper) Attach(source StateSource) func() {
	return source.Subscribe(b.Observe)
}

// Observe はセッション状態のオブザーバー。Identityを含む場合にEnsureを実行する。
func (b *Bootstrapper) Observe(st session.State) {
	if st.Identity == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ensureTimeout)
	defer cancel()
	if err := b.Ensure(ctx, st.Identity); err != nil {
		b.logger.Error("failed to ensure profile",
			slog.String("uid", st.Identity.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Ensure はプロフィールが無ければ作成し、あればlast_login_atのみを更新する。
func (b *Bootstrapper) Ensure(ctx context.Context, identity *model.Identity) (err error) {
	created := false
	defer func() {
		if b.recorder != nil {
			b.recorder.RecordProfileEnsured(created, err)
		}
	}()

	existing, err := b.profiles.FindByID(ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}

	now := b.now()
	if existing != nil {
		if err := b.profiles.UpdateLastLogin(ctx, identity.ID, now); err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		return nil
	}

	p := DeriveProfile(identity, now)
	if err := b.profiles.Create(ctx, p); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	created = true

	b.logger.Info("profile created",
		slog.String("uid", p.UID),
		slog.String("auth_method", string(p.AuthMethod)),
	)
	return nil
}

// Get は指定UIDのプロフィールを返す。見つからない場合はnilを返す。
func (b *Bootstrapper) Get(ctx context.Context, uid string) (*model.Profile, error) {
	return b.profiles.FindByID(ctx, uid)
}

// DeriveProfile はIdentityから新規プロフィールを組み立てる。
// 電話番号デモアカウントは"Phone User <下4桁>"と"+<数字>"の電話番号を持ち、メールアドレスは持たない。
func DeriveProfile(identity *model.Identity, now time.Time) *model.Profile {
	p := &model.Profile{
		UID:         identity.ID,
		PhotoURL:    identity.PhotoURL,
		Role:        model.RoleOrganizer,
		CreatedAt:   now,
		LastLoginAt: now,
	}

	if digits, ok := session.PhoneDigitsFromEmail(identity.Email); ok {
		p.DisplayName = phoneDisplayNamePrefix + lastDigits(digits, 4)
		p.PhoneNumber = "+" + digits
		p.AuthMethod = model.AuthMethodPhone
		return p
	}

	p.DisplayName = identity.DisplayName
	if p.DisplayName == "" {
		p.DisplayName = DefaultDisplayName
	}
	p.Email = identity.Email
	p.PhoneNumber = identity.PhoneNumber
	p.AuthMethod = model.AuthMethodGoogle
	return p
}

func lastDigits(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
