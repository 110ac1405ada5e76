package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/organizer/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定UIDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, uid string) (*model.Profile, error) {
	var (
		p                      model.Profile
		email, phone, photoURL sql.NullString
		authMethod             string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT uid, display_name, email, phone_number, photo_url, role, auth_method, created_at, last_login_at
		 FROM users WHERE uid = $1`,
		uid,
	).Scan(&p.UID, &p.DisplayName, &email, &phone, &photoURL, &p.Role, &authMethod, &p.CreatedAt, &p.LastLoginAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	p.Email = email.String
	p.PhoneNumber = phone.String
	p.PhotoURL = photoURL.String
	p.AuthMethod = model.AuthMethod(authMethod)
	return &p, nil
}

// Create はプロフィールを作成する。
// 同時サインインで既に作成済みの場合はcreated_atを保持し、last_login_atのみ更新する。
func (r *PostgresProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (uid, display_name, email, phone_number, photo_url, role, auth_method, created_at, last_login_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (uid) DO UPDATE SET last_login_at = EXCLUDED.last_login_at`,
		p.UID, p.DisplayName,
		nullString(p.Email), nullString(p.PhoneNumber), nullString(p.PhotoURL),
		p.Role, string(p.AuthMethod), p.CreatedAt, p.LastLoginAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// UpdateLastLogin はlast_login_atのみを更新する。
func (r *PostgresProfileRepo) UpdateLastLogin(ctx context.Context, uid string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $2 WHERE uid = $1`,
		uid, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
