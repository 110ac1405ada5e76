package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/organizer/internal/model"
)

// PostgresProviderSessionRepo はPostgreSQLを使用したIdPセッションリポジトリ。
type PostgresProviderSessionRepo struct {
	db *sql.DB
}

// NewPostgresProviderSessionRepo はPostgresProviderSessionRepoを生成する。
func NewPostgresProviderSessionRepo(db *sql.DB) *PostgresProviderSessionRepo {
	return &PostgresProviderSessionRepo{db: db}
}

// Upsert はクライアントのセッションを作成または置き換える。
func (r *PostgresProviderSessionRepo) Upsert(ctx context.Context, session *model.ProviderSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO provider_sessions (id, client_id, account_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (client_id) DO UPDATE
		 SET id = EXCLUDED.id,
		     account_id = EXCLUDED.account_id,
		     expires_at = EXCLUDED.expires_at,
		     created_at = EXCLUDED.created_at`,
		session.ID, session.ClientID, session.AccountID, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider session: %w", err)
	}
	return nil
}

// FindByClientID はクライアントの有効なセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresProviderSessionRepo) FindByClientID(ctx context.Context, clientID string) (*model.ProviderSession, error) {
	s := &model.ProviderSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, client_id, account_id, expires_at, created_at
		 FROM provider_sessions
		 WHERE client_id = $1 AND expires_at > now()`,
		clientID,
	).Scan(&s.ID, &s.ClientID, &s.AccountID, &s.ExpiresAt, &s.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find provider session: %w", err)
	}
	return s, nil
}

// Extend はセッションの有効期限を延長する。
func (r *PostgresProviderSessionRepo) Extend(ctx context.Context, id string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE provider_sessions SET expires_at = $2 WHERE id = $1`,
		id, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to extend provider session: %w", err)
	}
	return nil
}

// DeleteByClientID はクライアントのセッションを削除する。
func (r *PostgresProviderSessionRepo) DeleteByClientID(ctx context.Context, clientID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM provider_sessions WHERE client_id = $1`,
		clientID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete provider session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProviderSessionRepository = (*PostgresProviderSessionRepo)(nil)
