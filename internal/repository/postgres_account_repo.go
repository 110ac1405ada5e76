package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/organizer/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反エラーコード。
const uniqueViolation = "23505"

const accountColumns = `id, provider, provider_user_id, email, password_hash, display_name, phone_number, photo_url, created_at, updated_at`

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id,
	)
	return scanAccount(row, "failed to find account by ID")
}

// FindByProviderUserID はproviderとprovider_user_idでアカウントを検索する。
func (r *PostgresAccountRepo) FindByProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	)
	return scanAccount(row, "failed to find account by provider user ID")
}

// FindPasswordAccountByEmail はパスワードアカウントをメールアドレスで検索する。
func (r *PostgresAccountRepo) FindPasswordAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE provider = $1 AND email = $2`,
		model.ProviderPassword, email,
	)
	return scanAccount(row, "failed to find password account")
}

// Create はアカウントを作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (provider, provider_user_id, email, password_hash, display_name, phone_number, photo_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		account.Provider,
		nullString(account.ProviderUserID),
		nullString(account.Email),
		nullString(account.PasswordHash),
		account.DisplayName,
		account.PhoneNumber,
		account.PhotoURL,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("failed to create account: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// UpdateProfile は表示名、メールアドレス、写真URLを更新する。
func (r *PostgresAccountRepo) UpdateProfile(ctx context.Context, account *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET display_name = $2, email = $3, photo_url = $4, updated_at = now()
		 WHERE id = $1`,
		account.ID, account.DisplayName, nullString(account.Email), account.PhotoURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

func scanAccount(row *sql.Row, msg string) (*model.Account, error) {
	var (
		a                         model.Account
		providerUserID, email, pw sql.NullString
	)
	err := row.Scan(&a.ID, &a.Provider, &providerUserID, &email, &pw,
		&a.DisplayName, &a.PhoneNumber, &a.PhotoURL, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	a.ProviderUserID = providerUserID.String
	a.Email = email.String
	a.PasswordHash = pw.String
	return &a, nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
