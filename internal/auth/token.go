package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/organizer/internal/model"
)

// TokenConfig はIDトークンの発行設定。
type TokenConfig struct {
	SigningKey []byte
	Issuer     string // 認証ドメイン
	Audience   string // プロジェクトID
	AppID      string
	TTL        time.Duration
}

// IDTokenClaims はIDトークンのクレーム。
type IDTokenClaims struct {
	Email string `json:"email,omitempty"`
	AppID string `json:"app_id"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256署名のIDトークンを発行、検証する。
type TokenIssuer struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。nowがnilの場合はtime.Nowを使用する。
func NewTokenIssuer(config TokenConfig, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{config: config, now: now}
}

// Issue はアカウントのIDトークンと有効期限を返す。
func (t *TokenIssuer) Issue(account *model.Account) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.config.TTL)

	claims := IDTokenClaims{
		Email: account.Email,
		AppID: t.config.AppID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.config.Issuer,
			Subject:   account.ID,
			Audience:  jwt.ClaimStrings{t.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.config.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign id token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify は署名、発行者、対象、有効期限を検証してクレームを返す。
func (t *TokenIssuer) Verify(token string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.config.SigningKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.config.Issuer),
		jwt.WithAudience(t.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid id token: %w", err)
	}
	if claims.AppID != t.config.AppID {
		return nil, errors.New("invalid id token: app id mismatch")
	}
	return claims, nil
}
