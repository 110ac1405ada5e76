// Package model はドメインモデルを定義する。
package model

import "time"

// AuthMethod はプロフィール作成時のサインイン方式を表す。
type AuthMethod string

const (
	AuthMethodGoogle AuthMethod = "google"
	AuthMethodPhone  AuthMethod = "phone"
)

// RoleOrganizer はプロフィールに付与される唯一のロール。
const RoleOrganizer = "organizer"

// Identity は外部IdPが返す認証済みプリンシパルを表す。
// 任意項目は未設定の場合に空文字列となる。
type Identity struct {
	ID          string `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	PhotoURL    string `json:"photoURL"`
}

// Profile はIdentityごとに永続化されるメタデータを表す。
// CreatedAt は作成後に変更されない。
type Profile struct {
	UID         string
	DisplayName string
	Email       string
	PhoneNumber string
	PhotoURL    string
	Role        string
	AuthMethod  AuthMethod
	CreatedAt   time.Time
	LastLoginAt time.Time
}

// Account はIdP側のアカウントレコードを表す。
// Google連携アカウントは ProviderUserID を、パスワードアカウントは PasswordHash を持つ。
type Account struct {
	ID             string
	Provider       string
	ProviderUserID string
	Email          string
	PasswordHash   string
	DisplayName    string
	PhoneNumber    string
	PhotoURL       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Identity はアカウントから公開用のIdentityを組み立てる。
func (a *Account) Identity() *Identity {
	return &Identity{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		Email:       a.Email,
		PhoneNumber: a.PhoneNumber,
		PhotoURL:    a.PhotoURL,
	}
}

// アカウントのプロバイダ種別
const (
	ProviderGoogle   = "google"
	ProviderPassword = "password"
)

// ProviderSession はクライアント単位で永続化されるIdPセッションを表す。
type ProviderSession struct {
	ID        string
	ClientID  string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}
