// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, event, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeGoogleSignIn     = "GOOGLE_SIGN_IN_FAILED"
	ErrCodePhoneSignIn      = "PHONE_SIGN_IN_FAILED"
	ErrCodeInvalidOTP       = "INVALID_OTP"
	ErrCodeInvalidPhone     = "INVALID_PHONE"
	ErrCodeSignInInProgress = "SIGN_IN_IN_PROGRESS"
	ErrCodeLogoutFailed     = "LOGOUT_FAILED"
	ErrCodeCSRFInvalid      = "CSRF_TOKEN_INVALID"
	ErrCodeNameRequired     = "EVENT_NAME_REQUIRED"
	ErrCodeLocationRequired = "EVENT_LOCATION_REQUIRED"
	ErrCodeDateRequired     = "EVENT_DATE_REQUIRED"
	ErrCodeDateInvalid      = "EVENT_DATE_INVALID"
	ErrCodeDateInPast       = "EVENT_DATE_IN_PAST"
	ErrCodeNameTooLong      = "EVENT_NAME_TOO_LONG"
	ErrCodeLocationTooLong  = "EVENT_LOCATION_TOO_LONG"
	ErrCodeMarkupNotAllowed = "EVENT_MARKUP_NOT_ALLOWED"
	ErrCodeCreateFailed     = "EVENT_CREATE_FAILED"
	ErrCodeDeleteFailed     = "EVENT_DELETE_FAILED"
	ErrCodeSubscribeFailed  = "EVENT_SUBSCRIBE_FAILED"
	ErrCodeProfileNotFound  = "PROFILE_NOT_FOUND"
)

// AuthErrorReason はサインイン／ログアウト失敗の理由を表す。
type AuthErrorReason string

const (
	AuthReasonProviderError    AuthErrorReason = "provider_error"
	AuthReasonInvalidCode      AuthErrorReason = "invalid_code"
	AuthReasonInvalidPhone     AuthErrorReason = "invalid_phone"
	AuthReasonLogoutFailed     AuthErrorReason = "logout_failed"
	AuthReasonSignInInProgress AuthErrorReason = "sign_in_in_progress"
)

// 認証プロバイダ名
const (
	AuthProviderGoogle = "google"
	AuthProviderPhone  = "phone"
)

// AuthError はセッションストアの認証操作の失敗を表す。
type AuthError struct {
	Provider string
	Reason   AuthErrorReason
	Err      error
}

// NewAuthError はAuthErrorを生成する。
func NewAuthError(provider string, reason AuthErrorReason, err error) *AuthError {
	return &AuthError{Provider: provider, Reason: reason, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Provider == "" {
		if e.Err != nil {
			return fmt.Sprintf("auth %s: %v", e.Reason, e.Err)
		}
		return fmt.Sprintf("auth %s", e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("auth %s (%s): %v", e.Reason, e.Provider, e.Err)
	}
	return fmt.Sprintf("auth %s (%s)", e.Reason, e.Provider)
}

// Unwrap は元のエラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// ValidationReason はイベント入力の検証違反を表す。
type ValidationReason string

const (
	ValidationNameRequired     ValidationReason = "name_required"
	ValidationLocationRequired ValidationReason = "location_required"
	ValidationDateRequired     ValidationReason = "date_required"
	ValidationDateInvalid      ValidationReason = "date_invalid"
	ValidationDateInPast       ValidationReason = "date_in_past"
	ValidationNameTooLong      ValidationReason = "name_too_long"
	ValidationLocationTooLong  ValidationReason = "location_too_long"
	ValidationMarkup           ValidationReason = "markup_not_allowed"
)

// MaxTextLength は名称と会場の最大文字数。
const MaxTextLength = 255

// ValidationError は最初に違反した検証ルールを表す。
type ValidationError struct {
	Field  string
	Reason ValidationReason
}

// NewValidationError はValidationErrorを生成する。
func NewValidationError(field string, reason ValidationReason) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// リポジトリ操作名
const (
	RepoOpCreate    = "create"
	RepoOpDelete    = "delete"
	RepoOpSubscribe = "subscribe"
)

// RepositoryError はドキュメントストア操作の失敗を表す。
type RepositoryError struct {
	Op  string
	Err error
}

// NewRepositoryError はRepositoryErrorを生成する。
func NewRepositoryError(op string, err error) *RepositoryError {
	return &RepositoryError{Op: op, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *RepositoryError) Error() string {
	return fmt.Sprintf("event repository %s failed: %v", e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *RepositoryError) Unwrap() error {
	return e.Err
}
