package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher はパスワードのハッシュ化と検証を行う。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// BcryptHasher はbcryptによるPasswordHasher実装。
type BcryptHasher struct {
	Cost int // 0の場合はbcrypt.DefaultCost
}

// Hash はパスワードをハッシュ化する。
func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify はパスワードがハッシュと一致するかを返す。
func (h BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// compile-time interface check
var _ PasswordHasher = BcryptHasher{}
