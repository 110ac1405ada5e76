package session

import (
	"strings"
	"unicode"
)

const (
	// DemoOTP は全ての電話番号で受け付ける固定のワンタイムコード。
	DemoOTP = "123456"

	// PhoneAccountDomain は電話番号サインイン用アカウントのメールアドレスのドメイン。
	PhoneAccountDomain = "phone.demo"

	phoneAccountPassword = "demo123456"
)

// Digits は電話番号から数字のみを取り出す。
func Digits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneCredential は数字のみの電話番号から合成アカウントの資格情報を返す。
func PhoneCredential(digits string) (email, password string) {
	return digits + "@" + PhoneAccountDomain, phoneAccountPassword
}

// PhoneDigitsFromEmail は合成アカウントのメールアドレスから電話番号の数字を取り出す。
// 合成アカウントでない場合はokがfalseとなる。
func PhoneDigitsFromEmail(email string) (digits string, ok bool) {
	local, found := strings.CutSuffix(email, "@"+PhoneAccountDomain)
	if !found {
		return "", false
	}
	return local, true
}

// FormatPhoneNumber は入力された電話番号を国番号付きの形式に整える。
// 先頭が"+"でない場合はdefaultCountryCodeを付与する。
func FormatPhoneNumber(raw, defaultCountryCode string) string {
	trimmed := strings.TrimFunc(raw, unicode.IsSpace)
	if trimmed == "" || strings.HasPrefix(trimmed, "+") {
		return trimmed
	}
	return "+" + defaultCountryCode + trimmed
}
