package events

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/organizer/internal/model"
)

// Validate はイベント入力を検証し、最初に違反したルールをValidationErrorとして返す。
// 検証順: 名称、会場、日付の有無、日付の形式、日付が今日以降であること。
// 名称と会場はそれぞれ有無の次に文字数を確認する。
// 日付の比較はnowのロケーションにおける暦日単位で行う。
func Validate(input model.EventInput, now time.Time) error {
	if strings.TrimSpace(input.Name) == "" {
		return model.NewValidationError("name", model.ValidationNameRequired)
	}
	if utf8.RuneCountInString(input.Name) > model.MaxTextLength {
		return model.NewValidationError("name", model.ValidationNameTooLong)
	}
	if strings.TrimSpace(input.Location) == "" {
		return model.NewValidationError("location", model.ValidationLocationRequired)
	}
	if utf8.RuneCountInString(input.Location) > model.MaxTextLength {
		return model.NewValidationError("location", model.ValidationLocationTooLong)
	}

	raw := strings.TrimSpace(input.Date)
	if raw == "" {
		return model.NewValidationError("date", model.ValidationDateRequired)
	}
	date, err := time.ParseInLocation(model.DateLayout, raw, now.Location())
	if err != nil {
		return model.NewValidationError("date", model.ValidationDateInvalid)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if date.Before(today) {
		return model.NewValidationError("date", model.ValidationDateInPast)
	}
	return nil
}
