package i18n

import (
	"io"
	"log/slog"
	"testing"
)

func newTestTranslator() *Translator {
	return NewTranslator("en", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTranslator_DefaultLocale(t *testing.T) {
	tr := newTestTranslator()

	tests := map[string]string{
		"GOOGLE_SIGN_IN_FAILED": "Google sign-in failed. Please try again.",
		"INVALID_OTP":           "Invalid OTP. Use 123456 (universal demo OTP).",
		"LOGOUT_FAILED":         "Failed to log out. Please try again.",
		"EVENT_NAME_REQUIRED":   "Event name is required",
		"EVENT_DATE_IN_PAST":    "Event date cannot be in the past",
		"EVENT_CREATE_FAILED":   "Failed to create event. Please try again.",
		"EVENT_DELETE_FAILED":   "Failed to delete event. Please try again.",
		"EVENT_CREATED":         "Event created successfully!",
	}
	for key, want := range tests {
		if got := tr.T("", key, nil); got != want {
			t.Errorf("T(%s) = %q, want %q", key, got, want)
		}
	}
}

func TestTranslator_Japanese(t *testing.T) {
	tr := newTestTranslator()

	if got := tr.T("ja", "EVENT_NAME_REQUIRED", nil); got != "イベント名は必須です" {
		t.Errorf("ja = %q", got)
	}
	if got := tr.T("ja-JP,ja;q=0.9,en;q=0.8", "EVENT_NAME_REQUIRED", nil); got != "イベント名は必須です" {
		t.Errorf("Accept-Language = %q", got)
	}
}

func TestTranslator_UnknownLocaleFallsBack(t *testing.T) {
	tr := newTestTranslator()

	if got := tr.T("fr", "LOGOUT_FAILED", nil); got != "Failed to log out. Please try again." {
		t.Errorf("fallback = %q", got)
	}
}

func TestTranslator_TemplateData(t *testing.T) {
	tr := newTestTranslator()

	got := tr.T("", "OTP_SENT", map[string]any{"Phone": "+919876543210"})
	if got != "OTP sent to +919876543210. Use 123456 to verify." {
		t.Errorf("OTP_SENT = %q", got)
	}
}

func TestTranslator_MissingKey(t *testing.T) {
	tr := newTestTranslator()

	if got := tr.T("", "NO_SUCH_KEY", nil); got != "NO_SUCH_KEY" {
		t.Errorf("missing key = %q", got)
	}
	if tr.T("", "", nil) != "" {
		t.Error("empty key should render empty")
	}
	if tr.Has("NO_SUCH_KEY") || !tr.Has("INVALID_OTP") {
		t.Error("Has returned unexpected result")
	}
}

func TestNewTranslator_InvalidDefaultLocale(t *testing.T) {
	tr := NewTranslator("not a locale!!", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if got := tr.T("", "INVALID_OTP", nil); got != "Invalid OTP. Use 123456 (universal demo OTP)." {
		t.Errorf("T = %q", got)
	}
}
