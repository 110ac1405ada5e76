// Package i18n はユーザー向けメッセージの翻訳を提供する。
package i18n

import (
	"embed"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"
)

//go:embed active.*.toml
var localeFS embed.FS

var localeFiles = []string{"active.en.toml", "active.ja.toml"}

// Translator はgo-i18nのBundleを薄くラップする。
type Translator struct {
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
	logger          *slog.Logger
}

// NewTranslator は埋め込みのactive.*.tomlを読み込んだTranslatorを生成する。
// defaultLocaleが解釈できない場合は英語を既定とする。
func NewTranslator(defaultLocale string, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.English
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, file := range localeFiles {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			logger.Error("failed to load message file",
				slog.String("file", file),
				slog.String("error", err.Error()),
			)
		}
	}

	return &Translator{
		bundle:          bundle,
		defaultLanguage: tag,
		logger:          logger,
	}
}

// T はkeyのメッセージをlocaleで返す。localeにはAccept-Languageヘッダーの値も渡せる。
// 見つからない場合は既定の言語、最後にkey自体を返す。
func (t *Translator) T(locale, key string, data map[string]any) string {
	if key == "" {
		return ""
	}

	languages := []string{}
	if locale != "" {
		languages = append(languages, locale)
	}
	languages = append(languages, t.defaultLanguage.String())

	localizer := i18n.NewLocalizer(t.bundle, languages...)
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
	})
	if err != nil {
		t.logger.Warn("localize failed",
			slog.String("key", key),
			slog.Any("locales", languages),
			slog.String("error", err.Error()),
		)
		return key
	}
	return msg
}

// Has はkeyのメッセージが既定の言語に存在するかを返す。
func (t *Translator) Has(key string) bool {
	localizer := i18n.NewLocalizer(t.bundle, t.defaultLanguage.String())
	_, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: key})
	return err == nil
}
