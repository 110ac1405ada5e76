// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MarkupDetector はイベントの名称・会場・説明にHTMLマークアップが
// 含まれるかを判定する。入力は書き換えず、判定結果で受け付けるかを決める。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupDetector はユーザー入力テキストのマークアップ判定のインターフェース。
type MarkupDetector interface {
	// ContainsMarkup はrawにHTMLタグ、コメント、script等の要素が含まれる場合にtrueを返す。
	// "&lt;b&gt;" のように実体参照で書かれた文字列や "1 < 2" はマークアップとみなさない。
	ContainsMarkup(raw string) bool
}

// markupDetector はbluemondayのStrictPolicyを使用するMarkupDetectorの実装。
type markupDetector struct {
	policy *bluemonday.Policy
}

// NewMarkupDetector はMarkupDetectorを生成する。
func NewMarkupDetector() *markupDetector {
	return &markupDetector{policy: bluemonday.StrictPolicy()}
}

// ContainsMarkup はStrictPolicyが取り除く部分があるかどうかを返す。
// 実体参照と改行コードは比較前に両辺で正規化する。
func (d *markupDetector) ContainsMarkup(raw string) bool {
	if !strings.ContainsRune(raw, '<') {
		return false
	}
	return normalize(d.policy.Sanitize(raw)) != normalize(raw)
}

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func normalize(s string) string {
	return newlines.Replace(html.UnescapeString(s))
}

var _ MarkupDetector = (*markupDetector)(nil)
