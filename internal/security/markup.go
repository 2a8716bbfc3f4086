// Package security は利用者が入力したテキストの無害化を提供する。
//
// 表示名は管理画面やCRMにそのまま描画されるため、保存前にHTMLマークアップを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strictPolicy は全てのタグを除去するbluemondayのポリシー。
// Policyは構築後の並行利用が安全なため、パッケージで1つだけ保持する。
var strictPolicy = bluemonday.StrictPolicy()

// StripMarkup は入力からHTMLタグを除去したプレーンテキストを返す。
// script や style の中身も含めて取り除き、エスケープされた実体参照は元の文字に戻す。
// "Ben & Jerry" のようなタグを含まない入力はそのまま返す。
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	return html.UnescapeString(strictPolicy.Sanitize(s))
}
