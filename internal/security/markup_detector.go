// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MarkupDetector は著者名や書名などの利用者入力にHTMLマークアップが含まれるかを判定する。
// 入力そのものは変更しない。判定にはbluemondayのStrictPolicyを使い、
// ポリシー適用前後でテキストが変わる場合にマークアップありとみなす。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupDetector はマークアップ検出のインターフェース。
type MarkupDetector interface {
	// ContainsMarkup はsにタグとして解釈される部分があればtrueを返す。
	ContainsMarkup(s string) bool
}

// markupDetector はMarkupDetectorの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type markupDetector struct {
	policy *bluemonday.Policy
}

// NewMarkupDetector はMarkupDetectorの新しいインスタンスを生成する。
func NewMarkupDetector() MarkupDetector {
	return &markupDetector{policy: bluemonday.StrictPolicy()}
}

// ContainsMarkup はタグ除去後のテキストが元の文字列と異なるかを返す。
// StrictPolicyが行う&や<単体のエスケープは差分として扱わない。
func (d *markupDetector) ContainsMarkup(s string) bool {
	if s == "" {
		return false
	}
	return html.UnescapeString(d.policy.Sanitize(s)) != html.UnescapeString(s)
}
