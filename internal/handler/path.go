package handler

import (
	"strconv"
	"strings"
)

// ResourcePath はコレクション配下のパスの解析結果。
type ResourcePath struct {
	// ID は詳細操作の対象ID。一覧操作の場合は0。
	ID int64
	// IsDetail は詳細操作（/{prefix}/{id}/）かどうか。
	IsDetail bool
}

// ParseResourcePath はpathがprefix配下の一覧パスか詳細パスかを判定する。
//
// prefixの後ろが空なら一覧、正の10進整数（末尾のスラッシュは1つまで可）なら詳細。
// それ以外は一致しない（okがfalse）。一致しないパスは404として扱う。
func ParseResourcePath(path, prefix string) (rp ResourcePath, ok bool) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	rest, found := strings.CutPrefix(path, prefix)
	if !found {
		return ResourcePath{}, false
	}
	if rest == "" {
		return ResourcePath{}, true
	}

	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || !isDecimal(rest) {
		return ResourcePath{}, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id < 1 {
		return ResourcePath{}, false
	}
	return ResourcePath{ID: id, IsDetail: true}, true
}

func isDecimal(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
