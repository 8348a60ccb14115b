// Package query は一覧APIで共通に使うページング・検索・絞り込み・並び替えを提供する。
// いずれの関数も入力スライスを変更しない。
package query

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// DefaultPageSize はpage_size未指定時の件数。
const DefaultPageSize = 10

// Params は一覧APIの共通クエリパラメータ。
type Params struct {
	Page     int
	PageSize int
	Search   string
	Ordering string
	// Values は絞り込み用の生のクエリパラメータ。
	Values url.Values
}

// ParseParams はクエリパラメータから共通パラメータを取り出す。
// 整数として解釈できないpage/page_sizeはデフォルト値を使う。
func ParseParams(v url.Values, defaultPageSize int) Params {
	if defaultPageSize < 1 {
		defaultPageSize = DefaultPageSize
	}
	return Params{
		Page:     atoiDefault(v.Get("page"), 1),
		PageSize: atoiDefault(v.Get("page_size"), defaultPageSize),
		Search:   v.Get("search"),
		Ordering: v.Get("ordering"),
		Values:   v,
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// PageInfo はページングのメタ情報。
type PageInfo struct {
	Count      int `json:"count"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// Paginate はitemsから指定ページ分を切り出す。
// page/pageSizeは1未満の場合1に丸める。範囲外のページは空スライスを返す。
func Paginate[T any](items []T, page, pageSize int) ([]T, PageInfo) {
	page = max(page, 1)
	pageSize = max(pageSize, 1)

	count := len(items)
	totalPages := count / pageSize
	if count%pageSize != 0 {
		totalPages++
	}
	info := PageInfo{
		Count:      count,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}

	// 乗算の前に範囲外を判定する。巨大なpage/pageSizeでもオーバーフローしない。
	if page-1 >= totalPages {
		return []T{}, info
	}
	start := (page - 1) * pageSize
	end := count
	if pageSize < count-start {
		end = start + pageSize
	}
	return slices.Clone(items[start:end]), info
}

// Search はいずれかのフィールドに検索語を含む要素を返す。大文字小文字は区別しない。
// 検索語が空の場合はitemsをそのまま返す。
func Search[T any](items []T, term string, fields ...func(T) string) []T {
	if term == "" {
		return items
	}
	term = strings.ToLower(term)
	return Filter(items, func(it T) bool {
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f(it)), term) {
				return true
			}
		}
		return false
	})
}

// Predicate は要素を残すかどうかを判定する。
type Predicate[T any] func(T) bool

// Filter はすべての述語を満たす要素を返す。nilの述語は無視する。
func Filter[T any](items []T, preds ...Predicate[T]) []T {
	active := slices.DeleteFunc(slices.Clone(preds), func(p Predicate[T]) bool { return p == nil })
	if len(active) == 0 {
		return items
	}

	out := make([]T, 0, len(items))
	for _, it := range items {
		keep := true
		for _, p := range active {
			if !p(it) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, it)
		}
	}
	return out
}

// IntEquals はクエリパラメータkeyの整数値と一致する要素を残す述語を返す。
// パラメータがない、または整数でない場合はnilを返す（絞り込みなし）。
func IntEquals[T any](v url.Values, key string, get func(T) int64) Predicate[T] {
	if !v.Has(key) {
		return nil
	}
	want, err := strconv.ParseInt(strings.TrimSpace(v.Get(key)), 10, 64)
	if err != nil {
		return nil
	}
	return func(it T) bool { return get(it) == want }
}

// Flag はクエリパラメータkeyが "true" の場合にpredを適用する。
func Flag[T any](v url.Values, key string, pred func(T) bool) Predicate[T] {
	if !strings.EqualFold(v.Get(key), "true") {
		return nil
	}
	return pred
}

// Choice はクエリパラメータkeyの値（大文字化）がallowedに含まれる場合、
// getの値と一致する要素を残す述語を返す。
func Choice[T any](v url.Values, key string, allowed []string, get func(T) string) Predicate[T] {
	want := strings.ToUpper(v.Get(key))
	if !slices.Contains(allowed, want) {
		return nil
	}
	return func(it T) bool { return get(it) == want }
}

// OrderFields は並び替え可能なフィールド名と比較関数の対応。
type OrderFields[T any] map[string]func(a, b T) int

// Order はorderingで指定されたフィールドで安定ソートした新しいスライスを返す。
// 先頭が "-" の場合は降順。未知のフィールドや空指定の場合はitemsをそのまま返す。
func Order[T any](items []T, ordering string, fields OrderFields[T]) []T {
	if ordering == "" {
		return items
	}
	desc := strings.HasPrefix(ordering, "-")
	cmp, ok := fields[strings.TrimPrefix(ordering, "-")]
	if !ok {
		return items
	}

	out := slices.Clone(items)
	if desc {
		slices.SortStableFunc(out, func(a, b T) int { return cmp(b, a) })
	} else {
		slices.SortStableFunc(out, cmp)
	}
	return out
}
