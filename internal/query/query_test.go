package query

import (
	"cmp"
	"math"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct {
	ID   int64
	Name string
	Tag  string
	Year int
	Flag bool
}

func sampleItems() []item {
	return []item{
		{ID: 1, Name: "Banana", Tag: "A", Year: 2001},
		{ID: 2, Name: "apple", Tag: "B", Year: 1999, Flag: true},
		{ID: 3, Name: "Cherry", Tag: "A", Year: 2001},
		{ID: 4, Name: "avocado", Tag: "B", Year: 2010, Flag: true},
		{ID: 5, Name: "Date", Tag: "A", Year: 1999},
	}
}

func ids(items []item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestParseParams_Defaults(t *testing.T) {
	p := ParseParams(url.Values{}, 10)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 10, p.PageSize)
	assert.Empty(t, p.Search)
	assert.Empty(t, p.Ordering)
}

func TestParseParams_InvalidIntegersFallBack(t *testing.T) {
	v := url.Values{"page": {"abc"}, "page_size": {"x"}, "search": {"dune"}, "ordering": {"-title"}}
	p := ParseParams(v, 25)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 25, p.PageSize)
	assert.Equal(t, "dune", p.Search)
	assert.Equal(t, "-title", p.Ordering)
}

func TestPaginate(t *testing.T) {
	items := sampleItems()

	tests := []struct {
		name     string
		page     int
		size     int
		wantIDs  []int64
		wantInfo PageInfo
	}{
		{"first page", 1, 2, []int64{1, 2}, PageInfo{Count: 5, Page: 1, PageSize: 2, TotalPages: 3}},
		{"last partial page", 3, 2, []int64{5}, PageInfo{Count: 5, Page: 3, PageSize: 2, TotalPages: 3}},
		{"out of range", 4, 2, []int64{}, PageInfo{Count: 5, Page: 4, PageSize: 2, TotalPages: 3}},
		{"clamped to one", 0, 0, []int64{1}, PageInfo{Count: 5, Page: 1, PageSize: 1, TotalPages: 5}},
		{"negative page", -3, 10, []int64{1, 2, 3, 4, 5}, PageInfo{Count: 5, Page: 1, PageSize: 10, TotalPages: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, info := Paginate(items, tt.page, tt.size)
			assert.NotNil(t, got)
			assert.Equal(t, tt.wantIDs, ids(got))
			assert.Equal(t, tt.wantInfo, info)
		})
	}
}

func TestPaginate_Empty(t *testing.T) {
	got, info := Paginate([]item{}, 1, 10)
	assert.Empty(t, got)
	assert.Equal(t, PageInfo{Count: 0, Page: 1, PageSize: 10, TotalPages: 0}, info)
}

func TestPaginate_TotalPagesIsCeil(t *testing.T) {
	for n := 0; n <= 23; n++ {
		items := make([]item, n)
		_, info := Paginate(items, 1, 5)
		assert.Equal(t, (n+4)/5, info.TotalPages, "n=%d", n)
	}
}

func TestPaginate_HugeValuesDoNotOverflow(t *testing.T) {
	items := sampleItems()

	got, info := Paginate(items, 1<<62+1, 4)
	assert.Empty(t, got)
	assert.Equal(t, 2, info.TotalPages)
	assert.Equal(t, 1<<62+1, info.Page)

	got, info = Paginate(items, 1, math.MaxInt)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(got))
	assert.Equal(t, 1, info.TotalPages)

	got, info = Paginate(items, math.MaxInt, math.MaxInt)
	assert.Empty(t, got)
	assert.Equal(t, 1, info.TotalPages)
}

func TestSearch_CaseInsensitiveAcrossFields(t *testing.T) {
	items := sampleItems()

	got := Search(items, "AP", func(it item) string { return it.Name })
	assert.Equal(t, []int64{2}, ids(got))

	got = Search(items, "b", func(it item) string { return it.Name }, func(it item) string { return it.Tag })
	assert.Equal(t, []int64{1, 2, 4}, ids(got))

	got = Search(items, "", func(it item) string { return it.Name })
	assert.Len(t, got, 5)
}

func TestFilter_IntEqualsAndFlag(t *testing.T) {
	items := sampleItems()
	year := func(it item) int64 { return int64(it.Year) }

	v := url.Values{"year": {"2001"}}
	got := Filter(items, IntEquals(v, "year", year))
	assert.Equal(t, []int64{1, 3}, ids(got))

	// 整数でない値は無視される
	v = url.Values{"year": {"recent"}}
	got = Filter(items, IntEquals(v, "year", year))
	assert.Len(t, got, 5)

	v = url.Values{"flag": {"TRUE"}, "year": {"1999"}}
	got = Filter(items,
		IntEquals(v, "year", year),
		Flag(v, "flag", func(it item) bool { return it.Flag }),
	)
	assert.Equal(t, []int64{2}, ids(got))

	v = url.Values{"flag": {"false"}}
	got = Filter(items, Flag(v, "flag", func(it item) bool { return it.Flag }))
	assert.Len(t, got, 5)
}

func TestFilter_Choice(t *testing.T) {
	items := sampleItems()
	tag := func(it item) string { return it.Tag }

	got := Filter(items, Choice(url.Values{"tag": {"b"}}, "tag", []string{"A", "B"}, tag))
	assert.Equal(t, []int64{2, 4}, ids(got))

	got = Filter(items, Choice(url.Values{"tag": {"Z"}}, "tag", []string{"A", "B"}, tag))
	assert.Len(t, got, 5)
}

func TestOrder(t *testing.T) {
	items := sampleItems()
	fields := OrderFields[item]{
		"id":   func(a, b item) int { return cmp.Compare(a.ID, b.ID) },
		"name": func(a, b item) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) },
		"year": func(a, b item) int { return cmp.Compare(a.Year, b.Year) },
	}

	assert.Equal(t, []int64{2, 4, 1, 3, 5}, ids(Order(items, "name", fields)))
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, ids(Order(items, "-id", fields)))

	// 安定ソート: 同じ年は元の順序を保つ
	assert.Equal(t, []int64{2, 5, 1, 3, 4}, ids(Order(items, "year", fields)))
	assert.Equal(t, []int64{4, 1, 3, 2, 5}, ids(Order(items, "-year", fields)))

	// 未知のフィールドは並び替えない
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(Order(items, "color", fields)))

	// 入力は変更されない
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(items))
}
