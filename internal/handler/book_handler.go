package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/libraryapi/internal/catalog"
	"github.com/hitoshi/libraryapi/internal/model"
	"github.com/hitoshi/libraryapi/internal/query"
)

const booksPrefix = "/api/books/"

// 著者IDは "author" と "author_id" のどちらでも受け付ける。
var authorKeys = []string{"author", "author_id"}

// BookServiceInterface は蔵書ハンドラーが必要とするサービスインターフェース。
type BookServiceInterface interface {
	ListBooks(ctx context.Context, p query.Params) ([]model.Book, query.PageInfo, error)
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	CreateBook(ctx context.Context, in catalog.BookInput) (*model.Book, error)
	UpdateBook(ctx context.Context, id int64, patch catalog.BookPatch) (*model.Book, []string, error)
	DeleteBook(ctx context.Context, id int64) error
}

// BookHandler は蔵書APIのHTTPハンドラー。
type BookHandler struct {
	service         BookServiceInterface
	defaultPageSize int
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(service BookServiceInterface, defaultPageSize int) *BookHandler {
	return &BookHandler{service: service, defaultPageSize: defaultPageSize}
}

// Get は蔵書の一覧または詳細を返す。認証不要。
// GET /api/books/ , GET /api/books/{id}/
func (h *BookHandler) Get(w http.ResponseWriter, r *http.Request) {
	rp, ok := ParseResourcePath(r.URL.Path, booksPrefix)
	if !ok {
		notFound(w, r)
		return
	}

	if rp.IsDetail {
		book, err := h.service.GetBook(r.Context(), rp.ID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
		return
	}

	books, info, err := h.service.ListBooks(r.Context(), query.ParseParams(r.URL.Query(), h.defaultPageSize))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(books, info))
}

// Create は蔵書を登録する。司書・管理者のみ。
// POST /api/books/
func (h *BookHandler) Create(w http.ResponseWriter, r *http.Request) {
	rp, ok := ParseResourcePath(r.URL.Path, booksPrefix)
	if !ok {
		notFound(w, r)
		return
	}
	if rp.IsDetail {
		methodNotAllowed(w, r)
		return
	}
	if _, ok := requireRoles(w, r, model.StaffRoles...); !ok {
		return
	}

	body, err := decodePayload(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	in, err := parseBookInput(body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	book, err := h.service.CreateBook(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

// parseBookInput は登録用のボディを検証する。
// 必須フィールドの欠落はフィールド名付きで、型変換の失敗はまとめてinvalidエラーにする。
func parseBookInput(body payload) (catalog.BookInput, error) {
	for _, field := range []string{"title", "publication_year", "isbn"} {
		if !body.has(field) {
			return catalog.BookInput{}, model.NewMissingFieldError(field)
		}
	}
	authorKey, ok := body.firstPresent(authorKeys...)
	if !ok {
		return catalog.BookInput{}, model.NewMissingFieldError("author")
	}
	if !body.has("total_copies") {
		return catalog.BookInput{}, model.NewMissingFieldError("total_copies")
	}

	invalid := model.NewInvalidError("Invalid field types.")
	var in catalog.BookInput
	if in.Title, ok = body.stringValue("title"); !ok {
		return catalog.BookInput{}, invalid
	}
	if in.ISBN, ok = body.stringValue("isbn"); !ok {
		return catalog.BookInput{}, invalid
	}
	year, ok := body.intValue("publication_year")
	if !ok {
		return catalog.BookInput{}, invalid
	}
	in.PublicationYear = int(year)
	if in.AuthorID, ok = body.intValue(authorKey); !ok {
		return catalog.BookInput{}, invalid
	}
	total, ok := body.intValue("total_copies")
	if !ok {
		return catalog.BookInput{}, invalid
	}
	in.TotalCopies = int(total)

	if body["available_copies"] != nil {
		available, ok := body.intValue("available_copies")
		if !ok {
			return catalog.BookInput{}, invalid
		}
		n := int(available)
		in.AvailableCopies = &n
	}
	return in, nil
}

// Update は蔵書を部分更新する。PUTとPATCHの両方をこのハンドラーで扱う。
// 変換できないフィールドは無視し、X-Ignored-Fieldsヘッダーで通知する。
// PUT|PATCH /api/books/{id}/
func (h *BookHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := detailID(w, r, booksPrefix)
	if !ok {
		return
	}
	if _, ok := requireRoles(w, r, model.StaffRoles...); !ok {
		return
	}

	body, err := decodePayload(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	patch, ignored := parseBookPatch(body)

	book, rejected, err := h.service.UpdateBook(r.Context(), id, patch)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeIgnoredFields(w, append(ignored, rejected...))
	writeJSON(w, http.StatusOK, book)
}

// parseBookPatch は更新用のボディから指定されたフィールドだけを取り出す。
func parseBookPatch(body payload) (patch catalog.BookPatch, ignored []string) {
	stringField := func(key string) *string {
		if !body.has(key) {
			return nil
		}
		if s, ok := body.stringValue(key); ok {
			return &s
		}
		ignored = append(ignored, key)
		return nil
	}
	intField := func(key string) *int {
		if !body.has(key) {
			return nil
		}
		if n, ok := body.intValue(key); ok {
			v := int(n)
			return &v
		}
		ignored = append(ignored, key)
		return nil
	}

	patch.Title = stringField("title")
	patch.PublicationYear = intField("publication_year")
	patch.ISBN = stringField("isbn")
	if key, ok := body.firstPresent(authorKeys...); ok {
		if n, ok := body.intValue(key); ok {
			patch.AuthorID = &n
		} else {
			ignored = append(ignored, key)
		}
	}
	patch.TotalCopies = intField("total_copies")
	patch.AvailableCopies = intField("available_copies")
	return patch, ignored
}

// Delete は蔵書を削除する。
// DELETE /api/books/{id}/
func (h *BookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := detailID(w, r, booksPrefix)
	if !ok {
		return
	}
	if _, ok := requireRoles(w, r, model.StaffRoles...); !ok {
		return
	}

	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
