package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/libraryapi/internal/catalog"
	"github.com/hitoshi/libraryapi/internal/model"
	"github.com/hitoshi/libraryapi/internal/query"
)

const authorsPrefix = "/api/authors/"

// AuthorServiceInterface は著者ハンドラーが必要とするサービスインターフェース。
type AuthorServiceInterface interface {
	ListAuthors(ctx context.Context, p query.Params) ([]model.Author, query.PageInfo, error)
	GetAuthor(ctx context.Context, id int64) (*model.Author, error)
	CreateAuthor(ctx context.Context, name string) (*model.Author, error)
	UpdateAuthor(ctx context.Context, id int64, patch catalog.AuthorPatch) (*model.Author, error)
	DeleteAuthor(ctx context.Context, id int64) error
}

// AuthorHandler は著者APIのHTTPハンドラー。
type AuthorHandler struct {
	service         AuthorServiceInterface
	defaultPageSize int
}

// NewAuthorHandler はAuthorHandlerを生成する。
func NewAuthorHandler(service AuthorServiceInterface, defaultPageSize int) *AuthorHandler {
	return &AuthorHandler{service: service, defaultPageSize: defaultPageSize}
}

// Get は著者の一覧または詳細を返す。
// GET /api/authors/ , GET /api/authors/{id}/
func (h *AuthorHandler) Get(w http.ResponseWriter, r *http.Request) {
	rp, ok := ParseResourcePath(r.URL.Path, authorsPrefix)
	if !ok {
		notFound(w, r)
		return
	}

	if rp.IsDetail {
		author, err := h.service.GetAuthor(r.Context(), rp.ID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, author)
		return
	}

	authors, info, err := h.service.ListAuthors(r.Context(), query.ParseParams(r.URL.Query(), h.defaultPageSize))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(authors, info))
}

// Create は著者を登録する。司書・管理者のみ。
// POST /api/authors/
func (h *AuthorHandler) Create(w http.ResponseWriter, r *http.Request) {
	rp, ok := ParseResourcePath(r.URL.Path, authorsPrefix)
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
	name, err := body.optionalString("name")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	author, err := h.service.CreateAuthor(r.Context(), name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, author)
}

// Update は著者を部分更新する。PUTとPATCHの両方をこのハンドラーで扱う。
// PUT|PATCH /api/authors/{id}/
func (h *AuthorHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := detailID(w, r, authorsPrefix)
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

	var (
		patch   catalog.AuthorPatch
		ignored []string
	)
	if body.has("name") {
		if name, ok := body.stringValue("name"); ok {
			patch.Name = &name
		} else {
			ignored = append(ignored, "name")
		}
	}

	author, err := h.service.UpdateAuthor(r.Context(), id, patch)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeIgnoredFields(w, ignored)
	writeJSON(w, http.StatusOK, author)
}

// Delete は著者を削除する。
// DELETE /api/authors/{id}/
func (h *AuthorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := detailID(w, r, authorsPrefix)
	if !ok {
		return
	}
	if _, ok := requireRoles(w, r, model.StaffRoles...); !ok {
		return
	}

	if err := h.service.DeleteAuthor(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// detailID は詳細パスのIDを返す。一覧パスなら405、不正なパスなら404を書き込む。
func detailID(w http.ResponseWriter, r *http.Request, prefix string) (int64, bool) {
	rp, ok := ParseResourcePath(r.URL.Path, prefix)
	if !ok {
		notFound(w, r)
		return 0, false
	}
	if !rp.IsDetail {
		methodNotAllowed(w, r)
		return 0, false
	}
	return rp.ID, true
}
