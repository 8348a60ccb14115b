// Package catalog は著者と蔵書の管理（一覧・参照・登録・更新・削除）を提供する。
package catalog

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/hitoshi/libraryapi/internal/model"
	"github.com/hitoshi/libraryapi/internal/query"
	"github.com/hitoshi/libraryapi/internal/repository"
	"github.com/hitoshi/libraryapi/internal/security"
)

// Service は著者と蔵書のビジネスロジックを提供する。
type Service struct {
	store    repository.Store
	detector security.MarkupDetector
}

// NewService はServiceを生成する。detectorがnilの場合はマークアップ検出を行わない。
func NewService(store repository.Store, detector security.MarkupDetector) *Service {
	return &Service{
		store:    store,
		detector: detector,
	}
}

// inspect は保存するテキストにマークアップが含まれていればWARNで記録する。
// テキストは入力どおりに保存し、ここでは変更しない。
func (s *Service) inspect(field, value string) {
	if s.detector == nil || !s.detector.ContainsMarkup(value) {
		return
	}
	slog.Warn("catalog text contains markup",
		slog.String("field", field),
		slog.Int("length", len(value)),
	)
}

var authorOrdering = query.OrderFields[model.Author]{
	"id": func(a, b model.Author) int { return cmp.Compare(a.ID, b.ID) },
	"name": func(a, b model.Author) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	},
}

var bookOrdering = query.OrderFields[model.Book]{
	"id": func(a, b model.Book) int { return cmp.Compare(a.ID, b.ID) },
	"title": func(a, b model.Book) int {
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	},
	"publication_year": func(a, b model.Book) int { return cmp.Compare(a.PublicationYear, b.PublicationYear) },
	"author":           func(a, b model.Book) int { return cmp.Compare(a.AuthorID, b.AuthorID) },
}

// --- 著者 ---

// ListAuthors は検索・並び替え・ページングを適用した著者一覧を返す。
func (s *Service) ListAuthors(ctx context.Context, p query.Params) ([]model.Author, query.PageInfo, error) {
	authors, err := s.store.LoadAuthors(ctx)
	if err != nil {
		return nil, query.PageInfo{}, fmt.Errorf("failed to load authors: %w", err)
	}

	authors = query.Search(authors, p.Search, func(a model.Author) string { return a.Name })
	authors = query.Order(authors, p.Ordering, authorOrdering)
	page, info := query.Paginate(authors, p.Page, p.PageSize)
	return page, info, nil
}

// GetAuthor は指定IDの著者を返す。存在しない場合はnot_foundエラーを返す。
func (s *Service) GetAuthor(ctx context.Context, id int64) (*model.Author, error) {
	authors, err := s.store.LoadAuthors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load authors: %w", err)
	}
	i := slices.IndexFunc(authors, func(a model.Author) bool { return a.ID == id })
	if i < 0 {
		return nil, model.NewNotFoundError("Author")
	}
	return &authors[i], nil
}

// CreateAuthor は著者を登録する。
func (s *Service) CreateAuthor(ctx context.Context, name string) (*model.Author, error) {
	if name == "" {
		return nil, model.NewMissingFieldError("name")
	}

	s.inspect("name", name)

	var created model.Author
	err := s.store.Atomically(ctx, func(ctx context.Context) error {
		authors, err := s.store.LoadAuthors(ctx)
		if err != nil {
			return fmt.Errorf("failed to load authors: %w", err)
		}
		id, err := s.store.NextID(ctx, repository.CollectionAuthors)
		if err != nil {
			return fmt.Errorf("failed to allocate author id: %w", err)
		}
		created = model.Author{ID: id, Name: name}
		if err := s.store.SaveAuthors(ctx, append(authors, created)); err != nil {
			return fmt.Errorf("failed to save authors: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("author created", slog.Int64("author_id", created.ID))
	return &created, nil
}

// AuthorPatch は著者の部分更新。nilのフィールドは変更しない。
type AuthorPatch struct {
	Name *string
}

// UpdateAuthor は著者を更新する。空の名前は無視する。
func (s *Service) UpdateAuthor(ctx context.Context, id int64, patch AuthorPatch) (*model.Author, error) {
	var updated model.Author
	err := s.store.Atomically(ctx, func(ctx context.Context) error {
		authors, err := s.store.LoadAuthors(ctx)
		if err != nil {
			return fmt.Errorf("failed to load authors: %w", err)
		}
		i := slices.IndexFunc(authors, func(a model.Author) bool { return a.ID == id })
		if i < 0 {
			return model.NewNotFoundError("Author")
		}

		if patch.Name != nil {
			if name := *patch.Name; name != "" {
				s.inspect("name", name)
				authors[i].Name = name
				if err := s.store.SaveAuthors(ctx, authors); err != nil {
					return fmt.Errorf("failed to save authors: %w", err)
				}
			}
		}
		updated = authors[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteAuthor は著者を削除する。著者を参照する蔵書はそのまま残る。
func (s *Service) DeleteAuthor(ctx context.Context, id int64) error {
	return s.store.Atomically(ctx, func(ctx context.Context) error {
		authors, err := s.store.LoadAuthors(ctx)
		if err != nil {
			return fmt.Errorf("failed to load authors: %w", err)
		}
		n := len(authors)
		authors = slices.DeleteFunc(authors, func(a model.Author) bool { return a.ID == id })
		if len(authors) == n {
			return model.NewNotFoundError("Author")
		}
		if err := s.store.SaveAuthors(ctx, authors); err != nil {
			return fmt.Errorf("failed to save authors: %w", err)
		}
		slog.Info("author deleted", slog.Int64("author_id", id))
		return nil
	})
}
