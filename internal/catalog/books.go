package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hitoshi/libraryapi/internal/model"
	"github.com/hitoshi/libraryapi/internal/query"
	"github.com/hitoshi/libraryapi/internal/repository"
)

// ListBooks は検索・絞り込み・並び替え・ページングを適用した蔵書一覧を返す。
// 検索は書名または著者名の部分一致。絞り込みは author と publication_year。
func (s *Service) ListBooks(ctx context.Context, p query.Params) ([]model.Book, query.PageInfo, error) {
	books, err := s.store.LoadBooks(ctx)
	if err != nil {
		return nil, query.PageInfo{}, fmt.Errorf("failed to load books: %w", err)
	}

	if p.Search != "" {
		authors, err := s.store.LoadAuthors(ctx)
		if err != nil {
			return nil, query.PageInfo{}, fmt.Errorf("failed to load authors: %w", err)
		}
		names := make(map[int64]string, len(authors))
		for _, a := range authors {
			names[a.ID] = a.Name
		}
		books = query.Search(books, p.Search,
			func(b model.Book) string { return b.Title },
			func(b model.Book) string { return names[b.AuthorID] },
		)
	}

	books = query.Filter(books,
		query.IntEquals(p.Values, "author", func(b model.Book) int64 { return b.AuthorID }),
		query.IntEquals(p.Values, "publication_year", func(b model.Book) int64 { return int64(b.PublicationYear) }),
	)
	books = query.Order(books, p.Ordering, bookOrdering)
	page, info := query.Paginate(books, p.Page, p.PageSize)
	return page, info, nil
}

// GetBook は指定IDの蔵書を返す。存在しない場合はnot_foundエラーを返す。
func (s *Service) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	books, err := s.store.LoadBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load books: %w", err)
	}
	i := slices.IndexFunc(books, func(b model.Book) bool { return b.ID == id })
	if i < 0 {
		return nil, model.NewNotFoundError("Book")
	}
	return &books[i], nil
}

// BookInput は蔵書登録の入力。AvailableCopiesがnilの場合はTotalCopiesと同じ値にする。
type BookInput struct {
	Title           string
	PublicationYear int
	ISBN            string
	AuthorID        int64
	TotalCopies     int
	AvailableCopies *int
}

// CreateBook は蔵書を登録する。参照する著者が存在しない場合はinvalid_authorエラーを返す。
func (s *Service) CreateBook(ctx context.Context, in BookInput) (*model.Book, error) {
	if in.TotalCopies < 0 {
		return nil, model.NewInvalidFieldError("total_copies", "a non-negative integer")
	}
	s.inspect("title", in.Title)
	s.inspect("isbn", in.ISBN)

	available := in.TotalCopies
	if in.AvailableCopies != nil {
		available = *in.AvailableCopies
	}

	var created model.Book
	err := s.store.Atomically(ctx, func(ctx context.Context) error {
		exists, err := s.authorExists(ctx, in.AuthorID)
		if err != nil {
			return err
		}
		if !exists {
			return model.NewInvalidAuthorError()
		}

		books, err := s.store.LoadBooks(ctx)
		if err != nil {
			return fmt.Errorf("failed to load books: %w", err)
		}
		id, err := s.store.NextID(ctx, repository.CollectionBooks)
		if err != nil {
			return fmt.Errorf("failed to allocate book id: %w", err)
		}

		created = model.Book{
			ID:              id,
			Title:           in.Title,
			PublicationYear: in.PublicationYear,
			ISBN:            in.ISBN,
			AuthorID:        in.AuthorID,
			TotalCopies:     in.TotalCopies,
			AvailableCopies: available,
		}
		if err := s.store.SaveBooks(ctx, append(books, created)); err != nil {
			return fmt.Errorf("failed to save books: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("book created",
		slog.Int64("book_id", created.ID),
		slog.Int64("author_id", created.AuthorID),
		slog.Int("total_copies", created.TotalCopies),
	)
	return &created, nil
}

// BookPatch は蔵書の部分更新。nilのフィールドは変更しない。
type BookPatch struct {
	Title           *string
	PublicationYear *int
	ISBN            *string
	AuthorID        *int64
	TotalCopies     *int
	AvailableCopies *int
}

// UpdateBook は指定されたフィールドのみを更新する。
//
// TotalCopiesの変更はAvailableCopiesにも同じ差分を反映する（0未満にはしない）。
// 存在しない著者への変更は適用せず、戻り値のignoredにフィールド名 "author" を含める。
// AvailableCopiesはTotalCopiesの差分反映後に指定値で上書きする。
func (s *Service) UpdateBook(ctx context.Context, id int64, patch BookPatch) (book *model.Book, ignored []string, err error) {
	var updated model.Book
	err = s.store.Atomically(ctx, func(ctx context.Context) error {
		books, err := s.store.LoadBooks(ctx)
		if err != nil {
			return fmt.Errorf("failed to load books: %w", err)
		}
		i := slices.IndexFunc(books, func(b model.Book) bool { return b.ID == id })
		if i < 0 {
			return model.NewNotFoundError("Book")
		}
		b := &books[i]

		if patch.Title != nil {
			s.inspect("title", *patch.Title)
			b.Title = *patch.Title
		}
		if patch.PublicationYear != nil {
			b.PublicationYear = *patch.PublicationYear
		}
		if patch.ISBN != nil {
			s.inspect("isbn", *patch.ISBN)
			b.ISBN = *patch.ISBN
		}
		if patch.AuthorID != nil {
			exists, err := s.authorExists(ctx, *patch.AuthorID)
			if err != nil {
				return err
			}
			if exists {
				b.AuthorID = *patch.AuthorID
			} else {
				ignored = append(ignored, "author")
			}
		}
		if patch.TotalCopies != nil {
			diff := *patch.TotalCopies - b.TotalCopies
			b.TotalCopies = *patch.TotalCopies
			b.AvailableCopies = max(b.AvailableCopies+diff, 0)
		}
		if patch.AvailableCopies != nil {
			b.AvailableCopies = *patch.AvailableCopies
		}

		if err := s.store.SaveBooks(ctx, books); err != nil {
			return fmt.Errorf("failed to save books: %w", err)
		}
		updated = *b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &updated, ignored, nil
}

// DeleteBook は蔵書を削除する。貸出記録は残る。
func (s *Service) DeleteBook(ctx context.Context, id int64) error {
	return s.store.Atomically(ctx, func(ctx context.Context) error {
		books, err := s.store.LoadBooks(ctx)
		if err != nil {
			return fmt.Errorf("failed to load books: %w", err)
		}
		n := len(books)
		books = slices.DeleteFunc(books, func(b model.Book) bool { return b.ID == id })
		if len(books) == n {
			return model.NewNotFoundError("Book")
		}
		if err := s.store.SaveBooks(ctx, books); err != nil {
			return fmt.Errorf("failed to save books: %w", err)
		}
		slog.Info("book deleted", slog.Int64("book_id", id))
		return nil
	})
}

func (s *Service) authorExists(ctx context.Context, id int64) (bool, error) {
	authors, err := s.store.LoadAuthors(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load authors: %w", err)
	}
	return slices.ContainsFunc(authors, func(a model.Author) bool { return a.ID == id }), nil
}
