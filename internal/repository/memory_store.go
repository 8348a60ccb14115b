package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hitoshi/libraryapi/internal/model"
)

// MemoryStore はプロセス内メモリにデータを保持するStore実装。
// テストおよび STORAGE_DRIVER=memory での一時的な起動に使用する。
type MemoryStore struct {
	mu        sync.RWMutex
	users     []model.User
	authors   []model.Author
	books     []model.Book
	loans     []model.Loan
	tokens    map[string]int64
	sequences map[Collection]int64

	tx *Serializer
}

// コンパイル時にインターフェースの実装を検証する。
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:    map[string]int64{},
		sequences: map[Collection]int64{},
		tx:        NewSerializer(),
	}
}

func (s *MemoryStore) LoadUsers(ctx context.Context) ([]model.User, error) {
	return load(ctx, &s.mu, &s.users)
}

func (s *MemoryStore) SaveUsers(ctx context.Context, users []model.User) error {
	return store(ctx, &s.mu, &s.users, users)
}

func (s *MemoryStore) LoadAuthors(ctx context.Context) ([]model.Author, error) {
	return load(ctx, &s.mu, &s.authors)
}

func (s *MemoryStore) SaveAuthors(ctx context.Context, authors []model.Author) error {
	return store(ctx, &s.mu, &s.authors, authors)
}

func (s *MemoryStore) LoadBooks(ctx context.Context) ([]model.Book, error) {
	return load(ctx, &s.mu, &s.books)
}

func (s *MemoryStore) SaveBooks(ctx context.Context, books []model.Book) error {
	return store(ctx, &s.mu, &s.books, books)
}

func (s *MemoryStore) LoadLoans(ctx context.Context) ([]model.Loan, error) {
	return load(ctx, &s.mu, &s.loans)
}

func (s *MemoryStore) SaveLoans(ctx context.Context, loans []model.Loan) error {
	return store(ctx, &s.mu, &s.loans, loans)
}

func (s *MemoryStore) LoadTokens(ctx context.Context) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.tokens), nil
}

func (s *MemoryStore) SaveTokens(ctx context.Context, tokens map[string]int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = maps.Clone(tokens)
	if s.tokens == nil {
		s.tokens = map[string]int64{}
	}
	return nil
}

// NextID はコレクションごとの単調増加カウンタから次のIDを返す。
func (s *MemoryStore) NextID(ctx context.Context, c Collection) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	switch c {
	case CollectionUsers:
		current = maxID(s.users, userID)
	case CollectionAuthors:
		current = maxID(s.authors, authorID)
	case CollectionBooks:
		current = maxID(s.books, bookID)
	case CollectionLoans:
		current = maxID(s.loans, loanID)
	default:
		return 0, fmt.Errorf("unknown collection: %q", c)
	}

	next := max(s.sequences[c], current) + 1
	s.sequences[c] = next
	return next, nil
}

func (s *MemoryStore) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.Do(ctx, fn)
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// load は保持しているスライスのコピーを返す。
func load[T any](ctx context.Context, mu *sync.RWMutex, src *[]T) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu.RLock()
	defer mu.RUnlock()
	return nonNil(slices.Clone(*src)), nil
}

// store は渡されたスライスのコピーで保持内容を置き換える。
func store[T any](ctx context.Context, mu *sync.RWMutex, dst *[]T, items []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	*dst = slices.Clone(items)
	return nil
}
