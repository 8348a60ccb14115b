package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/hitoshi/libraryapi/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	usersFile     = "users.json"
	authorsFile   = "authors.json"
	booksFile     = "books.json"
	loansFile     = "loans.json"
	tokensFile    = "tokens.json"
	sequencesFile = "sequences.json"
)

// JSONFileStore はデータディレクトリ配下のJSONファイルに各コレクションを保存するStore実装。
//
// 保存は同一ディレクトリの一時ファイルに書き込み、fsync後にrenameで置き換えるため、
// 読み込み側が書きかけのファイルを観測することはない。
// 壊れたファイルは空のコレクションとして扱い、WARNログを出力する。
type JSONFileStore struct {
	dir    string
	logger *slog.Logger
	tx     *Serializer

	seqMu sync.Mutex
}

// コンパイル時にインターフェースの実装を検証する。
var _ Store = (*JSONFileStore)(nil)

// NewJSONFileStore はdirを保存先とするJSONFileStoreを生成する。
// ディレクトリが存在しない場合は作成する。
func NewJSONFileStore(dir string, logger *slog.Logger) (*JSONFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONFileStore{
		dir:    dir,
		logger: logger,
		tx:     NewSerializer(),
	}, nil
}

// Dir はデータディレクトリのパスを返す。
func (s *JSONFileStore) Dir() string {
	return s.dir
}

func (s *JSONFileStore) LoadUsers(ctx context.Context) ([]model.User, error) {
	return loadList[model.User](ctx, s, usersFile)
}

func (s *JSONFileStore) SaveUsers(ctx context.Context, users []model.User) error {
	return s.save(ctx, usersFile, nonNil(users))
}

func (s *JSONFileStore) LoadAuthors(ctx context.Context) ([]model.Author, error) {
	return loadList[model.Author](ctx, s, authorsFile)
}

func (s *JSONFileStore) SaveAuthors(ctx context.Context, authors []model.Author) error {
	return s.save(ctx, authorsFile, nonNil(authors))
}

func (s *JSONFileStore) LoadBooks(ctx context.Context) ([]model.Book, error) {
	return loadList[model.Book](ctx, s, booksFile)
}

func (s *JSONFileStore) SaveBooks(ctx context.Context, books []model.Book) error {
	return s.save(ctx, booksFile, nonNil(books))
}

func (s *JSONFileStore) LoadLoans(ctx context.Context) ([]model.Loan, error) {
	return loadList[model.Loan](ctx, s, loansFile)
}

func (s *JSONFileStore) SaveLoans(ctx context.Context, loans []model.Loan) error {
	return s.save(ctx, loansFile, nonNil(loans))
}

func (s *JSONFileStore) LoadTokens(ctx context.Context) (map[string]int64, error) {
	return loadMap(ctx, s, tokensFile)
}

func (s *JSONFileStore) SaveTokens(ctx context.Context, tokens map[string]int64) error {
	if tokens == nil {
		tokens = map[string]int64{}
	}
	return s.save(ctx, tokensFile, tokens)
}

// NextID は sequences.json に保存された採番値と既存データの最大IDの大きい方に1を足して返す。
// 既存データから始める場合も、過去に払い出したIDを再利用しない。
func (s *JSONFileStore) NextID(ctx context.Context, c Collection) (int64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	seqs, err := loadMap(ctx, s, sequencesFile)
	if err != nil {
		return 0, err
	}

	current, err := s.currentMaxID(ctx, c)
	if err != nil {
		return 0, err
	}

	next := max(seqs[string(c)], current) + 1
	seqs[string(c)] = next
	if err := s.save(ctx, sequencesFile, seqs); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *JSONFileStore) currentMaxID(ctx context.Context, c Collection) (int64, error) {
	switch c {
	case CollectionUsers:
		items, err := s.LoadUsers(ctx)
		return maxID(items, userID), err
	case CollectionAuthors:
		items, err := s.LoadAuthors(ctx)
		return maxID(items, authorID), err
	case CollectionBooks:
		items, err := s.LoadBooks(ctx)
		return maxID(items, bookID), err
	case CollectionLoans:
		items, err := s.LoadLoans(ctx)
		return maxID(items, loanID), err
	default:
		return 0, fmt.Errorf("unknown collection: %q", c)
	}
}

// Atomically は書き込み処理を直列化する。
func (s *JSONFileStore) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.Do(ctx, fn)
}

// Ping はデータディレクトリが存在するかを確認する。
func (s *JSONFileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("data directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", s.dir)
	}
	return nil
}

// read はファイルの内容を返す。ファイルが存在しない場合は nil, nil を返す。
func (s *JSONFileStore) read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// corrupted は壊れたファイルを空として扱うことをログに残す。
func (s *JSONFileStore) corrupted(name string, err error) {
	s.logger.Warn("corrupted data file, treating as empty",
		slog.String("path", filepath.Join(s.dir, name)),
		slog.String("error", err.Error()),
	)
}

// save はvをJSONにエンコードし、一時ファイル経由で原子的に書き込む。
func (s *JSONFileStore) save(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func loadList[T any](ctx context.Context, s *JSONFileStore, name string) ([]T, error) {
	data, err := s.read(ctx, name)
	if err != nil || data == nil {
		return []T{}, err
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		s.corrupted(name, err)
		return []T{}, nil
	}
	return nonNil(items), nil
}

func loadMap(ctx context.Context, s *JSONFileStore, name string) (map[string]int64, error) {
	data, err := s.read(ctx, name)
	if err != nil || data == nil {
		return map[string]int64{}, err
	}

	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		s.corrupted(name, err)
		return map[string]int64{}, nil
	}
	if m == nil {
		m = map[string]int64{}
	}
	return m, nil
}

// nonNil はnilスライスを空スライスに置き換える。JSONではnullではなく[]として保存する。
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
