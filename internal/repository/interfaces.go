// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/libraryapi/internal/model"
)

// Collection は採番対象のコレクション名を表す。
type Collection string

const (
	CollectionUsers   Collection = "users"
	CollectionAuthors Collection = "authors"
	CollectionBooks   Collection = "books"
	CollectionLoans   Collection = "loans"
)

// Store は4つのエンティティコレクションとトークン表の永続化インターフェース。
//
// Load系はコレクション全体をスナップショットとして返す。バックエンドが未作成の場合は
// 空のコレクションを返し、エラーにはしない。Save系はコレクション全体を原子的に置き換える。
// 読み込み→変更→保存の一連の処理は必ず Atomically の中で行う。
type Store interface {
	LoadUsers(ctx context.Context) ([]model.User, error)
	SaveUsers(ctx context.Context, users []model.User) error

	LoadAuthors(ctx context.Context) ([]model.Author, error)
	SaveAuthors(ctx context.Context, authors []model.Author) error

	LoadBooks(ctx context.Context) ([]model.Book, error)
	SaveBooks(ctx context.Context, books []model.Book) error

	LoadLoans(ctx context.Context) ([]model.Loan, error)
	SaveLoans(ctx context.Context, loans []model.Loan) error

	// LoadTokens はトークン文字列からユーザーIDへの対応表を返す。
	LoadTokens(ctx context.Context) (map[string]int64, error)
	SaveTokens(ctx context.Context, tokens map[string]int64) error

	// NextID はコレクションの次のIDを採番する。
	// 採番済みの値はコレクションとは別に永続化され、削除されたIDが再利用されることはない。
	NextID(ctx context.Context, c Collection) (int64, error)

	// Atomically は fn をプロセス内で唯一の書き込み処理として実行する。
	// 待機中にctxがキャンセルされた場合はctx.Err()を返す。入れ子の呼び出しは外側の区間に合流する。
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error

	// Ping はストアが利用可能かを確認する。ヘルスチェック用。
	Ping(ctx context.Context) error
}

// maxID はコレクション中の最大IDを返す。空の場合は0。
func maxID[T any](items []T, id func(T) int64) int64 {
	var m int64
	for _, it := range items {
		if v := id(it); v > m {
			m = v
		}
	}
	return m
}

func userID(u model.User) int64     { return u.ID }
func authorID(a model.Author) int64 { return a.ID }
func bookID(b model.Book) int64     { return b.ID }
func loanID(l model.Loan) int64     { return l.ID }
