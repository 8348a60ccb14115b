package repository

import (
	"context"

	"golang.org/x/sync/semaphore"
)

type txContextKey struct{}

// Serializer は書き込み処理を1つずつ実行するための重み1のセマフォ。
// ゼロ値は使用できない。NewSerializerで生成する。
type Serializer struct {
	sem *semaphore.Weighted
}

// NewSerializer は新しいSerializerを生成する。
func NewSerializer() *Serializer {
	return &Serializer{sem: semaphore.NewWeighted(1)}
}

// Do は排他区間で fn を実行する。待機中に ctx がキャンセルされた場合は ctx.Err() を返す。
// ctx が既に排他区間内のものであれば、そのまま fn を実行する。
func (s *Serializer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txContextKey{}) == s {
		return fn(ctx)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	return fn(context.WithValue(ctx, txContextKey{}, s))
}
