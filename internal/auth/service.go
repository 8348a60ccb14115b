// Package auth は利用者登録、パスワード認証、トークンの発行と失効を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/libraryapi/internal/model"
	"github.com/hitoshi/libraryapi/internal/repository"
)

// maxTokenAttempts はトークン衝突時の再生成回数の上限。
const maxTokenAttempts = 8

// ErrTokenExhausted は一意なトークンを生成できなかったことを表す。
var ErrTokenExhausted = errors.New("failed to generate a unique token")

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BcryptCost int
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	store    repository.Store
	hasher   *PasswordHasher
	newToken func() (string, error)
}

// NewService はServiceを生成する。
func NewService(store repository.Store, config ServiceConfig) *Service {
	return &Service{
		store:    store,
		hasher:   NewPasswordHasher(config.BcryptCost),
		newToken: generateToken,
	}
}

// RegisterInput は利用者登録の入力。
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

// Register は利用者を登録する。
// ユーザー名とメールアドレスは大文字小文字を区別せずに一意性を検証する。
// ロールは大文字化してMEMBER/LIBRARIAN/ADMINのいずれかであることを検証する。未指定はMEMBER。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, model.NewInvalidError("username, email and password are required.")
	}
	role, ok := model.ParseRole(in.Role)
	if !ok {
		return nil, model.NewInvalidRoleError(in.Role)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	var created model.User
	err = s.store.Atomically(ctx, func(ctx context.Context) error {
		users, err := s.store.LoadUsers(ctx)
		if err != nil {
			return fmt.Errorf("failed to load users: %w", err)
		}

		for _, u := range users {
			if strings.EqualFold(u.Username, in.Username) {
				return model.NewUsernameTakenError()
			}
		}
		for _, u := range users {
			if strings.EqualFold(u.Email, in.Email) {
				return model.NewEmailTakenError()
			}
		}

		id, err := s.store.NextID(ctx, repository.CollectionUsers)
		if err != nil {
			return fmt.Errorf("failed to allocate user id: %w", err)
		}

		created = model.User{
			ID:           id,
			Username:     in.Username,
			Email:        in.Email,
			PasswordHash: hash,
			Role:         role,
		}
		if err := s.store.SaveUsers(ctx, append(users, created)); err != nil {
			return fmt.Errorf("failed to save users: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("user registered",
		slog.Int64("user_id", created.ID),
		slog.String("username", created.Username),
		slog.String("role", string(created.Role)),
	)
	return &created, nil
}

// Authenticate はユーザー名とパスワードを検証する。
// 一致する利用者がいない場合はnilを返す（エラーではない）。
// 旧形式のハッシュで認証に成功した場合はbcryptで再ハッシュして保存する。
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	users, err := s.store.LoadUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	var found *model.User
	for i := range users {
		if strings.EqualFold(users[i].Username, username) {
			found = &users[i]
			break
		}
	}
	if found == nil {
		return nil, nil
	}

	ok, needsRehash := s.hasher.Verify(found.PasswordHash, password)
	if !ok {
		return nil, nil
	}

	if needsRehash {
		if err := s.rehash(ctx, found.ID, password); err != nil {
			// 認証自体は成功しているため、再ハッシュの失敗はログのみ
			slog.Warn("failed to upgrade password hash",
				slog.Int64("user_id", found.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	u := *found
	return &u, nil
}

// rehash は利用者のパスワードハッシュを現在の形式で保存し直す。
func (s *Service) rehash(ctx context.Context, userID int64, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	return s.store.Atomically(ctx, func(ctx context.Context) error {
		users, err := s.store.LoadUsers(ctx)
		if err != nil {
			return err
		}
		for i := range users {
			if users[i].ID == userID {
				users[i].PasswordHash = hash
				slog.Info("password hash upgraded", slog.Int64("user_id", userID))
				return s.store.SaveUsers(ctx, users)
			}
		}
		return nil
	})
}

// Login は認証に成功した利用者に新しいトークンを発行する。
// トークンは発行済みのものと重複しないことを保証する。
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", model.NewInvalidCredentialsError()
	}

	var token string
	err = s.store.Atomically(ctx, func(ctx context.Context) error {
		tokens, err := s.store.LoadTokens(ctx)
		if err != nil {
			return fmt.Errorf("failed to load tokens: %w", err)
		}

		token, err = s.uniqueToken(tokens)
		if err != nil {
			return err
		}

		tokens[token] = user.ID
		if err := s.store.SaveTokens(ctx, tokens); err != nil {
			return fmt.Errorf("failed to save tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.Info("user logged in", slog.Int64("user_id", user.ID))
	return token, nil
}

func (s *Service) uniqueToken(existing map[string]int64) (string, error) {
	for i := 0; i < maxTokenAttempts; i++ {
		t, err := s.newToken()
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		if _, taken := existing[t]; !taken {
			return t, nil
		}
	}
	return "", ErrTokenExhausted
}

// Logout はトークンを失効させる。トークンが存在した場合はtrueを返す。
func (s *Service) Logout(ctx context.Context, token string) (bool, error) {
	var existed bool
	err := s.store.Atomically(ctx, func(ctx context.Context) error {
		tokens, err := s.store.LoadTokens(ctx)
		if err != nil {
			return fmt.Errorf("failed to load tokens: %w", err)
		}
		if _, existed = tokens[token]; !existed {
			return nil
		}
		delete(tokens, token)
		if err := s.store.SaveTokens(ctx, tokens); err != nil {
			return fmt.Errorf("failed to save tokens: %w", err)
		}
		return nil
	})
	return existed, err
}

// Resolve はトークンに対応する利用者を返す。
// 未知のトークンや、削除済みの利用者を指すトークンの場合はnilを返す。
func (s *Service) Resolve(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}

	tokens, err := s.store.LoadTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	userID, ok := tokens[token]
	if !ok {
		return nil, nil
	}

	users, err := s.store.LoadUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for _, u := range users {
		if u.ID == userID {
			return &u, nil
		}
	}
	return nil, nil
}

// Authorize は利用者のロールがrolesのいずれかに含まれるかを返す。nilの利用者は常にfalse。
func Authorize(user *model.User, roles ...model.Role) bool {
	return user != nil && user.Role.Is(roles...)
}

// generateToken は暗号的に安全な32文字の16進トークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
