package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/libraryapi/internal/model"
)

// MaxPasswordBytes はbcryptが扱えるパスワード長の上限。
const MaxPasswordBytes = 72

// legacyDigestPattern は旧形式（ソルトなしSHA-256の16進文字列）のパスワードハッシュ。
var legacyDigestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// PasswordHasher はパスワードのハッシュ化と検証を行う。
// 新規ハッシュはbcryptで生成し、旧形式のSHA-256ダイジェストも検証できる。
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher はbcryptのコストを指定してPasswordHasherを生成する。
// 範囲外のコストはbcrypt.DefaultCostに置き換える。
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash はパスワードのbcryptハッシュを返す。
// MaxPasswordBytesを超えるパスワードはinvalidのAPIErrorを返す。
func (h *PasswordHasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", model.NewInvalidError(fmt.Sprintf("password must be at most %d bytes.", MaxPasswordBytes))
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Verify はパスワードが保存済みハッシュと一致するかを返す。
// needsRehash は旧形式、または設定より低いコストのハッシュで一致した場合にtrueとなる。
func (h *PasswordHasher) Verify(hash, password string) (ok, needsRehash bool) {
	if IsLegacyHash(hash) {
		ok = subtle.ConstantTimeCompare([]byte(LegacyDigest(password)), []byte(hash)) == 1
		return ok, ok
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return false, false
	}

	cost, err := bcrypt.Cost([]byte(hash))
	return true, err == nil && cost < h.cost
}

// IsLegacyHash はハッシュが旧形式のSHA-256ダイジェストかどうかを返す。
func IsLegacyHash(hash string) bool {
	return legacyDigestPattern.MatchString(hash)
}

// LegacyDigest は旧形式のダイジェストを返す。既存データの移行テスト用。
func LegacyDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
