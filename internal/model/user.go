// Package model はドメインモデルを定義する。
package model

import "strings"

// Role は利用者の権限ロールを表す。
type Role string

const (
	// RoleMember は一般利用者。貸出・返却のみ可能。
	RoleMember Role = "MEMBER"
	// RoleLibrarian は司書。蔵書と著者の管理が可能。
	RoleLibrarian Role = "LIBRARIAN"
	// RoleAdmin は管理者。
	RoleAdmin Role = "ADMIN"
)

// StaffRoles は蔵書管理を許可されたロールの一覧。
var StaffRoles = []Role{RoleLibrarian, RoleAdmin}

// ParseRole は文字列を大文字化してRoleに変換する。
// 空文字列はRoleMemberとして扱う。未知のロールの場合はfalseを返す。
func ParseRole(s string) (Role, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return RoleMember, true
	}
	switch r := Role(s); r {
	case RoleMember, RoleLibrarian, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// IsStaff はロールが司書または管理者かを返す。
func (r Role) IsStaff() bool {
	return r.Is(StaffRoles...)
}

// Is はロールが候補のいずれかと一致するかを大文字小文字を区別せずに判定する。
func (r Role) Is(candidates ...Role) bool {
	for _, c := range candidates {
		if strings.EqualFold(string(r), string(c)) {
			return true
		}
	}
	return false
}

// User は図書館の利用者を表す。
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	Role         Role   `json:"role"`
}
