// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/guymaich-jpg/factory-control-sub000/internal/security"
)

// Role はアカウントのロールを表す閉じた列挙型。
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleWorker  Role = "worker"
)

// ParseRole は文字列をRoleに変換する。未知の値はエラーを返す。
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleManager:
		return RoleManager, nil
	case RoleWorker:
		return RoleWorker, nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// Status はアカウントの有効状態を表す閉じた列挙型。
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus は文字列をStatusに変換する。未知の値はエラーを返す。
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusInactive:
		return StatusInactive, nil
	default:
		return "", fmt.Errorf("unknown status: %q", s)
	}
}

// Namespace は連携する2つのアプリケーションのどちらに属するレコードかを表す。
type Namespace string

const (
	// NamespaceFactory は製造現場トラッカー側の名前空間。
	NamespaceFactory Namespace = "factory"
	// NamespaceCRM は営業/CRM側の名前空間。
	NamespaceCRM Namespace = "crm"
)

// DefaultNamespace は名前空間が省略された場合に使用する値。
const DefaultNamespace = NamespaceFactory

// ParseNamespace は文字列をNamespaceに変換する。
// 空文字列の場合はDefaultNamespaceを返す。
func ParseNamespace(s string) (Namespace, error) {
	switch Namespace(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultNamespace, nil
	case NamespaceFactory:
		return NamespaceFactory, nil
	case NamespaceCRM:
		return NamespaceCRM, nil
	default:
		return "", fmt.Errorf("unknown namespace: %q", s)
	}
}

// AccountProfile はアプリケーション名前空間ごとのユーザープロフィールを表す。
// IdPのアカウントとはIdentityRef（とメールアドレス）で紐付き、ストレージは共有しない。
type AccountProfile struct {
	ID             string
	Namespace      Namespace
	Username       string
	Email          string
	Name           string
	LocalizedNames map[string]string
	Role           Role
	Status         Status
	IdentityRef    string
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}

// ProfileChanges はプロフィール更新で指定された変更内容を表す。
// nilのフィールドは変更しない。
type ProfileChanges struct {
	Role           *Role
	Status         *Status
	Name           *string
	LocalizedNames map[string]string
	Password       *string
}

// IsEmpty は変更が1つも指定されていない場合にtrueを返す。
func (c ProfileChanges) IsEmpty() bool {
	return c.Role == nil && c.Status == nil && c.Name == nil && c.LocalizedNames == nil && c.Password == nil
}

// NormalizeEmail はメールアドレスを比較用に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail は正規化済みのメールアドレスが単一のアドレスとして解釈できるかを返す。
func IsValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// NormalizeName は表示名からマークアップを除き、前後の空白を除いたNFC形式に正規化する。
// ヘブライ語など合成文字を含む名前を同一の表現で保存するために使う。
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(security.StripMarkup(name)))
}

// NormalizeLocalizedNames はロケール別の表示名を正規化する。
// ロケールは小文字化し、空の名前は取り除く。結果が空の場合はnilを返す。
func NormalizeLocalizedNames(names map[string]string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]string, len(names))
	for locale, name := range names {
		locale = strings.ToLower(strings.TrimSpace(locale))
		name = NormalizeName(name)
		if locale == "" || name == "" {
			continue
		}
		out[locale] = name
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
