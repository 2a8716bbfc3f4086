// Package identity は外部IdPとの境界を提供する。
// IDトークンの検証と、管理APIによるアカウント操作を扱う。
// 認証情報（パスワード）はIdPに渡すのみで、本システムでは保存しない。
package identity

import (
	"context"
	"errors"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
)

var (
	// ErrInvalidToken はトークンが無い・不正・期限切れ・検証不能のいずれかを表す。
	// 呼び出し元には区別を伝えない。
	ErrInvalidToken = errors.New("invalid token")
	// ErrEmailExists はメールアドレスに対応するアカウントが既に存在することを表す。
	ErrEmailExists = errors.New("identity account already exists for email")
	// ErrAccountNotFound はアカウントが存在しないことを表す。
	ErrAccountNotFound = errors.New("identity account not found")
)

// Claims は検証済みトークンに紐付く属性を表す。
// Roleはカスタムクレームから読み取り、未知の値は空になる。
type Claims struct {
	UID   string
	Email string
	Role  model.Role
}

// Account はIdPが所有するアカウントを表す。
type Account struct {
	UID         string
	Email       string
	DisplayName string
	Role        model.Role
	Disabled    bool
}

// NewAccount はアカウント作成の入力を表す。
type NewAccount struct {
	Email       string
	Password    string
	DisplayName string
}

// AccountUpdate はアカウント更新の入力を表す。nilのフィールドは変更しない。
type AccountUpdate struct {
	Password    *string
	Disabled    *bool
	DisplayName *string
}

// Verifier はベアラートークンを検証する。
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// AccountManager はIdPの管理APIを表す。
type AccountManager interface {
	// CreateAccount はアカウントを作成する。既に存在する場合はErrEmailExistsを返す。
	CreateAccount(ctx context.Context, in NewAccount) (*Account, error)
	// GetAccountByEmail はメールアドレスでアカウントを取得する。無い場合はErrAccountNotFound。
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	// SetRoleClaim はアカウントのroleカスタムクレームを設定する。
	SetRoleClaim(ctx context.Context, uid string, role model.Role) error
	// UpdateAccount はパスワード・無効化フラグ・表示名を更新する。
	UpdateAccount(ctx context.Context, uid string, upd AccountUpdate) error
	// DeleteAccount はアカウントを削除する。無い場合はErrAccountNotFound。
	DeleteAccount(ctx context.Context, uid string) error
}
