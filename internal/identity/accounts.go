package identity

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/v4/auth"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/upstream"
)

// roleClaim はロールを保持するカスタムクレーム名。
const roleClaim = "role"

// AccountClient はfirebase auth.Clientでアカウントを操作するAccountManagerの実装。
// 全ての呼び出しはtimeoutで打ち切られ、超過はupstream.ErrTimeoutとして返る。
type AccountClient struct {
	client  AuthClient
	timeout time.Duration
}

// NewAccountClient はAccountClientを生成する。
func NewAccountClient(client AuthClient, timeout time.Duration) *AccountClient {
	return &AccountClient{client: client, timeout: timeout}
}

// CreateAccount はアカウントを作成する。
func (c *AccountClient) CreateAccount(ctx context.Context, in NewAccount) (*Account, error) {
	params := (&auth.UserToCreate{}).
		Email(model.NormalizeEmail(in.Email)).
		Password(in.Password)
	if in.DisplayName != "" {
		params = params.DisplayName(in.DisplayName)
	}

	rec, err := upstream.Value(ctx, "identity.create_account", c.timeout, func(ctx context.Context) (*auth.UserRecord, error) {
		return c.client.CreateUser(ctx, params)
	})
	if err != nil {
		return nil, mapAuthError("create account", err)
	}
	return toAccount(rec), nil
}

// GetAccountByEmail はメールアドレスでアカウントを検索する。
func (c *AccountClient) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	rec, err := upstream.Value(ctx, "identity.lookup_account", c.timeout, func(ctx context.Context) (*auth.UserRecord, error) {
		return c.client.GetUserByEmail(ctx, model.NormalizeEmail(email))
	})
	if err != nil {
		return nil, mapAuthError("lookup account", err)
	}
	return toAccount(rec), nil
}

// SetRoleClaim はroleカスタムクレームを設定する。
// 既存のカスタムクレームは置き換えられる。
func (c *AccountClient) SetRoleClaim(ctx context.Context, uid string, role model.Role) error {
	err := upstream.Call(ctx, "identity.set_role", c.timeout, func(ctx context.Context) error {
		return c.client.SetCustomUserClaims(ctx, uid, map[string]interface{}{roleClaim: string(role)})
	})
	if err != nil {
		return mapAuthError("set role claim", err)
	}
	return nil
}

// UpdateAccount はパスワード・無効化フラグ・表示名を更新する。
// 変更が無い場合は何もしない。
func (c *AccountClient) UpdateAccount(ctx context.Context, uid string, upd AccountUpdate) error {
	if upd.Password == nil && upd.Disabled == nil && upd.DisplayName == nil {
		return nil
	}

	params := &auth.UserToUpdate{}
	if upd.Password != nil {
		params = params.Password(*upd.Password)
	}
	if upd.Disabled != nil {
		params = params.Disabled(*upd.Disabled)
	}
	if upd.DisplayName != nil {
		params = params.DisplayName(*upd.DisplayName)
	}

	_, err := upstream.Value(ctx, "identity.update_account", c.timeout, func(ctx context.Context) (*auth.UserRecord, error) {
		return c.client.UpdateUser(ctx, uid, params)
	})
	if err != nil {
		return mapAuthError("update account", err)
	}
	return nil
}

// DeleteAccount はアカウントを削除する。
func (c *AccountClient) DeleteAccount(ctx context.Context, uid string) error {
	err := upstream.Call(ctx, "identity.delete_account", c.timeout, func(ctx context.Context) error {
		return c.client.DeleteUser(ctx, uid)
	})
	if err != nil {
		return mapAuthError("delete account", err)
	}
	return nil
}

// mapAuthError はfirebaseのエラーを既知のセンチネルエラーに変換する。
// タイムアウトはupstream.ErrTimeoutのまま返す。
func mapAuthError(op string, err error) error {
	switch {
	case upstream.IsTimeout(err):
		return err
	case auth.IsEmailAlreadyExists(err):
		return ErrEmailExists
	case auth.IsUserNotFound(err):
		return ErrAccountNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// toAccount はUserRecordをAccountに変換する。未知のロールは空になる。
func toAccount(rec *auth.UserRecord) *Account {
	if rec == nil || rec.UserInfo == nil {
		return &Account{}
	}
	return &Account{
		UID:         rec.UID,
		Email:       model.NormalizeEmail(rec.Email),
		DisplayName: rec.DisplayName,
		Role:        roleFromClaims(rec.CustomClaims),
		Disabled:    rec.Disabled,
	}
}

// roleFromClaims はクレームからロールを読み取る。
// 書き込み時と同じ正規形の値のみを認め、大文字を含むなどそれ以外は空にする。
func roleFromClaims(claims map[string]interface{}) model.Role {
	v, _ := claims[roleClaim].(string)
	role, err := model.ParseRole(v)
	if err != nil || string(role) != v {
		return ""
	}
	return role
}

// compile-time interface check
var _ AccountManager = (*AccountClient)(nil)
