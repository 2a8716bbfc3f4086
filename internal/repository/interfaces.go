// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
)

var (
	// ErrConflict は一意性制約に違反したことを表す。
	ErrConflict = errors.New("record conflicts with an existing record")
	// ErrNotFound は更新・削除対象のレコードが存在しないことを表す。
	ErrNotFound = errors.New("record not found")
)

// InvitationRepository は招待データの永続化インターフェース。
type InvitationRepository interface {
	// CreatePending は(namespace, email)に有効なpending招待が無い場合のみ招待を作成する。
	// 既に存在する場合はErrConflictを返す。判定と作成は(namespace, email)単位で直列化される。
	CreatePending(ctx context.Context, inv *model.Invitation, now time.Time) error

	// FindByToken はトークンで招待を取得する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, ns model.Namespace, token string) (*model.Invitation, error)

	// ListByNamespace は名前空間の招待を作成日時の降順で返す。
	ListByNamespace(ctx context.Context, ns model.Namespace) ([]*model.Invitation, error)

	// Claim はpendingかつ期限内の招待のみをacceptedへ遷移させる（compare-and-set）。
	// 遷移できた場合はtrueを返す。
	Claim(ctx context.Context, ns model.Namespace, token, username string, now time.Time) (bool, error)

	// ReleaseClaim はClaimで確保した招待をpendingへ戻す。
	// claimedAtが一致する場合のみ戻すため、他の受諾を取り消すことはない。
	ReleaseClaim(ctx context.Context, ns model.Namespace, token string, claimedAt time.Time) error
}

// ProfileRepository はアカウントプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByEmail はメールアドレスでプロフィールを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, ns model.Namespace, email string) (*model.AccountProfile, error)

	// FindByUsername はユーザー名でプロフィールを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, ns model.Namespace, username string) (*model.AccountProfile, error)

	// ListByNamespace は名前空間のプロフィールをユーザー名順で返す。
	ListByNamespace(ctx context.Context, ns model.Namespace) ([]*model.AccountProfile, error)

	// Upsert は(namespace, email)をキーにプロフィールを作成または更新し、保存後の値を返す。
	// 既存プロフィールのID・ユーザー名・作成日時は維持する。
	// ユーザー名が他のプロフィールと衝突した場合はErrConflictを返す。
	Upsert(ctx context.Context, p *model.AccountProfile) (*model.AccountProfile, error)

	// Update はプロフィールのname、localized_names、role、statusを更新する。
	Update(ctx context.Context, p *model.AccountProfile) error

	// Delete はユーザー名でプロフィールを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, ns model.Namespace, username string) error
}

// InventoryRepository は在庫スナップショットの永続化インターフェース。
type InventoryRepository interface {
	// Append はスナップショットを追加する。
	Append(ctx context.Context, snap *model.InventorySnapshot) error

	// Latest は最新のスナップショットを返す。存在しない場合はnilを返す。
	Latest(ctx context.Context) (*model.InventorySnapshot, error)

	// PruneOlderThan はcutoffより古いスナップショットを削除し、削除件数を返す。
	// 最新のスナップショットは古くても削除しない。
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// StockRepository は共有在庫コレクションの永続化インターフェース。
type StockRepository interface {
	// MergeBatch は全更新を1トランザクションでマージ書き込みする。
	// いずれかが失敗した場合は何も書き込まない。
	// 既存ドキュメントのうちStockUpdateが所有しないフィールドは保持する。
	MergeBatch(ctx context.Context, updates []model.StockUpdate) error
}
