package policy

import "github.com/guymaich-jpg/factory-control-sub000/internal/model"

// Operation はユーザー管理の変更操作の種類を表す。
type Operation string

const (
	OperationDelete Operation = "delete"
	OperationUpdate Operation = "update"
)

// BlockReason はオーナー保護によって操作が拒否された理由を表す。空文字列は許可。
type BlockReason string

const (
	BlockNone       BlockReason = ""
	BlockDelete     BlockReason = "owner accounts cannot be deleted"
	BlockDowngrade  BlockReason = "owner accounts must keep the admin role"
	BlockDeactivate BlockReason = "owner accounts cannot be deactivated"
)

// OwnerGuard は固定の許可リストに含まれるオーナーアカウントを保護する。
// 生成後に許可リストは変更されない。
type OwnerGuard struct {
	owners map[string]struct{}
}

// NewOwnerGuard は指定メールアドレスを保護対象とするOwnerGuardを生成する。
func NewOwnerGuard(ownerEmails []string) *OwnerGuard {
	owners := make(map[string]struct{}, len(ownerEmails))
	for _, e := range ownerEmails {
		if n := model.NormalizeEmail(e); n != "" {
			owners[n] = struct{}{}
		}
	}
	return &OwnerGuard{owners: owners}
}

// IsOwner は指定メールアドレスがオーナーかどうかを返す。
func (g *OwnerGuard) IsOwner(email string) bool {
	_, ok := g.owners[model.NormalizeEmail(email)]
	return ok
}

// Check は対象アカウントへの操作がオーナー保護に抵触するかを判定する。
// 呼び出し元の権限に関係なく判定する。
func (g *OwnerGuard) Check(targetEmail string, op Operation, changes model.ProfileChanges) BlockReason {
	if !g.IsOwner(targetEmail) {
		return BlockNone
	}

	switch op {
	case OperationDelete:
		return BlockDelete
	case OperationUpdate:
		if changes.Role != nil && *changes.Role != model.RoleAdmin {
			return BlockDowngrade
		}
		if changes.Status != nil && *changes.Status == model.StatusInactive {
			return BlockDeactivate
		}
	}
	return BlockNone
}

// Label はメトリクスのラベルに使う短い名前を返す。
func (r BlockReason) Label() string {
	switch r {
	case BlockDelete:
		return "delete"
	case BlockDowngrade:
		return "downgrade"
	case BlockDeactivate:
		return "deactivate"
	default:
		return "none"
	}
}
