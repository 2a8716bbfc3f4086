// Package policy は認可判定とオーナーアカウント保護の純粋関数を提供する。
// I/Oは行わない。
package policy

import (
	"github.com/guymaich-jpg/factory-control-sub000/internal/identity"
	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
)

// Capability は操作に必要な権限を表す。
type Capability string

const (
	// ManagementAccess はユーザー管理・招待管理に必要な権限。admin または manager。
	ManagementAccess Capability = "management"
	// GrantAdmin はadminロールの付与に必要な権限。admin のみ。
	GrantAdmin Capability = "grant_admin"
)

// Authorize はクレームが指定権限を満たすかどうかを返す。
// 未知のロールや未知の権限は常に拒否する。
func Authorize(claims *identity.Claims, capability Capability) bool {
	if claims == nil {
		return false
	}
	switch capability {
	case ManagementAccess:
		return claims.Role == model.RoleAdmin || claims.Role == model.RoleManager
	case GrantAdmin:
		return claims.Role == model.RoleAdmin
	default:
		return false
	}
}

// CanAssignRole は呼び出し元が対象ロールを付与できるかどうかを返す。
func CanAssignRole(claims *identity.Claims, role model.Role) bool {
	if role == model.RoleAdmin {
		return Authorize(claims, GrantAdmin)
	}
	return Authorize(claims, ManagementAccess)
}
