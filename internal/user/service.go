// Package user はアカウントプロフィール管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guymaich-jpg/factory-control-sub000/internal/identity"
	"github.com/guymaich-jpg/factory-control-sub000/internal/metrics"
	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/policy"
	"github.com/guymaich-jpg/factory-control-sub000/internal/provisioning"
	"github.com/guymaich-jpg/factory-control-sub000/internal/repository"
)

// AccountProvisioner は招待を経由しないアカウント作成のインターフェース。
type AccountProvisioner interface {
	Provision(ctx context.Context, req provisioning.Request) (*model.AccountProfile, error)
}

// CreateInput は管理者によるアカウント作成の入力を表す。
type CreateInput struct {
	Namespace      model.Namespace
	Email          string
	Password       string
	Name           string
	LocalizedNames map[string]string
	Role           model.Role
}

// Service はユーザー管理のサービス層。
// 変更操作は全てオーナー保護の判定を先に行い、ブロックされた場合は何も変更しない。
type Service struct {
	profiles    repository.ProfileRepository
	accounts    identity.AccountManager
	provisioner AccountProvisioner
	guard       *policy.OwnerGuard
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	profiles repository.ProfileRepository,
	accounts identity.AccountManager,
	provisioner AccountProvisioner,
	guard *policy.OwnerGuard,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		profiles:    profiles,
		accounts:    accounts,
		provisioner: provisioner,
		guard:       guard,
		metrics:     mc,
		logger:      logger,
		now:         time.Now,
	}
}

// List は名前空間のプロフィール一覧を返す。
func (s *Service) List(ctx context.Context, ns model.Namespace) ([]*model.AccountProfile, error) {
	profiles, err := s.profiles.ListByNamespace(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return profiles, nil
}

// Create は招待を経由せずにアカウントを作成する。
// IdPアカウントだけが存在するメールアドレスの場合はそれを再利用する。
// プロフィールが既に存在する場合はACCOUNT_EXISTSを返し、ロールや状態の変更はUpdateに任せる。
func (s *Service) Create(ctx context.Context, caller *identity.Claims, in CreateInput) (*model.AccountProfile, error) {
	email := model.NormalizeEmail(in.Email)
	if !model.IsValidEmail(email) {
		return nil, model.NewValidationError("email")
	}
	if model.NormalizeName(in.Name) == "" {
		return nil, model.NewValidationError("name")
	}
	role, err := model.ParseRole(string(in.Role))
	if err != nil {
		return nil, model.NewValidationError("role")
	}
	in.Role = role
	if err := policy.CheckPassword(in.Password); err != nil {
		return nil, err
	}
	if !policy.CanAssignRole(caller, in.Role) {
		return nil, model.NewForbiddenError("admin role can only be granted by an admin")
	}

	existing, err := s.profiles.FindByEmail(ctx, in.Namespace, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewAccountExistsError(email)
	}

	return s.provisioner.Provision(ctx, provisioning.Request{
		Namespace:      in.Namespace,
		Email:          email,
		Password:       in.Password,
		Name:           in.Name,
		LocalizedNames: in.LocalizedNames,
		Role:           in.Role,
		Caller:         caller,
	})
}

// Update はプロフィールとIdPアカウントを更新する。
// IdPへの反映が先に成功した場合のみプロフィールを更新する。
func (s *Service) Update(
	ctx context.Context,
	caller *identity.Claims,
	ns model.Namespace,
	username string,
	changes model.ProfileChanges,
) (*model.AccountProfile, error) {
	if changes.IsEmpty() {
		return nil, model.NewValidationError("no changes")
	}

	profile, err := s.find(ctx, ns, username)
	if err != nil {
		return nil, err
	}

	if err := s.checkOwner(profile, policy.OperationUpdate, changes); err != nil {
		return nil, err
	}
	if profile.Role == model.RoleAdmin && !policy.Authorize(caller, policy.GrantAdmin) {
		return nil, model.NewForbiddenError("admin accounts can only be changed by an admin")
	}
	if changes.Role != nil && !policy.CanAssignRole(caller, *changes.Role) {
		return nil, model.NewForbiddenError("admin role can only be granted by an admin")
	}
	if changes.Password != nil {
		if err := policy.CheckPassword(*changes.Password); err != nil {
			return nil, err
		}
	}
	if changes.Name != nil && model.NormalizeName(*changes.Name) == "" {
		return nil, model.NewValidationError("name")
	}

	if err := s.applyIdentityChanges(ctx, profile.IdentityRef, changes); err != nil {
		return nil, err
	}

	if changes.Role != nil {
		profile.Role = *changes.Role
	}
	if changes.Status != nil {
		profile.Status = *changes.Status
	}
	if changes.Name != nil {
		profile.Name = model.NormalizeName(*changes.Name)
	}
	if changes.LocalizedNames != nil {
		profile.LocalizedNames = model.NormalizeLocalizedNames(changes.LocalizedNames)
	}
	now := s.now().UTC()
	profile.UpdatedAt = &now

	if err := s.profiles.Update(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError(username)
		}
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	s.logger.Info("user updated",
		slog.String("namespace", string(ns)),
		slog.String("username", username),
		slog.String("updated_by", callerUID(caller)),
	)
	return profile, nil
}

// Delete はプロフィールとIdPアカウントを削除する。
// 削除順序: IdPアカウント → プロフィール。IdPアカウントが既に無い場合はプロフィールの削除を続ける。
func (s *Service) Delete(ctx context.Context, caller *identity.Claims, ns model.Namespace, username string) error {
	profile, err := s.find(ctx, ns, username)
	if err != nil {
		return err
	}

	if err := s.checkOwner(profile, policy.OperationDelete, model.ProfileChanges{}); err != nil {
		return err
	}
	if caller != nil && (profile.IdentityRef == caller.UID || model.NormalizeEmail(profile.Email) == model.NormalizeEmail(caller.Email)) {
		return model.NewForbiddenError("you cannot delete your own account")
	}
	if profile.Role == model.RoleAdmin && !policy.Authorize(caller, policy.GrantAdmin) {
		return model.NewForbiddenError("admin accounts can only be deleted by an admin")
	}

	if profile.IdentityRef != "" {
		err := s.accounts.DeleteAccount(ctx, profile.IdentityRef)
		if err != nil && !errors.Is(err, identity.ErrAccountNotFound) {
			return fmt.Errorf("IdPアカウントの削除に失敗しました: %w", err)
		}
	}

	if err := s.profiles.Delete(ctx, ns, username); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError(username)
		}
		return fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
	}

	s.logger.Info("user deleted",
		slog.String("namespace", string(ns)),
		slog.String("username", username),
		slog.String("deleted_by", callerUID(caller)),
	)
	return nil
}

func (s *Service) find(ctx context.Context, ns model.Namespace, username string) (*model.AccountProfile, error) {
	profile, err := s.profiles.FindByUsername(ctx, ns, username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewUserNotFoundError(username)
	}
	return profile, nil
}

// checkOwner はオーナー保護に抵触する場合にOWNER_PROTECTEDを返す。
func (s *Service) checkOwner(profile *model.AccountProfile, op policy.Operation, changes model.ProfileChanges) error {
	reason := s.guard.Check(profile.Email, op, changes)
	if reason == policy.BlockNone {
		return nil
	}
	s.metrics.RecordOwnerBlock(reason.Label())
	s.logger.Warn("owner guard blocked operation",
		slog.String("username", profile.Username),
		slog.String("operation", string(op)),
		slog.String("reason", string(reason)),
	)
	return model.NewOwnerProtectedError(string(reason))
}

// applyIdentityChanges はパスワード・無効化・表示名・ロールをIdPアカウントに反映する。
func (s *Service) applyIdentityChanges(ctx context.Context, uid string, changes model.ProfileChanges) error {
	if uid == "" {
		return nil
	}

	var upd identity.AccountUpdate
	upd.Password = changes.Password
	if changes.Status != nil {
		disabled := *changes.Status == model.StatusInactive
		upd.Disabled = &disabled
	}
	if changes.Name != nil {
		name := model.NormalizeName(*changes.Name)
		upd.DisplayName = &name
	}
	if err := s.accounts.UpdateAccount(ctx, uid, upd); err != nil {
		return fmt.Errorf("IdPアカウントの更新に失敗しました: %w", err)
	}

	if changes.Role != nil {
		if err := s.accounts.SetRoleClaim(ctx, uid, *changes.Role); err != nil {
			return fmt.Errorf("ロールの更新に失敗しました: %w", err)
		}
	}
	return nil
}

func callerUID(c *identity.Claims) string {
	if c == nil {
		return ""
	}
	return c.UID
}
