// Package provisioning はIdPアカウントとプロフィールの二重書き込みを行う。
// 両ストアにまたがるトランザクションは無いため、メールアドレスをキーにした
// 作成または取得（create-or-fetch）で冪等に状態を揃える。
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guymaich-jpg/factory-control-sub000/internal/identity"
	"github.com/guymaich-jpg/factory-control-sub000/internal/metrics"
	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/policy"
	"github.com/guymaich-jpg/factory-control-sub000/internal/repository"
	"github.com/guymaich-jpg/factory-control-sub000/internal/upstream"
)

// maxUsernameAttempts は衝突時に試す連番サフィックスの上限。
const maxUsernameAttempts = 100

// fallbackUsername はメールアドレスのローカル部から英数字が残らない場合に使う。
const fallbackUsername = "user"

// Request はプロビジョニングの入力を表す。
type Request struct {
	Namespace      model.Namespace
	Email          string
	Password       string
	Name           string
	LocalizedNames map[string]string
	Role           model.Role
	// Usernameが空の場合はResolveUsernameで決定する。
	Username string
	// Callerは管理者による作成時の呼び出し元。招待受諾ではnil。
	Caller *identity.Claims
}

// Provisioner はIdPアカウントとプロフィールを作成または再利用する。
type Provisioner struct {
	accounts identity.AccountManager
	profiles repository.ProfileRepository
	guard    *policy.OwnerGuard
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time
}

// NewProvisioner はProvisionerを生成する。
func NewProvisioner(
	accounts identity.AccountManager,
	profiles repository.ProfileRepository,
	guard *policy.OwnerGuard,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Provisioner {
	if guard == nil {
		guard = policy.NewOwnerGuard(nil)
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		accounts: accounts,
		profiles: profiles,
		guard:    guard,
		metrics:  mc,
		logger:   logger,
		now:      time.Now,
	}
}

// DeriveUsername はメールアドレスのローカル部から英数字以外を取り除き小文字化する。
func DeriveUsername(email string) string {
	local, _, _ := strings.Cut(model.NormalizeEmail(email), "@")
	var b strings.Builder
	for _, r := range local {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallbackUsername
	}
	return b.String()
}

// ResolveUsername はメールアドレスに対応するユーザー名を決定する。
// 既にプロフィールがあればそのユーザー名を再利用し、無ければローカル部から導出する。
// 導出したユーザー名が他のメールアドレスで使用済みの場合は連番を付与する（dana, dana2, ...）。
func (p *Provisioner) ResolveUsername(ctx context.Context, ns model.Namespace, email string) (string, error) {
	email = model.NormalizeEmail(email)

	existing, err := p.profiles.FindByEmail(ctx, ns, email)
	if err != nil {
		return "", fmt.Errorf("failed to find profile by email: %w", err)
	}
	if existing != nil {
		return existing.Username, nil
	}

	base := DeriveUsername(email)
	for i := 1; i <= maxUsernameAttempts; i++ {
		candidate := base
		if i > 1 {
			candidate = base + strconv.Itoa(i)
		}
		taken, err := p.profiles.FindByUsername(ctx, ns, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check username: %w", err)
		}
		if taken == nil || model.NormalizeEmail(taken.Email) == email {
			return candidate, nil
		}
	}
	return "", model.NewUsernameConflictError(base)
}

// Provision はIdPアカウントとプロフィールを作成または再利用する。
//
//  0. 既存プロフィールがあれば、同じロールで有効な場合のみ続行する。
//  1. IdPアカウントを作成する。既に存在する場合はメールアドレスで取得する。
//  2. roleカスタムクレームを設定する。
//  3. (namespace, email)をキーにプロフィールをupsertする。
//
// 途中で失敗した場合は補償処理を行わず、段階を含むProvisioningErrorを返す。
// 同じメールアドレスで再実行すると1.で既存アカウントを再利用する。
func (p *Provisioner) Provision(ctx context.Context, req Request) (*model.AccountProfile, error) {
	email := model.NormalizeEmail(req.Email)
	name := model.NormalizeName(req.Name)

	if err := p.checkExistingProfile(ctx, req, email); err != nil {
		return nil, err
	}

	account, reused, err := p.createOrFetchAccount(ctx, email, req.Password, name)
	if err != nil {
		return nil, err
	}

	if err := p.accounts.SetRoleClaim(ctx, account.UID, req.Role); err != nil {
		return nil, p.fail(model.StageSetRole, email, err)
	}

	username := req.Username
	if username == "" {
		username, err = p.ResolveUsername(ctx, req.Namespace, email)
		if err != nil {
			return nil, p.fail(model.StageWriteProfile, email, err)
		}
	}

	profile, err := p.profiles.Upsert(ctx, &model.AccountProfile{
		ID:             uuid.NewString(),
		Namespace:      req.Namespace,
		Username:       username,
		Email:          email,
		Name:           name,
		LocalizedNames: model.NormalizeLocalizedNames(req.LocalizedNames),
		Role:           req.Role,
		Status:         model.StatusActive,
		IdentityRef:    account.UID,
		CreatedAt:      p.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			err = model.NewUsernameConflictError(username)
		}
		return nil, p.fail(model.StageWriteProfile, email, err)
	}

	p.metrics.RecordProvisioningSuccess(reused)
	p.logger.Info("account provisioned",
		slog.String("namespace", string(req.Namespace)),
		slog.String("username", profile.Username),
		slog.String("uid", account.UID),
		slog.Bool("reused_account", reused),
	)
	return profile, nil
}

// createOrFetchAccount はIdPアカウントを作成し、既に存在する場合は取得する。
// 2つ目の戻り値は既存アカウントを再利用したかどうか。
func (p *Provisioner) createOrFetchAccount(ctx context.Context, email, password, name string) (*identity.Account, bool, error) {
	created, err := p.accounts.CreateAccount(ctx, identity.NewAccount{
		Email:       email,
		Password:    password,
		DisplayName: name,
	})
	if err == nil {
		return created, false, nil
	}
	if !errors.Is(err, identity.ErrEmailExists) {
		return nil, false, p.fail(model.StageCreateAccount, email, err)
	}

	existing, err := p.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, false, p.fail(model.StageLookupAccount, email, err)
	}
	return existing, true, nil
}

// checkExistingProfile は既存プロフィールへの書き込みを許可するかを判定する。
// IdPへの書き込みより前に呼び、拒否した場合は何も変更しない。
// 許可するのは中断したプロビジョニングの再実行（同じロールで有効なプロフィール）のみ。
func (p *Provisioner) checkExistingProfile(ctx context.Context, req Request, email string) error {
	existing, err := p.profiles.FindByEmail(ctx, req.Namespace, email)
	if err != nil {
		return fmt.Errorf("failed to find profile by email: %w", err)
	}
	if existing == nil {
		return nil
	}

	role, active := req.Role, model.StatusActive
	reason := p.guard.Check(existing.Email, policy.OperationUpdate, model.ProfileChanges{Role: &role, Status: &active})
	if reason != policy.BlockNone {
		p.metrics.RecordOwnerBlock(reason.Label())
		p.logger.Warn("owner guard blocked provisioning",
			slog.String("username", existing.Username),
			slog.String("reason", string(reason)),
		)
		return model.NewOwnerProtectedError(string(reason))
	}
	if existing.Role == model.RoleAdmin && req.Caller != nil && !policy.Authorize(req.Caller, policy.GrantAdmin) {
		return model.NewForbiddenError("admin accounts can only be changed by an admin")
	}
	if existing.Role != req.Role || existing.Status != model.StatusActive {
		return model.NewAccountExistsError(email)
	}
	return nil
}

// fail は段階情報を付けたProvisioningErrorを生成し、ログとメトリクスに記録する。
// 全段階が冪等なため、タイムアウトやユーザー名の同時衝突を含めて再試行可能として扱う。
// ユーザー名衝突は再試行時にResolveUsernameが別の候補を選ぶ。
func (p *Provisioner) fail(stage model.ProvisioningStage, email string, err error) error {
	p.metrics.RecordProvisioningFailure(string(stage))
	p.logger.Error("provisioning failed",
		slog.String("stage", string(stage)),
		slog.String("email", email),
		slog.Bool("timeout", upstream.IsTimeout(err)),
		slog.String("error", err.Error()),
	)
	return &model.ProvisioningError{Stage: stage, Retryable: true, Err: err}
}
