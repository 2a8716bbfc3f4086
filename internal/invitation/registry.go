// Package invitation は招待の作成・検証・受諾を管理する。
//
// 招待はPendingからAcceptedへ一度だけ遷移する。Expiredは保存される状態ではなく、
// 読み取り時にExpiresAtと現在時刻を比較して導出する。
package invitation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guymaich-jpg/factory-control-sub000/internal/metrics"
	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/policy"
	"github.com/guymaich-jpg/factory-control-sub000/internal/provisioning"
	"github.com/guymaich-jpg/factory-control-sub000/internal/repository"
	"github.com/guymaich-jpg/factory-control-sub000/internal/upstream"
)

// DefaultTTL は招待の既定の有効期間。
const DefaultTTL = 7 * 24 * time.Hour

// AccountProvisioner は受諾時にアカウントを作成するインターフェース。
type AccountProvisioner interface {
	ResolveUsername(ctx context.Context, ns model.Namespace, email string) (string, error)
	Provision(ctx context.Context, req provisioning.Request) (*model.AccountProfile, error)
}

// ProfileFinder は既存プロフィールをメールアドレスで検索するインターフェース。
type ProfileFinder interface {
	FindByEmail(ctx context.Context, ns model.Namespace, email string) (*model.AccountProfile, error)
}

// CreateInput は招待作成の入力を表す。
type CreateInput struct {
	Email     string
	Role      model.Role
	Namespace model.Namespace
	CreatedBy string
}

// AcceptInput は招待受諾の入力を表す。
type AcceptInput struct {
	Token          string
	Namespace      model.Namespace
	Password       string
	Name           string
	LocalizedNames map[string]string
}

// Validation は招待検証の結果を表す。
// Validがfalseの場合、Invitationはnilで、Reasonに無効理由が入る。
type Validation struct {
	Valid      bool
	Invitation *model.Invitation
	Reason     model.InvitationReason
}

// Registry は招待の状態遷移を管理する。
type Registry struct {
	repo        repository.InvitationRepository
	profiles    ProfileFinder
	provisioner AccountProvisioner
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	ttl         time.Duration
	now         func() time.Time
}

// NewRegistry はRegistryを生成する。ttlが0以下の場合はDefaultTTLを使う。
func NewRegistry(
	repo repository.InvitationRepository,
	profiles ProfileFinder,
	provisioner AccountProvisioner,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	ttl time.Duration,
) *Registry {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		repo:        repo,
		profiles:    profiles,
		provisioner: provisioner,
		metrics:     mc,
		logger:      logger,
		ttl:         ttl,
		now:         time.Now,
	}
}

// Create はpendingの招待を作成する。
// 同じ(email, namespace)に期限内のpending招待が既にある場合はINVITATION_CONFLICTを返す。
// 既にプロフィールがあるメールアドレスへの招待はACCOUNT_EXISTSを返す。
func (r *Registry) Create(ctx context.Context, in CreateInput) (*model.Invitation, error) {
	email := model.NormalizeEmail(in.Email)
	if !model.IsValidEmail(email) {
		return nil, model.NewValidationError("email")
	}
	role, err := model.ParseRole(string(in.Role))
	if err != nil {
		return nil, model.NewValidationError("role")
	}
	in.Role = role

	existing, err := r.profiles.FindByEmail(ctx, in.Namespace, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		r.metrics.RecordInvitation("conflict")
		return nil, model.NewAccountExistsError(email)
	}

	now := r.now().UTC()
	inv := &model.Invitation{
		Token:     uuid.NewString(),
		Namespace: in.Namespace,
		Email:     email,
		Role:      in.Role,
		Status:    model.InvitationPending,
		CreatedAt: now,
		CreatedBy: in.CreatedBy,
		ExpiresAt: now.Add(r.ttl),
	}

	if err := r.repo.CreatePending(ctx, inv, now); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			r.metrics.RecordInvitation("conflict")
			return nil, model.NewInvitationConflictError(email)
		case upstream.IsTimeout(err):
			// 作成済みかどうか不明なため、一覧で確認してから再試行させる
			return nil, model.NewUpstreamTimeoutError(false)
		}
		return nil, fmt.Errorf("招待の作成に失敗しました: %w", err)
	}

	r.metrics.RecordInvitation("created")
	r.logger.Info("invitation created",
		slog.String("namespace", string(inv.Namespace)),
		slog.String("email", inv.Email),
		slog.String("role", string(inv.Role)),
		slog.String("created_by", inv.CreatedBy),
	)
	return inv, nil
}

// Validate はトークンの招待が受諾可能かどうかを返す。
// 有効期限は読み取り時点の時刻で判定する。
func (r *Registry) Validate(ctx context.Context, token string, ns model.Namespace) (*Validation, error) {
	inv, err := r.repo.FindByToken(ctx, ns, token)
	if err != nil {
		return nil, fmt.Errorf("招待の取得に失敗しました: %w", err)
	}
	if inv == nil {
		return &Validation{Reason: model.ReasonNotFound}, nil
	}
	if reason := inv.InvalidReason(r.now()); reason != "" {
		return &Validation{Reason: reason}, nil
	}
	return &Validation{Valid: true, Invitation: inv}, nil
}

// List は名前空間の招待を作成日時の降順で返す。
func (r *Registry) List(ctx context.Context, ns model.Namespace) ([]*model.Invitation, error) {
	invitations, err := r.repo.ListByNamespace(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("招待一覧の取得に失敗しました: %w", err)
	}
	return invitations, nil
}

// Accept は招待を受諾し、アカウントをプロビジョニングする。
//
// pendingからacceptedへの遷移は条件付き更新で行い、同時に受諾されても
// プロビジョニングに進むのは1件のみとなる。競合に負けた受諾はAlreadyUsed
// （または期限切れ）として扱う。プロビジョニングに失敗した場合は確保した招待を
// pendingへ戻し、ProvisioningErrorを返す。
func (r *Registry) Accept(ctx context.Context, in AcceptInput) (*model.AccountProfile, error) {
	v, err := r.Validate(ctx, in.Token, in.Namespace)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		r.metrics.RecordInvitation("rejected")
		return nil, model.NewInvitationReasonError(v.Reason)
	}
	inv := v.Invitation

	if err := policy.CheckPassword(in.Password); err != nil {
		return nil, err
	}
	if model.NormalizeName(in.Name) == "" {
		return nil, model.NewValidationError("name")
	}

	username, err := r.provisioner.ResolveUsername(ctx, in.Namespace, inv.Email)
	if err != nil {
		return nil, err
	}

	claimedAt := r.now().UTC()
	claimed, err := r.repo.Claim(ctx, in.Namespace, inv.Token, username, claimedAt)
	if err != nil {
		if upstream.IsTimeout(err) {
			// 遷移が適用されたか不明。再検証してから再試行させる
			return nil, model.NewUpstreamTimeoutError(false)
		}
		return nil, fmt.Errorf("招待の確保に失敗しました: %w", err)
	}
	if !claimed {
		r.metrics.RecordInvitation("race_lost")
		return nil, model.NewInvitationReasonError(r.reasonAfterLostClaim(ctx, in.Namespace, inv.Token))
	}

	profile, err := r.provisioner.Provision(ctx, provisioning.Request{
		Namespace:      in.Namespace,
		Email:          inv.Email,
		Password:       in.Password,
		Name:           in.Name,
		LocalizedNames: in.LocalizedNames,
		Role:           inv.Role,
		Username:       username,
	})
	if err != nil {
		r.release(ctx, in.Namespace, inv.Token, claimedAt)
		return nil, err
	}

	r.metrics.RecordInvitation("accepted")
	r.logger.Info("invitation accepted",
		slog.String("namespace", string(in.Namespace)),
		slog.String("email", inv.Email),
		slog.String("username", profile.Username),
	)
	return profile, nil
}

// reasonAfterLostClaim は条件付き更新に失敗した招待の現在の無効理由を返す。
// 再取得できない場合はAlreadyUsedとする。
func (r *Registry) reasonAfterLostClaim(ctx context.Context, ns model.Namespace, token string) model.InvitationReason {
	current, err := r.repo.FindByToken(ctx, ns, token)
	if err != nil || current == nil {
		return model.ReasonAlreadyUsed
	}
	if reason := current.InvalidReason(r.now()); reason != "" {
		return reason
	}
	return model.ReasonAlreadyUsed
}

// release はプロビジョニングに失敗した受諾の確保を解除する。
// リクエストがキャンセルされていても解除は行う。
func (r *Registry) release(ctx context.Context, ns model.Namespace, token string, claimedAt time.Time) {
	if err := r.repo.ReleaseClaim(context.WithoutCancel(ctx), ns, token, claimedAt); err != nil {
		r.logger.Error("failed to release invitation claim",
			slog.String("namespace", string(ns)),
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
		return
	}
	r.metrics.RecordInvitation("released")
}
