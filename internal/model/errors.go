// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, invitation, account, system
	Action   string // ユーザー向け対処方法

	Reason    string // 招待が無効な理由（NotFound, AlreadyUsed, Expired）
	Stage     string // プロビジョニングで失敗した段階
	Retryable bool   // 同じ操作を再試行しても安全かどうか
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeOwnerProtected        = "OWNER_PROTECTED"
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeWeakPassword          = "WEAK_PASSWORD"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeInvitationNotFound    = "INVITATION_NOT_FOUND"
	ErrCodeInvitationConflict    = "INVITATION_CONFLICT"
	ErrCodeUsernameConflict      = "USERNAME_CONFLICT"
	ErrCodeAccountExists         = "ACCOUNT_EXISTS"
	ErrCodeInvitationExpired     = "INVITATION_EXPIRED"
	ErrCodeInvitationAlreadyUsed = "INVITATION_ALREADY_USED"
	ErrCodeProvisioningFailed    = "PROVISIONING_FAILED"
	ErrCodeUpstreamTimeout       = "UPSTREAM_TIMEOUT"
	ErrCodeInventoryNotFound     = "INVENTORY_NOT_FOUND"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewUnauthorizedError は認証エラーを生成する。
// トークンが無い場合と無効な場合を区別しない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", reason),
		Category: "auth",
		Action:   "管理者に権限を確認してください。",
	}
}

// NewOwnerProtectedError はオーナーアカウント保護によるブロックエラーを生成する。
func NewOwnerProtectedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeOwnerProtected,
		Message:  fmt.Sprintf("オーナーアカウントは変更できません: %s", reason),
		Category: "account",
		Action:   "オーナーアカウントの削除・降格・無効化はできません。",
	}
}

// NewValidationError は入力値エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewWeakPasswordError はパスワードポリシー違反エラーを生成する。
func NewWeakPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  "パスワードが要件を満たしていません。",
		Category: "validation",
		Action:   "6文字以上で、英字と数字をそれぞれ1文字以上含めてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", username),
		Category: "account",
		Action:   "ユーザー名と名前空間を確認してください。",
	}
}

// NewInvitationNotFoundError は招待が見つからない場合のエラーを生成する。
func NewInvitationNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeInvitationNotFound,
		Message:  "招待が見つかりません。",
		Category: "invitation",
		Action:   "招待リンクを確認してください。",
		Reason:   string(ReasonNotFound),
	}
}

// NewInvitationConflictError は同じメールアドレスに有効な招待が既に存在する場合のエラーを生成する。
func NewInvitationConflictError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvitationConflict,
		Message:  fmt.Sprintf("このメールアドレスには有効な招待が既に存在します: %s", email),
		Category: "invitation",
		Action:   "既存の招待の期限切れを待つか、既存の招待リンクを利用してください。",
	}
}

// NewUsernameConflictError はユーザー名が重複した場合のエラーを生成する。
func NewUsernameConflictError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUsernameConflict,
		Message:  fmt.Sprintf("ユーザー名が既に使用されています: %s", username),
		Category: "account",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewAccountExistsError はメールアドレスに対応するプロフィールが既に存在する場合のエラーを生成する。
// 既存アカウントのロールや状態の変更はユーザー更新APIで行う。
func NewAccountExistsError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountExists,
		Message:  fmt.Sprintf("このメールアドレスのユーザーは既に存在します: %s", email),
		Category: "account",
		Action:   "既存ユーザーを編集してください。",
	}
}

// NewInvitationExpiredError は招待の有効期限切れエラーを生成する。
func NewInvitationExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeInvitationExpired,
		Message:  "招待の有効期限が切れています。",
		Category: "invitation",
		Action:   "管理者に新しい招待を依頼してください。",
		Reason:   string(ReasonExpired),
	}
}

// NewInvitationAlreadyUsedError は使用済み招待エラーを生成する。
func NewInvitationAlreadyUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeInvitationAlreadyUsed,
		Message:  "この招待は既に使用されています。",
		Category: "invitation",
		Action:   "既存のアカウントでログインしてください。",
		Reason:   string(ReasonAlreadyUsed),
	}
}

// NewInvitationReasonError は無効理由に対応する招待エラーを生成する。
func NewInvitationReasonError(reason InvitationReason) *APIError {
	switch reason {
	case ReasonAlreadyUsed:
		return NewInvitationAlreadyUsedError()
	case ReasonExpired:
		return NewInvitationExpiredError()
	default:
		return NewInvitationNotFoundError()
	}
}

// NewUpstreamTimeoutError はIdPまたはデータストアの呼び出しがタイムアウトした場合のエラーを生成する。
// タイムアウトは拒否ではないため、冪等な操作は再試行してよい。
func NewUpstreamTimeoutError(retryable bool) *APIError {
	action := "状態を確認してから再度お試しください。"
	if retryable {
		action = "しばらく待ってから再度お試しください。"
	}
	return &APIError{
		Code:      ErrCodeUpstreamTimeout,
		Message:   "外部サービスの応答がタイムアウトしました。",
		Category:  "system",
		Action:    action,
		Retryable: retryable,
	}
}

// NewProvisioningFailedError はアカウントプロビジョニングの途中失敗をAPIエラーに変換する。
// IdPアカウントが作成済みの可能性があるため、同じ入力での再試行を案内する。
func NewProvisioningFailedError(e *ProvisioningError) *APIError {
	action := "入力内容を確認してください。"
	if e.Retryable {
		action = "同じ内容で再度お試しください。"
	}
	return &APIError{
		Code:      ErrCodeProvisioningFailed,
		Message:   fmt.Sprintf("アカウントの作成が途中で失敗しました: %s", e.Stage),
		Category:  "account",
		Action:    action,
		Stage:     string(e.Stage),
		Retryable: e.Retryable,
	}
}

// NewInventoryNotFoundError は在庫スナップショットが存在しない場合のエラーを生成する。
func NewInventoryNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeInventoryNotFound,
		Message:  "在庫データがまだ登録されていません。",
		Category: "inventory",
		Action:   "在庫数を登録してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// ProvisioningStage はアカウントプロビジョニングの段階を表す。
type ProvisioningStage string

const (
	StageCreateAccount ProvisioningStage = "create_account"
	StageLookupAccount ProvisioningStage = "lookup_account"
	StageSetRole       ProvisioningStage = "set_role"
	StageWriteProfile  ProvisioningStage = "write_profile"
)

// ProvisioningError はIdPとプロフィールストアへの二重書き込みの途中失敗を表す。
// 補償処理は行わないため、同じメールアドレスでの再試行はアカウント再利用経路に入る。
type ProvisioningError struct {
	Stage     ProvisioningStage
	Retryable bool
	Err       error
}

// Error はerrorインターフェースを実装する。
func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed at %s: %v", e.Stage, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *ProvisioningError) Unwrap() error {
	return e.Err
}
