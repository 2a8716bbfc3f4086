package model

import "time"

// InvitationStatus は招待の保存状態を表す。
// Expiredは保存されず、読み取り時にExpiresAtから導出する。
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
)

// InvitationReason は招待が無効な理由を表す。
type InvitationReason string

const (
	ReasonNotFound    InvitationReason = "NotFound"
	ReasonAlreadyUsed InvitationReason = "AlreadyUsed"
	ReasonExpired     InvitationReason = "Expired"
)

// Invitation はトークンで識別される招待を表す。
// Accepted になった後は変更されない。
type Invitation struct {
	Token         string
	Namespace     Namespace
	Email         string
	Role          Role
	Status        InvitationStatus
	CreatedAt     time.Time
	CreatedBy     string
	ExpiresAt     time.Time
	AcceptedAt    *time.Time
	BoundUsername string
}

// IsExpired は指定時刻において招待が期限切れかどうかを返す。
func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// IsAcceptable は指定時刻において招待を受諾可能かどうかを返す。
func (i *Invitation) IsAcceptable(now time.Time) bool {
	return i.Status == InvitationPending && !i.IsExpired(now)
}

// InvalidReason は指定時刻における招待の無効理由を返す。受諾可能な場合は空文字列。
func (i *Invitation) InvalidReason(now time.Time) InvitationReason {
	switch {
	case i.Status == InvitationAccepted:
		return ReasonAlreadyUsed
	case i.IsExpired(now):
		return ReasonExpired
	default:
		return ""
	}
}

// ViewStatus は表示用の状態を返す。期限切れのpendingは"expired"となる。
func (i *Invitation) ViewStatus(now time.Time) string {
	if i.Status == InvitationPending && i.IsExpired(now) {
		return "expired"
	}
	return string(i.Status)
}
