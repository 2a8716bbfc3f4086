package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/guymaich-jpg/factory-control-sub000/internal/invitation"
	"github.com/guymaich-jpg/factory-control-sub000/internal/middleware"
	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/policy"
)

// InvitationServiceInterface は招待ハンドラーが必要とするサービスインターフェース。
type InvitationServiceInterface interface {
	Create(ctx context.Context, in invitation.CreateInput) (*model.Invitation, error)
	Validate(ctx context.Context, token string, ns model.Namespace) (*invitation.Validation, error)
	List(ctx context.Context, ns model.Namespace) ([]*model.Invitation, error)
	Accept(ctx context.Context, in invitation.AcceptInput) (*model.AccountProfile, error)
}

// InvitationHandler は招待のHTTPハンドラー。
// 検証と受諾は未認証で呼ばれ、作成と一覧は管理権限を必要とする。
type InvitationHandler struct {
	service InvitationServiceInterface
	now     func() time.Time
}

// NewInvitationHandler はInvitationHandlerを生成する。
func NewInvitationHandler(service InvitationServiceInterface) *InvitationHandler {
	return &InvitationHandler{service: service, now: time.Now}
}

// createInvitationRequest は招待作成リクエストのボディ。
type createInvitationRequest struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	Namespace string `json:"namespace"`
}

// acceptInvitationRequest は招待受諾リクエストのボディ。
// credentialはpasswordの別名として受け付ける。
type acceptInvitationRequest struct {
	Token          string            `json:"token"`
	Password       string            `json:"password"`
	Credential     string            `json:"credential"`
	Name           string            `json:"name"`
	LocalizedNames map[string]string `json:"localizedNames"`
	Namespace      string            `json:"namespace"`
}

// invitationResponse は管理画面向けの招待情報。
type invitationResponse struct {
	Token         string     `json:"token"`
	Namespace     string     `json:"namespace"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	CreatedBy     string     `json:"createdBy"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	AcceptedAt    *time.Time `json:"acceptedAt,omitempty"`
	BoundUsername string     `json:"boundUsername,omitempty"`
}

// publicInvitationResponse は未認証の検証結果に含める招待情報。作成者などは含めない。
type publicInvitationResponse struct {
	Namespace string    `json:"namespace"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// validationResponse は招待検証のAPIレスポンス。
type validationResponse struct {
	Valid      bool                      `json:"valid"`
	Invitation *publicInvitationResponse `json:"invitation,omitempty"`
	Reason     string                    `json:"reason,omitempty"`
}

// ValidateInvitation はトークンの招待が受諾可能かを返す。
// GET /invitations/{token}?namespace=
func (h *InvitationHandler) ValidateInvitation(w http.ResponseWriter, r *http.Request) {
	ns, ok := namespaceParam(w, r.URL.Query().Get("namespace"))
	if !ok {
		return
	}

	v, err := h.service.Validate(r.Context(), chi.URLParam(r, "token"), ns)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if !v.Valid {
		status := http.StatusGone
		if v.Reason == model.ReasonNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, validationResponse{Reason: string(v.Reason)})
		return
	}

	writeJSON(w, http.StatusOK, validationResponse{
		Valid: true,
		Invitation: &publicInvitationResponse{
			Namespace: string(v.Invitation.Namespace),
			Email:     v.Invitation.Email,
			Role:      string(v.Invitation.Role),
			ExpiresAt: v.Invitation.ExpiresAt,
		},
	})
}

// AcceptInvitation は招待を受諾しアカウントを作成する。
// POST /invitations/accept
func (h *InvitationHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ns, ok := namespaceParam(w, req.Namespace)
	if !ok {
		return
	}
	if req.Token == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("token"))
		return
	}
	password := req.Password
	if password == "" {
		password = req.Credential
	}

	profile, err := h.service.Accept(r.Context(), invitation.AcceptInput{
		Token:          req.Token,
		Namespace:      ns,
		Password:       password,
		Name:           req.Name,
		LocalizedNames: req.LocalizedNames,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(profile))
}

// ListInvitations は名前空間の招待一覧を返す。
// GET /invitations?namespace=
func (h *InvitationHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	ns, ok := namespaceParam(w, r.URL.Query().Get("namespace"))
	if !ok {
		return
	}

	invitations, err := h.service.List(r.Context(), ns)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	now := h.now()
	resp := make([]invitationResponse, len(invitations))
	for i, inv := range invitations {
		resp[i] = toInvitationResponse(inv, now)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateInvitation は招待を作成する。adminロールの招待はadminのみ作成できる。
// POST /invitations
func (h *InvitationHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	var req createInvitationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ns, ok := namespaceParam(w, req.Namespace)
	if !ok {
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("role"))
		return
	}
	if !policy.CanAssignRole(claims, role) {
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError("admin role can only be granted by an admin"))
		return
	}

	inv, err := h.service.Create(r.Context(), invitation.CreateInput{
		Email:     req.Email,
		Role:      role,
		Namespace: ns,
		CreatedBy: claims.UID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvitationResponse(inv, h.now()))
}

func toInvitationResponse(inv *model.Invitation, now time.Time) invitationResponse {
	return invitationResponse{
		Token:         inv.Token,
		Namespace:     string(inv.Namespace),
		Email:         inv.Email,
		Role:          string(inv.Role),
		Status:        inv.ViewStatus(now),
		CreatedAt:     inv.CreatedAt,
		CreatedBy:     inv.CreatedBy,
		ExpiresAt:     inv.ExpiresAt,
		AcceptedAt:    inv.AcceptedAt,
		BoundUsername: inv.BoundUsername,
	}
}
