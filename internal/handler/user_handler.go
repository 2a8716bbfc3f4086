package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/guymaich-jpg/factory-control-sub000/internal/identity"
	"github.com/guymaich-jpg/factory-control-sub000/internal/middleware"
	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context, ns model.Namespace) ([]*model.AccountProfile, error)
	Create(ctx context.Context, caller *identity.Claims, in user.CreateInput) (*model.AccountProfile, error)
	// Update はオーナー保護の判定を経てプロフィールとIdPアカウントを更新する。
	Update(ctx context.Context, caller *identity.Claims, ns model.Namespace, username string, changes model.ProfileChanges) (*model.AccountProfile, error)
	// Delete はオーナー保護の判定を経てIdPアカウントとプロフィールを削除する。
	Delete(ctx context.Context, caller *identity.Claims, ns model.Namespace, username string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// createUserRequest はユーザー作成リクエストのボディ。
type createUserRequest struct {
	Email          string            `json:"email"`
	Password       string            `json:"password"`
	Name           string            `json:"name"`
	LocalizedNames map[string]string `json:"localizedNames"`
	Role           string            `json:"role"`
	Namespace      string            `json:"namespace"`
}

// updateUserRequest はユーザー更新リクエストのボディ。省略したフィールドは変更しない。
type updateUserRequest struct {
	Role           *string           `json:"role"`
	Status         *string           `json:"status"`
	Name           *string           `json:"name"`
	LocalizedNames map[string]string `json:"localizedNames"`
	Password       *string           `json:"password"`
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	Username       string            `json:"username"`
	Namespace      string            `json:"namespace"`
	Email          string            `json:"email"`
	Name           string            `json:"name"`
	LocalizedNames map[string]string `json:"localizedNames,omitempty"`
	Role           string            `json:"role"`
	Status         string            `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      *time.Time        `json:"updatedAt,omitempty"`
}

// ListUsers は名前空間のユーザー一覧を返す。
// GET /users?namespace=
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ns, ok := namespaceParam(w, r.URL.Query().Get("namespace"))
	if !ok {
		return
	}

	profiles, err := h.service.List(r.Context(), ns)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]profileResponse, len(profiles))
	for i, p := range profiles {
		resp[i] = toProfileResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateUser は招待を経由せずにユーザーを作成する。
// POST /users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	var req createUserRequest
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

	profile, err := h.service.Create(r.Context(), claims, user.CreateInput{
		Namespace:      ns,
		Email:          req.Email,
		Password:       req.Password,
		Name:           req.Name,
		LocalizedNames: req.LocalizedNames,
		Role:           role,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(profile))
}

// UpdateUser はユーザーを更新する。
// PUT /users/{username}?namespace=
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}
	ns, ok := namespaceParam(w, r.URL.Query().Get("namespace"))
	if !ok {
		return
	}

	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	changes, apiErr := req.toChanges()
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	profile, err := h.service.Update(r.Context(), claims, ns, chi.URLParam(r, "username"), changes)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// DeleteUser はユーザーを削除する。
// DELETE /users/{username}?namespace=
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}
	ns, ok := namespaceParam(w, r.URL.Query().Get("namespace"))
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), claims, ns, chi.URLParam(r, "username")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// toChanges はリクエストをドメインの変更内容に変換する。ロールと状態の値はここで検証する。
func (req updateUserRequest) toChanges() (model.ProfileChanges, *model.APIError) {
	changes := model.ProfileChanges{
		Name:           req.Name,
		LocalizedNames: req.LocalizedNames,
		Password:       req.Password,
	}
	if req.Role != nil {
		role, err := model.ParseRole(*req.Role)
		if err != nil {
			return changes, model.NewValidationError("role")
		}
		changes.Role = &role
	}
	if req.Status != nil {
		status, err := model.ParseStatus(*req.Status)
		if err != nil {
			return changes, model.NewValidationError("status")
		}
		changes.Status = &status
	}
	return changes, nil
}

func toProfileResponse(p *model.AccountProfile) profileResponse {
	return profileResponse{
		Username:       p.Username,
		Namespace:      string(p.Namespace),
		Email:          p.Email,
		Name:           p.Name,
		LocalizedNames: p.LocalizedNames,
		Role:           string(p.Role),
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}
