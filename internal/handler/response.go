// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/guymaich-jpg/factory-control-sub000/internal/identity"
	"github.com/guymaich-jpg/factory-control-sub000/internal/middleware"
	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/upstream"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをデコードする。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// namespaceParam はクエリまたはボディで指定された名前空間を解釈する。
// 不正な値の場合は400を書き込みfalseを返す。
func namespaceParam(w http.ResponseWriter, raw string) (model.Namespace, bool) {
	ns, err := model.ParseNamespace(raw)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("namespace"))
		return "", false
	}
	return ns, true
}

// callerClaims は認証済みクレームを返す。無い場合は401を書き込みfalseを返す。
func callerClaims(w http.ResponseWriter, r *http.Request) (*identity.Claims, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil, false
	}
	return claims, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
//
// プロビジョニングの途中失敗は段階と再試行可否を付けて502とする。
// 原因がタイムアウトの場合は504とする。
// 明示的なAPIErrorを伴わないタイムアウトは、再試行可能な504とする。
func handleServiceError(w http.ResponseWriter, err error) {
	var provErr *model.ProvisioningError
	if errors.As(err, &provErr) {
		writeProvisioningError(w, provErr)
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	if upstream.IsTimeout(err) {
		slog.Warn("upstream timeout", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusGatewayTimeout, model.NewUpstreamTimeoutError(true))
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

func writeProvisioningError(w http.ResponseWriter, provErr *model.ProvisioningError) {
	if upstream.IsTimeout(provErr) {
		apiErr := model.NewUpstreamTimeoutError(provErr.Retryable)
		apiErr.Stage = string(provErr.Stage)
		middleware.WriteErrorResponse(w, http.StatusGatewayTimeout, apiErr)
		return
	}

	var cause *model.APIError
	if errors.As(provErr.Err, &cause) && cause.Code == model.ErrCodeUsernameConflict {
		body := *cause
		body.Stage = string(provErr.Stage)
		body.Retryable = provErr.Retryable
		middleware.WriteErrorResponse(w, http.StatusConflict, &body)
		return
	}

	middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewProvisioningFailedError(provErr))
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeOwnerProtected:
		return http.StatusForbidden
	case model.ErrCodeValidation, model.ErrCodeWeakPassword:
		return http.StatusBadRequest
	case model.ErrCodeUserNotFound, model.ErrCodeInvitationNotFound, model.ErrCodeInventoryNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvitationConflict, model.ErrCodeUsernameConflict, model.ErrCodeAccountExists, model.ErrCodeInvitationAlreadyUsed:
		return http.StatusConflict
	case model.ErrCodeInvitationExpired:
		return http.StatusGone
	case model.ErrCodeProvisioningFailed:
		return http.StatusBadGateway
	case model.ErrCodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
