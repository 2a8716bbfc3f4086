// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/guymaich-jpg/factory-control-sub000/internal/identity"
	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/policy"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はリクエストコンテキストに検証済みクレームを格納するためのキー。
var claimsContextKey = contextKey("claims")

// NewAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証するミドルウェアを返す。
// 検証済みクレームをリクエストコンテキストに注入する。
// ヘッダーが無い場合も検証に失敗した場合も同じ401を返す。
func NewAuthMiddleware(verifier identity.Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := identity.ParseBearer(r.Header.Get("Authorization"))
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil || claims == nil {
				if err != nil {
					slog.Debug("bearer token rejected",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			noteUID(r.Context(), claims.UID)
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireCapability は認証済みクレームが指定権限を満たさない場合に403を返すミドルウェアを返す。
// 認証ミドルウェアの後に配置する。
func RequireCapability(capability policy.Capability) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !policy.Authorize(claims, capability) {
				slog.Warn("capability denied",
					slog.String("uid", claims.UID),
					slog.String("role", string(claims.Role)),
					slog.String("capability", string(capability)),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(string(capability)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext はリクエストコンテキストから検証済みクレームを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func ClaimsFromContext(ctx context.Context) (*identity.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*identity.Claims)
	if !ok || claims == nil || claims.UID == "" {
		return nil, false
	}
	return claims, true
}

// ContextWithClaims はコンテキストにクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims *identity.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// uidFromContext はクレームのUIDを返す。未認証の場合は空文字列。
func uidFromContext(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.UID
	}
	return ""
}
