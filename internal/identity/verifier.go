package identity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/upstream"
)

// TokenVerifier はIdPが発行したIDトークンを検証する。
// 署名鍵の取得とキャッシュ、iss/aud/expの検証はfirebase auth.Clientが行う。
type TokenVerifier struct {
	client  AuthClient
	timeout time.Duration
}

// NewTokenVerifier はTokenVerifierを生成する。
// timeoutは署名鍵の取得を含む検証全体に適用する。
func NewTokenVerifier(client AuthClient, timeout time.Duration) *TokenVerifier {
	return &TokenVerifier{client: client, timeout: timeout}
}

// Verify はトークンを検証しクレームを返す。
// 失敗理由に関わらずErrInvalidTokenを返す（フェイルクローズ）。
func (v *TokenVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	tok, err := upstream.Value(ctx, "identity.verify_token", v.timeout, func(ctx context.Context) (*auth.Token, error) {
		return v.client.VerifyIDToken(ctx, token)
	})
	if err != nil {
		slog.Debug("token verification failed", slog.String("error", err.Error()))
		return nil, ErrInvalidToken
	}
	if tok == nil || tok.UID == "" {
		return nil, ErrInvalidToken
	}

	email, _ := tok.Claims["email"].(string)
	return &Claims{
		UID:   tok.UID,
		Email: model.NormalizeEmail(email),
		Role:  roleFromClaims(tok.Claims),
	}, nil
}

// ParseBearer はAuthorizationヘッダー値からトークンを取り出す。
// 形式が不正な場合はErrInvalidTokenを返す。
func ParseBearer(header string) (string, error) {
	const prefix = "bearer "
	v := strings.TrimSpace(header)
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(v[len(prefix):])
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}

// compile-time interface check
var _ Verifier = (*TokenVerifier)(nil)
