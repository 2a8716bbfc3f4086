package identity

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// AuthClient はfirebase auth.Clientのうち本パッケージが使う操作。
// *auth.Client がそのまま満たす。
type AuthClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (*auth.UserRecord, error)
	SetCustomUserClaims(ctx context.Context, uid string, customClaims map[string]interface{}) error
	UpdateUser(ctx context.Context, uid string, user *auth.UserToUpdate) (*auth.UserRecord, error)
	DeleteUser(ctx context.Context, uid string) error
}

// FirebaseConfig はIdPクライアントの設定。
type FirebaseConfig struct {
	ProjectID string
	// CredentialsFile はサービスアカウント鍵のパス。空の場合はApplication Default Credentialsを使う。
	CredentialsFile string
}

// NewAuthClient はfirebase auth.Clientを生成する。
// FIREBASE_AUTH_EMULATOR_HOST が設定されている場合はエミュレーターへ接続する。
func NewAuthClient(ctx context.Context, cfg FirebaseConfig) (*auth.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth client: %w", err)
	}
	return client, nil
}

// compile-time interface check
var _ AuthClient = (*auth.Client)(nil)
