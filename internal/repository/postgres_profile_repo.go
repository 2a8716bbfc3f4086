package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/upstream"
)

const profileColumns = `id, namespace, username, email, name, localized_names, role, status,
	identity_ref, created_at, updated_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB, timeout time.Duration) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db, timeout: timeout}
}

// FindByEmail はメールアドレスでプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByEmail(ctx context.Context, ns model.Namespace, email string) (*model.AccountProfile, error) {
	return r.findOne(ctx, "store.profile_find_email",
		`SELECT `+profileColumns+` FROM profiles WHERE namespace = $1 AND email = $2`,
		ns, email,
	)
}

// FindByUsername はユーザー名でプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUsername(ctx context.Context, ns model.Namespace, username string) (*model.AccountProfile, error) {
	return r.findOne(ctx, "store.profile_find_username",
		`SELECT `+profileColumns+` FROM profiles WHERE namespace = $1 AND username = $2`,
		ns, username,
	)
}

func (r *PostgresProfileRepo) findOne(ctx context.Context, op, query string, args ...any) (*model.AccountProfile, error) {
	return upstream.Value(ctx, op, r.timeout, func(ctx context.Context) (*model.AccountProfile, error) {
		p, err := scanProfile(r.db.QueryRowContext(ctx, query, args...))
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find profile: %w", err)
		}
		return p, nil
	})
}

// ListByNamespace は名前空間のプロフィールをユーザー名順で返す。
func (r *PostgresProfileRepo) ListByNamespace(ctx context.Context, ns model.Namespace) ([]*model.AccountProfile, error) {
	return upstream.Value(ctx, "store.profile_list", r.timeout, func(ctx context.Context) ([]*model.AccountProfile, error) {
		rows, err := r.db.QueryContext(ctx,
			`SELECT `+profileColumns+` FROM profiles WHERE namespace = $1 ORDER BY username`,
			ns,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to list profiles: %w", err)
		}
		defer rows.Close()

		var profiles []*model.AccountProfile
		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				return nil, fmt.Errorf("failed to scan profile: %w", err)
			}
			profiles = append(profiles, p)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate profiles: %w", err)
		}
		return profiles, nil
	})
}

// Upsert は(namespace, email)をキーにプロフィールを作成または更新する。
// 再実行しても同一メールアドレスのプロフィールが2件になることはない。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, p *model.AccountProfile) (*model.AccountProfile, error) {
	names, err := encodeLocalizedNames(p.LocalizedNames)
	if err != nil {
		return nil, err
	}

	return upstream.Value(ctx, "store.profile_upsert", r.timeout, func(ctx context.Context) (*model.AccountProfile, error) {
		row := r.db.QueryRowContext(ctx,
			`INSERT INTO profiles (id, namespace, username, email, name, localized_names, role, status, identity_ref, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (namespace, email) DO UPDATE SET
				name = EXCLUDED.name,
				localized_names = EXCLUDED.localized_names,
				role = EXCLUDED.role,
				status = EXCLUDED.status,
				identity_ref = EXCLUDED.identity_ref,
				updated_at = EXCLUDED.created_at
			 RETURNING `+profileColumns,
			p.ID, p.Namespace, p.Username, p.Email, p.Name, names, p.Role, p.Status, p.IdentityRef, p.CreatedAt,
		)
		saved, err := scanProfile(row)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrConflict
			}
			return nil, fmt.Errorf("failed to upsert profile: %w", err)
		}
		return saved, nil
	})
}

// Update はプロフィールのname、localized_names、role、statusを更新する。
func (r *PostgresProfileRepo) Update(ctx context.Context, p *model.AccountProfile) error {
	names, err := encodeLocalizedNames(p.LocalizedNames)
	if err != nil {
		return err
	}

	return upstream.Call(ctx, "store.profile_update", r.timeout, func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx,
			`UPDATE profiles
			 SET name = $3, localized_names = $4, role = $5, status = $6, updated_at = $7
			 WHERE namespace = $1 AND username = $2`,
			p.Namespace, p.Username, p.Name, names, p.Role, p.Status, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		return requireOneRow(result)
	})
}

// Delete はユーザー名でプロフィールを削除する。
func (r *PostgresProfileRepo) Delete(ctx context.Context, ns model.Namespace, username string) error {
	return upstream.Call(ctx, "store.profile_delete", r.timeout, func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx,
			`DELETE FROM profiles WHERE namespace = $1 AND username = $2`,
			ns, username,
		)
		if err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		return requireOneRow(result)
	})
}

func scanProfile(s rowScanner) (*model.AccountProfile, error) {
	p := &model.AccountProfile{}
	var names []byte
	var updatedAt sql.NullTime
	err := s.Scan(
		&p.ID, &p.Namespace, &p.Username, &p.Email, &p.Name, &names,
		&p.Role, &p.Status, &p.IdentityRef, &p.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		if err := json.Unmarshal(names, &p.LocalizedNames); err != nil {
			return nil, fmt.Errorf("failed to decode localized names: %w", err)
		}
		if len(p.LocalizedNames) == 0 {
			p.LocalizedNames = nil
		}
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		p.UpdatedAt = &t
	}
	return p, nil
}

func encodeLocalizedNames(names map[string]string) ([]byte, error) {
	if names == nil {
		names = map[string]string{}
	}
	b, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("failed to encode localized names: %w", err)
	}
	return b, nil
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation はPostgreSQLの一意性制約違反（23505）かどうかを返す。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
