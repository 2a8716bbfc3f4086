package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/upstream"
)

const invitationColumns = `token, namespace, email, role, status, created_at, created_by,
	expires_at, accepted_at, bound_username`

// PostgresInvitationRepo はPostgreSQLを使用した招待リポジトリ。
type PostgresInvitationRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresInvitationRepo はPostgresInvitationRepoを生成する。
// timeoutは各クエリに課すタイムアウト。0以下の場合は課さない。
func NewPostgresInvitationRepo(db *sql.DB, timeout time.Duration) *PostgresInvitationRepo {
	return &PostgresInvitationRepo{db: db, timeout: timeout}
}

// CreatePending は(namespace, email)に有効なpending招待が無い場合のみ招待を作成する。
// トランザクションスコープのアドバイザリロックで同一(namespace, email)の作成を直列化する。
func (r *PostgresInvitationRepo) CreatePending(ctx context.Context, inv *model.Invitation, now time.Time) error {
	return upstream.Call(ctx, "store.invitation_create", r.timeout, func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		lockKey := string(inv.Namespace) + ":" + inv.Email
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("failed to acquire invitation lock: %w", err)
		}

		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM invitations
				WHERE namespace = $1 AND email = $2 AND status = 'pending' AND expires_at > $3
			)`,
			inv.Namespace, inv.Email, now,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check pending invitation: %w", err)
		}
		if exists {
			return ErrConflict
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO invitations (token, namespace, email, role, status, created_at, created_by, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			inv.Token, inv.Namespace, inv.Email, inv.Role, inv.Status, inv.CreatedAt, inv.CreatedBy, inv.ExpiresAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("failed to insert invitation: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// FindByToken はトークンで招待を取得する。見つからない場合はnilを返す。
// UUIDとして不正なトークンも見つからないものとして扱う。
func (r *PostgresInvitationRepo) FindByToken(ctx context.Context, ns model.Namespace, token string) (*model.Invitation, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, nil
	}

	return upstream.Value(ctx, "store.invitation_find", r.timeout, func(ctx context.Context) (*model.Invitation, error) {
		row := r.db.QueryRowContext(ctx,
			`SELECT `+invitationColumns+` FROM invitations WHERE token = $1 AND namespace = $2`,
			token, ns,
		)
		inv, err := scanInvitation(row)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find invitation by token: %w", err)
		}
		return inv, nil
	})
}

// ListByNamespace は名前空間の招待を作成日時の降順で返す。
func (r *PostgresInvitationRepo) ListByNamespace(ctx context.Context, ns model.Namespace) ([]*model.Invitation, error) {
	return upstream.Value(ctx, "store.invitation_list", r.timeout, func(ctx context.Context) ([]*model.Invitation, error) {
		rows, err := r.db.QueryContext(ctx,
			`SELECT `+invitationColumns+` FROM invitations WHERE namespace = $1 ORDER BY created_at DESC`,
			ns,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to list invitations: %w", err)
		}
		defer rows.Close()

		var invitations []*model.Invitation
		for rows.Next() {
			inv, err := scanInvitation(rows)
			if err != nil {
				return nil, fmt.Errorf("failed to scan invitation: %w", err)
			}
			invitations = append(invitations, inv)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate invitations: %w", err)
		}
		return invitations, nil
	})
}

// Claim はpendingかつ期限内の招待のみをacceptedへ遷移させる。
// 同時に複数の受諾が到達しても、遷移できるのは1件のみ。
func (r *PostgresInvitationRepo) Claim(ctx context.Context, ns model.Namespace, token, username string, now time.Time) (bool, error) {
	now = now.Truncate(time.Microsecond)
	return upstream.Value(ctx, "store.invitation_claim", r.timeout, func(ctx context.Context) (bool, error) {
		result, err := r.db.ExecContext(ctx,
			`UPDATE invitations
			 SET status = 'accepted', accepted_at = $3, bound_username = $4
			 WHERE token = $1 AND namespace = $2 AND status = 'pending' AND expires_at > $3`,
			token, ns, now, username,
		)
		if err != nil {
			return false, fmt.Errorf("failed to claim invitation: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get rows affected: %w", err)
		}
		return n == 1, nil
	})
}

// ReleaseClaim はClaimで確保した招待をpendingへ戻す。
func (r *PostgresInvitationRepo) ReleaseClaim(ctx context.Context, ns model.Namespace, token string, claimedAt time.Time) error {
	claimedAt = claimedAt.Truncate(time.Microsecond)
	return upstream.Call(ctx, "store.invitation_release", r.timeout, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx,
			`UPDATE invitations
			 SET status = 'pending', accepted_at = NULL, bound_username = NULL
			 WHERE token = $1 AND namespace = $2 AND status = 'accepted' AND accepted_at = $3`,
			token, ns, claimedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to release invitation claim: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvitation(s rowScanner) (*model.Invitation, error) {
	inv := &model.Invitation{}
	var acceptedAt sql.NullTime
	var boundUsername sql.NullString
	err := s.Scan(
		&inv.Token, &inv.Namespace, &inv.Email, &inv.Role, &inv.Status,
		&inv.CreatedAt, &inv.CreatedBy, &inv.ExpiresAt, &acceptedAt, &boundUsername,
	)
	if err != nil {
		return nil, err
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	inv.BoundUsername = boundUsername.String
	return inv, nil
}

// compile-time interface check
var _ InvitationRepository = (*PostgresInvitationRepo)(nil)
