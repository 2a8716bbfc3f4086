package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
)

func newPendingInvitation(email string, now time.Time) *model.Invitation {
	return &model.Invitation{
		Token:     uuid.NewString(),
		Namespace: model.NamespaceFactory,
		Email:     email,
		Role:      model.RoleWorker,
		Status:    model.InvitationPending,
		CreatedAt: now,
		CreatedBy: "admin-uid",
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
}

func TestPostgresInvitationRepo_FindByToken_InvalidUUID_ReturnsNil(t *testing.T) {
	// UUIDとして不正なトークンはDBに問い合わせずnilを返す
	repo := NewPostgresInvitationRepo(nil, time.Second)
	inv, err := repo.FindByToken(context.Background(), model.NamespaceFactory, "not-a-uuid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv != nil {
		t.Errorf("expected nil, got %+v", inv)
	}
}

func TestPostgresInvitationRepo_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresInvitationRepo(db, 5*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	inv := newPendingInvitation("dana@example.com", now)
	if err := repo.CreatePending(ctx, inv, now); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	got, err := repo.FindByToken(ctx, model.NamespaceFactory, inv.Token)
	if err != nil {
		t.Fatalf("FindByToken failed: %v", err)
	}
	if got == nil || got.Email != "dana@example.com" || got.Status != model.InvitationPending {
		t.Fatalf("unexpected invitation: %+v", got)
	}

	// 別名前空間からは見えない
	other, err := repo.FindByToken(ctx, model.NamespaceCRM, inv.Token)
	if err != nil {
		t.Fatalf("FindByToken failed: %v", err)
	}
	if other != nil {
		t.Error("invitation must not be visible from another namespace")
	}
}

func TestPostgresInvitationRepo_CreatePending_ConflictWhilePending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresInvitationRepo(db, 5*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.CreatePending(ctx, newPendingInvitation("dup@example.com", now), now); err != nil {
		t.Fatalf("first CreatePending failed: %v", err)
	}
	err := repo.CreatePending(ctx, newPendingInvitation("dup@example.com", now), now)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	// 期限切れ後は再作成できる
	later := now.Add(8 * 24 * time.Hour)
	if err := repo.CreatePending(ctx, newPendingInvitation("dup@example.com", later), later); err != nil {
		t.Errorf("CreatePending after expiry failed: %v", err)
	}
}

func TestPostgresInvitationRepo_CreatePending_ConcurrentOnlyOneWins(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresInvitationRepo(db, 5*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.CreatePending(ctx, newPendingInvitation("race@example.com", now), now)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != n-1 {
		t.Errorf("ok=%d conflicts=%d, want 1 and %d", ok, conflicts, n-1)
	}
}

func TestPostgresInvitationRepo_Claim_CompareAndSet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresInvitationRepo(db, 5*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	inv := newPendingInvitation("claim@example.com", now)
	if err := repo.CreatePending(ctx, inv, now); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Claim(ctx, model.NamespaceFactory, inv.Token, "claim", now)
			if err != nil {
				t.Errorf("Claim failed: %v", err)
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for ok := range results {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Errorf("exactly one claim must win, got %d", won)
	}

	got, _ := repo.FindByToken(ctx, model.NamespaceFactory, inv.Token)
	if got.Status != model.InvitationAccepted || got.BoundUsername != "claim" || got.AcceptedAt == nil {
		t.Errorf("unexpected invitation after claim: %+v", got)
	}
}

func TestPostgresInvitationRepo_Claim_ExpiredFails(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresInvitationRepo(db, 5*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	inv := newPendingInvitation("late@example.com", now)
	if err := repo.CreatePending(ctx, inv, now); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	ok, err := repo.Claim(ctx, model.NamespaceFactory, inv.Token, "late", inv.ExpiresAt)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if ok {
		t.Error("claim at expiresAt must fail")
	}
}

func TestPostgresInvitationRepo_ReleaseClaim(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresInvitationRepo(db, 5*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	inv := newPendingInvitation("release@example.com", now)
	if err := repo.CreatePending(ctx, inv, now); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	claimedAt := now.Add(time.Minute)
	if ok, err := repo.Claim(ctx, model.NamespaceFactory, inv.Token, "release", claimedAt); err != nil || !ok {
		t.Fatalf("Claim failed: ok=%v err=%v", ok, err)
	}

	// 異なるclaimedAtでは戻らない
	if err := repo.ReleaseClaim(ctx, model.NamespaceFactory, inv.Token, claimedAt.Add(time.Second)); err != nil {
		t.Fatalf("ReleaseClaim failed: %v", err)
	}
	got, _ := repo.FindByToken(ctx, model.NamespaceFactory, inv.Token)
	if got.Status != model.InvitationAccepted {
		t.Fatalf("mismatched release must not revert, got %q", got.Status)
	}

	if err := repo.ReleaseClaim(ctx, model.NamespaceFactory, inv.Token, claimedAt); err != nil {
		t.Fatalf("ReleaseClaim failed: %v", err)
	}
	got, _ = repo.FindByToken(ctx, model.NamespaceFactory, inv.Token)
	if got.Status != model.InvitationPending || got.AcceptedAt != nil || got.BoundUsername != "" {
		t.Errorf("unexpected invitation after release: %+v", got)
	}
}

func TestPostgresInvitationRepo_ListByNamespace_NewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresInvitationRepo(db, 5*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	first := newPendingInvitation("first@example.com", now.Add(-time.Hour))
	second := newPendingInvitation("second@example.com", now)
	crm := newPendingInvitation("crm@example.com", now)
	crm.Namespace = model.NamespaceCRM

	for _, inv := range []*model.Invitation{first, second, crm} {
		if err := repo.CreatePending(ctx, inv, now); err != nil {
			t.Fatalf("CreatePending failed: %v", err)
		}
	}

	list, err := repo.ListByNamespace(ctx, model.NamespaceFactory)
	if err != nil {
		t.Fatalf("ListByNamespace failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Email != "second@example.com" || list[1].Email != "first@example.com" {
		t.Errorf("unexpected order: %s, %s", list[0].Email, list[1].Email)
	}
}
