package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"github.com/shopspring/decimal"
)

func TestAttemptRepoCreateRejectsSecondActiveAttempt(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := repository.NewGormAttemptRepo(db)
	invoice := seedInvoice(t, db, "inv-1", "cust-1")

	first := newScheduledAttempt(t, repo, invoice, 3, baseTime)

	second, err := domain.NewRetryAttempt("a-second", invoice, 3, nil, "card_declined", "", nil, baseTime)
	if err != nil {
		t.Fatalf("NewRetryAttempt() error = %v", err)
	}
	if err := repo.Create(context.Background(), second); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Create() error = %v, want ErrConflict", err)
	}

	got, err := repo.GetActiveByInvoice(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("GetActiveByInvoice() error = %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("active attempt = %s, want %s", got.ID, first.ID)
	}
	if !got.Amount.Equal(decimal.RequireFromString("49.99")) {
		t.Fatalf("amount = %s, want 49.99", got.Amount)
	}
}

func TestAttemptRepoClaim(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := repository.NewGormAttemptRepo(db)
	invoice := seedInvoice(t, db, "inv-1", "cust-1")
	dueAt := baseTime.Add(time.Hour)
	a := newScheduledAttempt(t, repo, invoice, 3, dueAt)

	claimed, err := repo.Claim(context.Background(), a.ID, baseTime)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed {
		t.Fatal("Claim() before nextRetryAt should be refused")
	}

	claimed, err = repo.Claim(context.Background(), a.ID, dueAt)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !claimed {
		t.Fatal("Claim() on due attempt should succeed")
	}

	claimed, err = repo.Claim(context.Background(), a.ID, dueAt)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed {
		t.Fatal("Claim() on PROCESSING attempt should be refused")
	}

	got, err := repo.GetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.StatusProcessing {
		t.Fatalf("status = %s, want PROCESSING", got.Status)
	}
	if got.ClaimedAt == nil || !got.ClaimedAt.Equal(dueAt) {
		t.Fatalf("claimedAt = %v, want %v", got.ClaimedAt, dueAt)
	}
}

func TestAttemptRepoConcurrentClaimsHaveOneWinner(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := repository.NewGormAttemptRepo(db)
	invoice := seedInvoice(t, db, "inv-1", "cust-1")
	a := newScheduledAttempt(t, repo, invoice, 3, baseTime)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		claimErrs []error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.Claim(context.Background(), a.ID, baseTime)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				claimErrs = append(claimErrs, err)
				return
			}
			if claimed {
				wins++
			}
		}()
	}
	wg.Wait()

	if len(claimErrs) > 0 {
		t.Fatalf("Claim() errors = %v", claimErrs)
	}
	if wins != 1 {
		t.Fatalf("winning claims = %d, want 1", wins)
	}
}

func TestAttemptRepoSaveIsConditional(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := repository.NewGormAttemptRepo(db)
	invoice := seedInvoice(t, db, "inv-1", "cust-1")
	a := newScheduledAttempt(t, repo, invoice, 3, baseTime)

	if ok, err := repo.Claim(context.Background(), a.ID, baseTime); err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}
	claimed, err := repo.GetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	decline := "insufficient_funds"
	next := baseTime.AddDate(0, 0, 5)
	if err := claimed.MarkFailed("card_declined", "declined", &decline, baseTime); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if err := claimed.ScheduleNext(next, baseTime); err != nil {
		t.Fatalf("ScheduleNext() error = %v", err)
	}
	// A notice logged after the snapshot was read must survive the save.
	logged := []domain.NotificationRecord{{Type: domain.NotificationFailure, Channel: domain.ChannelEmail, AttemptNumber: 2, At: baseTime}}
	if err := repo.SetNotifications(context.Background(), a.ID, logged); err != nil {
		t.Fatalf("SetNotifications() error = %v", err)
	}

	if err := repo.Save(context.Background(), claimed, domain.StatusProcessing); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Save(context.Background(), claimed, domain.StatusProcessing); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Save() error = %v, want ErrConflict", err)
	}

	got, err := repo.GetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.StatusScheduled || got.AttemptNumber != 2 {
		t.Fatalf("status=%s attempt=%d, want SCHEDULED 2", got.Status, got.AttemptNumber)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(next) {
		t.Fatalf("nextRetryAt = %v, want %v", got.NextRetryAt, next)
	}
	if got.DeclineCode == nil || *got.DeclineCode != decline {
		t.Fatalf("declineCode = %v, want %s", got.DeclineCode, decline)
	}
	if got.ClaimedAt != nil {
		t.Fatalf("claimedAt = %v, want nil", got.ClaimedAt)
	}
	if !got.HasNotification(domain.NotificationFailure, 2) {
		t.Fatalf("notifications = %+v, want failure for attempt 2", got.Notifications)
	}
}

func TestAttemptRepoStuckReleaseAndReview(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := repository.NewGormAttemptRepo(db)
	invoice := seedInvoice(t, db, "inv-1", "cust-1")
	a := newScheduledAttempt(t, repo, invoice, 3, baseTime)

	if ok, err := repo.Claim(context.Background(), a.ID, baseTime); err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}
	snapshot, err := repo.GetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	stuck, err := repo.ListStuck(context.Background(), baseTime.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStuck() error = %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != a.ID {
		t.Fatalf("ListStuck() = %+v, want attempt %s", stuck, a.ID)
	}

	releasedAt := baseTime.Add(2 * time.Minute)
	if err := repo.ReleaseStuck(context.Background(), a.ID, 0, releasedAt); err != nil {
		t.Fatalf("ReleaseStuck() error = %v", err)
	}
	if err := repo.ReleaseStuck(context.Background(), a.ID, 0, releasedAt); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second ReleaseStuck() error = %v, want ErrConflict", err)
	}

	// The worker that held the released claim must not be able to persist.
	if err := snapshot.MarkSucceeded("pi_late", "ch_late", releasedAt); err != nil {
		t.Fatalf("MarkSucceeded() error = %v", err)
	}
	if ok, err := repo.Claim(context.Background(), a.ID, releasedAt); err != nil || !ok {
		t.Fatalf("re-Claim() = %v, %v", ok, err)
	}
	if err := repo.Save(context.Background(), snapshot, domain.StatusProcessing); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale Save() error = %v, want ErrConflict", err)
	}

	got, err := repo.GetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.ReclaimCount != 1 {
		t.Fatalf("reclaimCount = %d, want 1", got.ReclaimCount)
	}

	if err := repo.FlagForReview(context.Background(), a.ID, "stuck after 1 reclaims", releasedAt); err != nil {
		t.Fatalf("FlagForReview() error = %v", err)
	}
	stuck, err = repo.ListStuck(context.Background(), releasedAt.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStuck() error = %v", err)
	}
	if len(stuck) != 0 {
		t.Fatalf("ListStuck() after review flag = %d attempts, want 0", len(stuck))
	}
}

func TestAttemptRepoFlagForReviewExhausted(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := repository.NewGormAttemptRepo(db)
	ctx := context.Background()

	exhausted := newScheduledAttempt(t, repo, seedInvoice(t, db, "inv-1", "cust-1"), 1, baseTime)
	settle(t, repo, exhausted, 1, func(a *domain.RetryAttempt) error {
		return a.MarkFailed("card_declined", "", nil, baseTime)
	})
	if err := repo.FlagForReview(ctx, exhausted.ID, "terminal action incomplete", baseTime); err != nil {
		t.Fatalf("FlagForReview(FAILED) error = %v", err)
	}
	got, err := repo.GetByID(ctx, exhausted.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.NeedsReview || got.ReviewReason == nil || *got.ReviewReason != "terminal action incomplete" {
		t.Fatalf("needsReview = %v reason = %v", got.NeedsReview, got.ReviewReason)
	}

	scheduled := newScheduledAttempt(t, repo, seedInvoice(t, db, "inv-2", "cust-1"), 3, baseTime)
	if err := repo.FlagForReview(ctx, scheduled.ID, "nope", baseTime); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("FlagForReview(SCHEDULED) error = %v, want ErrConflict", err)
	}
}

func TestAttemptRepoListDue(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := repository.NewGormAttemptRepo(db)

	inv1 := seedInvoice(t, db, "inv-1", "cust-1")
	inv2 := seedInvoice(t, db, "inv-2", "cust-1")
	inv3 := seedInvoice(t, db, "inv-3", "cust-1")
	if err := db.Model(&repository.InvoiceModel{}).Where("id = ?", "inv-3").Update("tenant_id", "tenant-2").Error; err != nil {
		t.Fatalf("update tenant: %v", err)
	}
	inv3.TenantID = "tenant-2"

	later := newScheduledAttempt(t, repo, inv1, 3, baseTime.Add(-time.Minute))
	earlier := newScheduledAttempt(t, repo, inv2, 3, baseTime.Add(-time.Hour))
	other := newScheduledAttempt(t, repo, inv3, 3, baseTime.Add(-2*time.Hour))
	_ = newScheduledAttempt(t, repo, seedInvoice(t, db, "inv-4", "cust-1"), 3, baseTime.Add(time.Hour))

	due, err := repo.ListDue(context.Background(), nil, baseTime, 10)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("ListDue() len = %d, want 3", len(due))
	}
	if due[0].ID != other.ID || due[1].ID != earlier.ID || due[2].ID != later.ID {
		t.Fatalf("ListDue() order = %s,%s,%s", due[0].ID, due[1].ID, due[2].ID)
	}

	tenant := "tenant-1"
	due, err = repo.ListDue(context.Background(), &tenant, baseTime, 10)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("ListDue(tenant-1) len = %d, want 2", len(due))
	}
}

func TestAttemptRepoStats(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := repository.NewGormAttemptRepo(db)
	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Recovered on the second retry (charge 3).
	recovered := newScheduledAttempt(t, repo, seedInvoice(t, db, "inv-1", "cust-1"), 3, baseTime)
	settle(t, repo, recovered, 2, func(a *domain.RetryAttempt) error {
		return a.MarkSucceeded("pi_1", "ch_1", baseTime)
	})

	// Exhausted.
	failed := newScheduledAttempt(t, repo, seedInvoice(t, db, "inv-2", "cust-1"), 1, baseTime)
	settle(t, repo, failed, 1, func(a *domain.RetryAttempt) error {
		return a.MarkFailed("card_declined", "", nil, baseTime)
	})

	// Cancelled attempts are closed but not recovered.
	cancelled := newScheduledAttempt(t, repo, seedInvoice(t, db, "inv-3", "cust-1"), 3, baseTime.Add(time.Hour))
	if err := cancelled.Settle(domain.ResolutionCancelled, baseTime); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if err := repo.Save(context.Background(), cancelled, domain.StatusScheduled); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	_ = newScheduledAttempt(t, repo, seedInvoice(t, db, "inv-4", "cust-1"), 3, baseTime.Add(time.Hour))

	stats, err := repo.Stats(context.Background(), "tenant-1", monthStart)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("PendingCount = %d, want 1", stats.PendingCount)
	}
	if stats.PermanentlyFailedCount != 1 {
		t.Fatalf("PermanentlyFailedCount = %d, want 1", stats.PermanentlyFailedCount)
	}
	if stats.RecoveredCount != 1 || stats.RecoveredThisMonthCount != 1 {
		t.Fatalf("recovered = %d/%d, want 1/1", stats.RecoveredCount, stats.RecoveredThisMonthCount)
	}
	if !stats.RecoveredThisMonthAmount.Equal(decimal.RequireFromString("49.99")) {
		t.Fatalf("RecoveredThisMonthAmount = %s, want 49.99", stats.RecoveredThisMonthAmount)
	}
	if stats.AvgRecoveryChargeNumber != 3 {
		t.Fatalf("AvgRecoveryChargeNumber = %v, want 3", stats.AvgRecoveryChargeNumber)
	}
}

// settle drives a scheduled attempt to attemptNumber through failed charges,
// then applies final to the claimed attempt and persists it.
func settle(t *testing.T, repo *repository.GormAttemptRepo, a *domain.RetryAttempt, attemptNumber int, final func(*domain.RetryAttempt) error) {
	t.Helper()

	ctx := context.Background()
	for {
		if ok, err := repo.Claim(ctx, a.ID, baseTime); err != nil || !ok {
			t.Fatalf("Claim() = %v, %v", ok, err)
		}
		current, err := repo.GetByID(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if current.AttemptNumber == attemptNumber {
			if err := final(current); err != nil {
				t.Fatalf("final transition error = %v", err)
			}
			if err := repo.Save(ctx, current, domain.StatusProcessing); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			return
		}
		if err := current.MarkFailed("card_declined", "", nil, baseTime); err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}
		if err := current.ScheduleNext(baseTime, baseTime); err != nil {
			t.Fatalf("ScheduleNext() error = %v", err)
		}
		if err := repo.Save(ctx, current, domain.StatusProcessing); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
}
