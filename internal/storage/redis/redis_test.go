package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/sitewarden/internal/config"
	"github.com/goodtune/sitewarden/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // full "host:port" address
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestUsageStore_IncrementCreatesRecord(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	usage := store.Usage()

	total, err := usage.IncrementUsed(ctx, "youtube.com", "2024-01-02", 1)
	if err != nil {
		t.Fatalf("IncrementUsed failed: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected total 1, got %d", total)
	}

	rec, err := usage.Get(ctx, "youtube.com", "2024-01-02")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != storage.StatusActive {
		t.Errorf("Expected status active, got %s", rec.Status)
	}
	if rec.UsedSeconds != 1 {
		t.Errorf("Expected used 1, got %d", rec.UsedSeconds)
	}
}

func TestUsageStore_AdjustClampsAtZero(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	usage := store.Usage()

	if _, err := usage.IncrementUsed(ctx, "youtube.com", "2024-01-02", 120); err != nil {
		t.Fatalf("IncrementUsed failed: %v", err)
	}

	total, err := usage.AdjustUsed(ctx, "youtube.com", "2024-01-02", -600)
	if err != nil {
		t.Fatalf("AdjustUsed failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected clamp at 0, got %d", total)
	}

	if _, err := usage.AdjustUsed(ctx, "missing.com", "2024-01-02", -1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUsageStore_PutRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	usage := store.Usage()

	pendingAt := time.Now().Truncate(time.Millisecond)
	rec := storage.DayUsage{
		Domain:                   "reddit.com",
		Date:                     "2024-01-02",
		UsedSeconds:              1200,
		Status:                   storage.StatusPending,
		PendingStartedAt:         &pendingAt,
		EmergencyGrantsUsedToday: 2,
		RestartedToday:           true,
		TimeLockExemptToday:      true,
		LastUpdatedAt:            time.Now(),
	}

	if err := usage.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := usage.Get(ctx, "reddit.com", "2024-01-02")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != storage.StatusPending {
		t.Errorf("Expected status pending, got %s", got.Status)
	}
	if got.PendingStartedAt == nil || !got.PendingStartedAt.Equal(pendingAt) {
		t.Errorf("Expected pending_started_at %v, got %v", pendingAt, got.PendingStartedAt)
	}
	if got.EmergencyGrantsUsedToday != 2 {
		t.Errorf("Expected 2 grants, got %d", got.EmergencyGrantsUsedToday)
	}
	if !got.RestartedToday || !got.TimeLockExemptToday {
		t.Error("Expected restart flags preserved")
	}
}

func TestUsageStore_ListAndDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	usage := store.Usage()

	for _, rec := range []struct{ domain, date string }{
		{"youtube.com", "2024-01-01"},
		{"youtube.com", "2024-01-02"},
		{"reddit.com", "2024-01-02"},
	} {
		if _, err := usage.IncrementUsed(ctx, rec.domain, rec.date, 60); err != nil {
			t.Fatalf("IncrementUsed %s/%s failed: %v", rec.domain, rec.date, err)
		}
	}

	byDate, err := usage.ListByDate(ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("ListByDate failed: %v", err)
	}
	if len(byDate) != 2 {
		t.Errorf("Expected 2 records, got %d", len(byDate))
	}

	since, err := usage.ListByDomainSince(ctx, "youtube.com", "2024-01-02")
	if err != nil {
		t.Fatalf("ListByDomainSince failed: %v", err)
	}
	if len(since) != 1 {
		t.Errorf("Expected 1 record, got %d", len(since))
	}

	deleted, err := usage.DeleteBefore(ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}
}

func TestSiteStore_DomainUniqueness(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sites := store.Sites()

	site := storage.Site{ID: "site-a", Domain: "youtube.com", DisplayName: "YouTube", DailyLimitSeconds: 1800, Enabled: true, CreatedAt: time.Now()}
	if err := sites.Upsert(ctx, site); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	dup := storage.Site{ID: "site-b", Domain: "youtube.com"}
	if err := sites.Upsert(ctx, dup); !errors.Is(err, storage.ErrDomainExists) {
		t.Errorf("Expected ErrDomainExists, got %v", err)
	}

	got, err := sites.GetByDomain(ctx, "youtube.com")
	if err != nil {
		t.Fatalf("GetByDomain failed: %v", err)
	}
	if got.ID != "site-a" {
		t.Errorf("Expected site-a, got %s", got.ID)
	}

	if err := sites.Delete(ctx, "site-a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := sites.GetByDomain(ctx, "youtube.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestPolicyStore_ClaimEmergencyRestart(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	policies := store.Policy()

	if err := policies.Put(ctx, storage.GlobalPolicy{
		DailyResetTime:        "06:00",
		EmergencyExtraSeconds: 600,
		PendingGraceSeconds:   30,
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	claimed, err := policies.ClaimEmergencyRestart(ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("ClaimEmergencyRestart failed: %v", err)
	}
	if !claimed {
		t.Error("Expected first claim to succeed")
	}

	claimed, err = policies.ClaimEmergencyRestart(ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("Second claim failed: %v", err)
	}
	if claimed {
		t.Error("Expected second same-day claim to fail")
	}

	if err := policies.ClearEmergencyRestart(ctx); err != nil {
		t.Fatalf("ClearEmergencyRestart failed: %v", err)
	}
	policy, err := policies.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if policy.EmergencyRestartUsedToday {
		t.Error("Expected flag cleared")
	}
}
