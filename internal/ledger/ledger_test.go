package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/sitewarden/internal/clock"
	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/goodtune/sitewarden/internal/storage/bolt"
	"github.com/rs/zerolog"
)

func newTestLedger(t *testing.T) (*Ledger, *clock.TestClock) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "test.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clk := &clock.TestClock{CurrentTime: time.Date(2024, 1, 2, 12, 0, 0, 0, time.Local)}
	return New(store.Usage(), clk, zerolog.Nop()), clk
}

func TestGetOrCreateReturnsFreshRecord(t *testing.T) {
	ledger, clk := newTestLedger(t)
	ctx := context.Background()

	rec, err := ledger.GetOrCreate(ctx, "youtube.com")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if rec.Domain != "youtube.com" || rec.Date != "2024-01-02" {
		t.Fatalf("unexpected record identity: %+v", rec)
	}
	if rec.Status != storage.StatusActive || rec.UsedSeconds != 0 {
		t.Fatalf("fresh record should be active with zero usage: %+v", rec)
	}
	if !rec.LastUpdatedAt.Equal(clk.Now()) {
		t.Fatalf("expected last updated %v, got %v", clk.Now(), rec.LastUpdatedAt)
	}
}

func TestGetOrCreatePreservesExistingRecord(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Increment(ctx, "youtube.com", 90); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	rec, err := ledger.GetOrCreate(ctx, "youtube.com")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if rec.UsedSeconds != 90 {
		t.Fatalf("expected existing usage preserved, got %d", rec.UsedSeconds)
	}
}

func TestIncrementAccumulates(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := ledger.Increment(ctx, "youtube.com", 1); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}

	total, err := ledger.Increment(ctx, "youtube.com", 1)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if total != 6 {
		t.Fatalf("expected 6 seconds tracked, got %d", total)
	}
}

func TestIncrementRejectsNegative(t *testing.T) {
	ledger, _ := newTestLedger(t)

	if _, err := ledger.Increment(context.Background(), "youtube.com", -5); err == nil {
		t.Fatal("expected error for negative increment")
	}
}

func TestIncrementRollsOverAtMidnight(t *testing.T) {
	ledger, clk := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Increment(ctx, "youtube.com", 100); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	clk.Advance(24 * time.Hour)

	total, err := ledger.Increment(ctx, "youtube.com", 10)
	if err != nil {
		t.Fatalf("Increment after rollover: %v", err)
	}
	if total != 10 {
		t.Fatalf("expected fresh counter for new day, got %d", total)
	}
}

func TestAdjustRequiresExistingRecord(t *testing.T) {
	ledger, _ := newTestLedger(t)

	if _, err := ledger.Adjust(context.Background(), "youtube.com", -600); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemaining(t *testing.T) {
	site := &storage.Site{Domain: "youtube.com", DailyLimitSeconds: 3600}

	tests := []struct {
		used int64
		want int64
	}{
		{0, 3600},
		{3599, 1},
		{3600, 0},
		{3700, -100},
	}
	for _, tt := range tests {
		rec := &storage.DayUsage{Domain: "youtube.com", UsedSeconds: tt.used}
		if got := Remaining(site, rec); got != tt.want {
			t.Errorf("Remaining(used=%d) = %d, want %d", tt.used, got, tt.want)
		}
	}
}

func TestWeeklyUsageSumsLastSevenDays(t *testing.T) {
	ledger, clk := newTestLedger(t)
	ctx := context.Background()

	// Eight days ago: outside the window.
	clk.Advance(-8 * 24 * time.Hour)
	if _, err := ledger.Increment(ctx, "youtube.com", 999); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	clk.Advance(2 * 24 * time.Hour) // six days ago
	if _, err := ledger.Increment(ctx, "youtube.com", 100); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	clk.Advance(6 * 24 * time.Hour) // today
	if _, err := ledger.Increment(ctx, "youtube.com", 50); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	total, err := ledger.WeeklyUsage(ctx, "youtube.com")
	if err != nil {
		t.Fatalf("WeeklyUsage: %v", err)
	}
	if total != 150 {
		t.Fatalf("expected 150 seconds over the week, got %d", total)
	}
}
