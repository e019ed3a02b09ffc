package repository

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryRepository_Lifecycle(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s, err := repo.Create(ctx, "user-1", at)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == "" || !s.IsActive || !s.LastActivity.Equal(at) || !s.CreatedAt.Equal(at) {
		t.Fatalf("Create returned %+v", s)
	}
	other, _ := repo.Create(ctx, "user-1", at)
	if other.ID == s.ID {
		t.Fatal("two logins must get distinct session ids")
	}

	got, err := repo.GetActive(ctx, s.ID)
	if err != nil || got == nil {
		t.Fatalf("GetActive = %+v, %v", got, err)
	}
	got.UserID = "mutated"
	if again, _ := repo.GetActive(ctx, s.ID); again.UserID != "user-1" {
		t.Error("GetActive must return a copy")
	}

	if _, err := repo.Touch(ctx, s.ID, at.Add(time.Minute)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	changed, err := repo.Invalidate(ctx, s.ID)
	if err != nil || !changed {
		t.Fatalf("Invalidate = %v, %v", changed, err)
	}
	changed, err = repo.Invalidate(ctx, s.ID)
	if err != nil || changed {
		t.Fatalf("second Invalidate = %v, %v, want false, nil", changed, err)
	}
	if got, _ := repo.Touch(ctx, s.ID, at.Add(2*time.Minute)); got != nil {
		t.Errorf("Touch after invalidate = %+v, want nil", got)
	}
	stored := repo.Get(s.ID)
	if stored == nil || stored.IsActive {
		t.Fatalf("stored session = %+v, want inactive record", stored)
	}
	if !stored.LastActivity.Equal(at.Add(time.Minute)) {
		t.Errorf("LastActivity = %v, want %v", stored.LastActivity, at.Add(time.Minute))
	}
	if changed, err := repo.Invalidate(ctx, "missing"); err != nil || changed {
		t.Errorf("Invalidate missing = %v, %v, want false, nil", changed, err)
	}
}

func TestMemoryRepository_CancelledContext(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := repo.Create(ctx, "user-1", time.Now()); err == nil {
		t.Error("Create with cancelled context should fail")
	}
	if _, err := repo.Touch(ctx, "x", time.Now()); err == nil {
		t.Error("Touch with cancelled context should fail")
	}
}

func TestMemoryRepository_ConcurrentTouchIsMonotonic(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s, _ := repo.Create(ctx, "user-1", base)

	var wg sync.WaitGroup
	for i := 50; i >= 1; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = repo.Touch(ctx, s.ID, base.Add(time.Duration(i)*time.Second))
		}(i)
	}
	wg.Wait()

	got := repo.Get(s.ID)
	if want := base.Add(50 * time.Second); !got.LastActivity.Equal(want) {
		t.Errorf("LastActivity = %v, want %v (max of all touches)", got.LastActivity, want)
	}
}

func TestMemoryRepository_InvalidateWinsOverLateTouch(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s, _ := repo.Create(ctx, "user-1", base)

	var wg sync.WaitGroup
	var invalidations int
	var mu sync.Mutex
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = repo.Touch(ctx, s.ID, base.Add(time.Duration(i)*time.Second))
		}()
		go func() {
			defer wg.Done()
			if changed, _ := repo.Invalidate(ctx, s.ID); changed {
				mu.Lock()
				invalidations++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if invalidations != 1 {
		t.Errorf("invalidations = %d, want exactly 1", invalidations)
	}
	if got, _ := repo.GetActive(ctx, s.ID); got != nil {
		t.Errorf("session active after invalidate: %+v", got)
	}
}
