package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/linnemanlabs/queuewatch/internal/board"
	"github.com/linnemanlabs/queuewatch/internal/journal"
)

func TestStore_PutAndListRefreshes(t *testing.T) {
	t.Parallel()

	s := New(10)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		r := &journal.RefreshRecord{ID: fmt.Sprintf("r-%d", i), Generation: uint64(i), Outcome: board.OutcomeSuccess}
		if err := s.PutRefresh(ctx, r); err != nil {
			t.Fatalf("PutRefresh: %v", err)
		}
	}

	got, err := s.ListRefreshes(ctx, 0)
	if err != nil {
		t.Fatalf("ListRefreshes: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "r-3" || got[2].ID != "r-1" {
		t.Errorf("order = %s,%s,%s, want newest first", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestStore_ListLimit(t *testing.T) {
	t.Parallel()

	s := New(10)
	ctx := context.Background()
	for i := range 5 {
		_ = s.PutAck(ctx, &journal.AckRecord{ID: fmt.Sprintf("a-%d", i)})
	}

	got, err := s.ListAcks(ctx, 2)
	if err != nil {
		t.Fatalf("ListAcks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "a-4" || got[1].ID != "a-3" {
		t.Errorf("got %s,%s, want a-4,a-3", got[0].ID, got[1].ID)
	}
}

func TestStore_Retention(t *testing.T) {
	t.Parallel()

	s := New(3)
	ctx := context.Background()
	for i := range 7 {
		_ = s.PutRefresh(ctx, &journal.RefreshRecord{ID: fmt.Sprintf("r-%d", i)})
	}

	got, _ := s.ListRefreshes(ctx, 0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{"r-6", "r-5", "r-4"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestStore_DefaultRetention(t *testing.T) {
	t.Parallel()

	s := New(0)
	if s.retention != DefaultRetention {
		t.Errorf("retention = %d, want %d", s.retention, DefaultRetention)
	}
}

func TestStore_PutStoresCopy(t *testing.T) {
	t.Parallel()

	s := New(10)
	ctx := context.Background()
	r := &journal.RefreshRecord{ID: "r-1", QueueCount: 4}
	_ = s.PutRefresh(ctx, r)
	r.QueueCount = 99

	got, _ := s.ListRefreshes(ctx, 1)
	if got[0].QueueCount != 4 {
		t.Errorf("QueueCount = %d, want 4 (store must keep a copy)", got[0].QueueCount)
	}
}

func TestStore_ListEmpty(t *testing.T) {
	t.Parallel()

	s := New(10)
	got, err := s.ListAcks(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListAcks: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New(50)
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := range 100 {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.PutRefresh(ctx, &journal.RefreshRecord{ID: fmt.Sprintf("r-%d", i)})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.ListRefreshes(ctx, 10)
		}()
	}
	wg.Wait()

	got, _ := s.ListRefreshes(ctx, 0)
	if len(got) != 50 {
		t.Errorf("len = %d, want 50 after retention", len(got))
	}
}
