package vault

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testRecord(id string, size int64) *VideoRecord {
	return &VideoRecord{
		ID:         id,
		Title:      "title " + id,
		FileID:     "file-" + id,
		MessageID:  "msg-" + id,
		FileSize:   size,
		MimeType:   "video/mp4",
		UploadDate: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStoreRepository_CreateVideo(t *testing.T) {
	ctx := context.Background()
	repo := NewStoreRepository(NewMemoryStore())

	if err := repo.CreateVideo(ctx, testRecord("v1", 1000)); err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	got, err := repo.GetVideo(ctx, "v1")
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if got.ID != "v1" || got.Title != "title v1" || got.FileSize != 1000 {
		t.Errorf("GetVideo: got %+v", got)
	}

	ids, err := repo.ListIDs(ctx)
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "v1" {
		t.Errorf("ListIDs: got %v", ids)
	}
}

func TestStoreRepository_CreateVideo_newestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewStoreRepository(NewMemoryStore())

	_ = repo.CreateVideo(ctx, testRecord("v1", 100))
	_ = repo.CreateVideo(ctx, testRecord("v2", 200))
	_ = repo.CreateVideo(ctx, testRecord("v3", 300))

	ids, _ := repo.ListIDs(ctx)
	if len(ids) != 3 || ids[0] != "v3" || ids[1] != "v2" || ids[2] != "v1" {
		t.Errorf("index should be newest first, got %v", ids)
	}
}

func TestStoreRepository_CreateVideo_sameIDAppearsOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewStoreRepository(NewMemoryStore())

	_ = repo.CreateVideo(ctx, testRecord("v1", 100))
	_ = repo.CreateVideo(ctx, testRecord("v2", 200))
	// Re-saving v1 moves it to the front without duplicating it.
	_ = repo.CreateVideo(ctx, testRecord("v1", 150))

	ids, _ := repo.ListIDs(ctx)
	if len(ids) != 2 || ids[0] != "v1" || ids[1] != "v2" {
		t.Errorf("duplicate create should keep the id once, got %v", ids)
	}

	got, _ := repo.GetVideo(ctx, "v1")
	if got.FileSize != 150 {
		t.Errorf("re-created record should win: got size %d", got.FileSize)
	}
}

func TestStoreRepository_DeleteVideo(t *testing.T) {
	ctx := context.Background()
	repo := NewStoreRepository(NewMemoryStore())

	_ = repo.CreateVideo(ctx, testRecord("v1", 100))
	_ = repo.CreateVideo(ctx, testRecord("v2", 200))

	if err := repo.DeleteVideo(ctx, "v1"); err != nil {
		t.Fatalf("DeleteVideo: %v", err)
	}

	if _, err := repo.GetVideo(ctx, "v1"); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("GetVideo after delete: got %v, want ErrVideoNotFound", err)
	}
	ids, _ := repo.ListIDs(ctx)
	if len(ids) != 1 || ids[0] != "v2" {
		t.Errorf("ListIDs after delete: got %v", ids)
	}
}

func TestStoreRepository_ListVideos_skipsDanglingIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := NewStoreRepository(store)

	_ = repo.CreateVideo(ctx, testRecord("v1", 100))
	_ = repo.CreateVideo(ctx, testRecord("v2", 200))

	// Simulate the race window: the record write vanished but the index
	// entry is still there.
	if err := store.Delete(ctx, videoKeyPrefix+"v1"); err != nil {
		t.Fatal(err)
	}

	records, err := repo.ListVideos(ctx)
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if len(records) != 1 || records[0].ID != "v2" {
		t.Errorf("ListVideos should skip dangling ids, got %d records", len(records))
	}
}

func TestStoreRepository_ListIDs_emptyWhenAbsent(t *testing.T) {
	repo := NewStoreRepository(NewMemoryStore())
	ids, err := repo.ListIDs(context.Background())
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("fresh store should have an empty index, got %v", ids)
	}
}

func TestStoreRepository_Reconcile(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := NewStoreRepository(store)

	t.Run("noop_when_consistent", func(t *testing.T) {
		_ = repo.CreateVideo(ctx, testRecord("v1", 100))
		repaired, err := repo.Reconcile(ctx)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		if repaired != 0 {
			t.Errorf("consistent state should need no repairs, got %d", repaired)
		}
	})

	t.Run("drops_dangling_index_entry", func(t *testing.T) {
		_ = store.Delete(ctx, videoKeyPrefix+"v1")
		repaired, err := repo.Reconcile(ctx)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		if repaired != 1 {
			t.Errorf("expected 1 repair, got %d", repaired)
		}
		ids, _ := repo.ListIDs(ctx)
		if len(ids) != 0 {
			t.Errorf("dangling id should be dropped, got %v", ids)
		}
	})

	t.Run("appends_orphan_record", func(t *testing.T) {
		// Record write succeeded, index write never happened.
		if err := repo.PutVideo(ctx, testRecord("orphan", 100)); err != nil {
			t.Fatal(err)
		}
		repaired, err := repo.Reconcile(ctx)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		if repaired != 1 {
			t.Errorf("expected 1 repair, got %d", repaired)
		}
		ids, _ := repo.ListIDs(ctx)
		if len(ids) != 1 || ids[0] != "orphan" {
			t.Errorf("orphan record should be indexed, got %v", ids)
		}
	})
}

// failingStore fails every operation; used to verify error propagation.
type failingStore struct{}

var errStoreDown = errors.New("store unavailable")

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errStoreDown }
func (failingStore) Put(context.Context, string, []byte) error   { return errStoreDown }
func (failingStore) Delete(context.Context, string) error        { return errStoreDown }
func (failingStore) List(context.Context, string) ([]string, error) {
	return nil, errStoreDown
}

func TestStoreRepository_storeFailurePropagates(t *testing.T) {
	ctx := context.Background()
	repo := NewStoreRepository(failingStore{})

	if err := repo.CreateVideo(ctx, testRecord("v1", 100)); !errors.Is(err, errStoreDown) {
		t.Errorf("CreateVideo: got %v, want wrapped store error", err)
	}
	if _, err := repo.GetVideo(ctx, "v1"); !errors.Is(err, errStoreDown) {
		t.Errorf("GetVideo: got %v, want wrapped store error", err)
	}
	if _, err := repo.ListVideos(ctx); !errors.Is(err, errStoreDown) {
		t.Errorf("ListVideos: got %v, want wrapped store error", err)
	}
}
