package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	videoKeyPrefix = "video:"
	indexKey       = "video-index"
)

// ErrVideoNotFound is returned when no record exists for a video id.
var ErrVideoNotFound = errors.New("video not found")

// Repository is the metadata access contract: per-id VideoRecords plus the
// denormalized catalog index (ordered ids, newest first). Creation and
// deletion each require two independent store writes; the store offers no
// multi-key transactions, so a failure between the writes leaves record and
// index briefly disagreeing. Reconcile repairs that state.
type Repository interface {
	// GetVideo returns the record for id, or ErrVideoNotFound.
	GetVideo(ctx context.Context, id string) (*VideoRecord, error)

	// PutVideo persists the record without touching the index. Used for the
	// view-count increment on an existing record.
	PutVideo(ctx context.Context, record *VideoRecord) error

	// CreateVideo persists the record and prepends its id to the index.
	// The id ends up in the index exactly once even if it was already there.
	CreateVideo(ctx context.Context, record *VideoRecord) error

	// DeleteVideo removes id from the index and deletes the record.
	DeleteVideo(ctx context.Context, id string) error

	// ListIDs returns the catalog index, newest first. Empty if absent.
	ListIDs(ctx context.Context) ([]string, error)

	// ListVideos resolves the index to records in index order. Ids whose
	// record is missing (the create/delete race window) are skipped.
	ListVideos(ctx context.Context) ([]*VideoRecord, error)

	// Reconcile rebuilds index membership from the records actually present:
	// ids without a record are dropped, records missing from the index are
	// appended at the end. Returns the number of repaired entries.
	Reconcile(ctx context.Context) (int, error)
}

// StoreRepository implements Repository on top of a flat key-value Store.
type StoreRepository struct {
	store Store
}

// NewStoreRepository returns a repository backed by the given store.
func NewStoreRepository(store Store) *StoreRepository {
	return &StoreRepository{store: store}
}

// GetVideo implements Repository.GetVideo.
func (r *StoreRepository) GetVideo(ctx context.Context, id string) (*VideoRecord, error) {
	data, err := r.store.Get(ctx, videoKeyPrefix+id)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading video %s: %w", id, err)
	}

	var record VideoRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding video %s: %w", id, err)
	}
	return &record, nil
}

// PutVideo implements Repository.PutVideo.
func (r *StoreRepository) PutVideo(ctx context.Context, record *VideoRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding video %s: %w", record.ID, err)
	}
	if err := r.store.Put(ctx, videoKeyPrefix+record.ID, data); err != nil {
		return fmt.Errorf("writing video %s: %w", record.ID, err)
	}
	return nil
}

// CreateVideo implements Repository.CreateVideo. The record write and the
// index read-modify-write commit independently; concurrent creates can race
// on the index, last writer wins.
func (r *StoreRepository) CreateVideo(ctx context.Context, record *VideoRecord) error {
	if err := r.PutVideo(ctx, record); err != nil {
		return err
	}

	ids, err := r.ListIDs(ctx)
	if err != nil {
		return err
	}
	ids = append([]string{record.ID}, removeID(ids, record.ID)...)
	return r.putIndex(ctx, ids)
}

// DeleteVideo implements Repository.DeleteVideo.
func (r *StoreRepository) DeleteVideo(ctx context.Context, id string) error {
	ids, err := r.ListIDs(ctx)
	if err != nil {
		return err
	}
	if err := r.putIndex(ctx, removeID(ids, id)); err != nil {
		return err
	}

	if err := r.store.Delete(ctx, videoKeyPrefix+id); err != nil {
		return fmt.Errorf("deleting video %s: %w", id, err)
	}
	return nil
}

// ListIDs implements Repository.ListIDs.
func (r *StoreRepository) ListIDs(ctx context.Context) ([]string, error) {
	data, err := r.store.Get(ctx, indexKey)
	if errors.Is(err, ErrKeyNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading video index: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decoding video index: %w", err)
	}
	return ids, nil
}

// ListVideos implements Repository.ListVideos.
func (r *StoreRepository) ListVideos(ctx context.Context) ([]*VideoRecord, error) {
	ids, err := r.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*VideoRecord, 0, len(ids))
	for _, id := range ids {
		record, err := r.GetVideo(ctx, id)
		if errors.Is(err, ErrVideoNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Reconcile implements Repository.Reconcile. Intended for startup or a
// periodic sweep; it is itself a read-modify-write and carries the same race
// as any other index mutation.
func (r *StoreRepository) Reconcile(ctx context.Context) (int, error) {
	ids, err := r.ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	keys, err := r.store.List(ctx, videoKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("listing video records: %w", err)
	}
	existing := make(map[string]bool, len(keys))
	for _, k := range keys {
		existing[strings.TrimPrefix(k, videoKeyPrefix)] = true
	}

	repaired := 0
	kept := make([]string, 0, len(ids))
	indexed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !existing[id] || indexed[id] {
			repaired++
			continue
		}
		kept = append(kept, id)
		indexed[id] = true
	}
	// Orphan records go to the back: their original position is unknowable.
	for _, k := range keys {
		id := strings.TrimPrefix(k, videoKeyPrefix)
		if !indexed[id] {
			kept = append(kept, id)
			indexed[id] = true
			repaired++
		}
	}

	if repaired == 0 {
		return 0, nil
	}
	if err := r.putIndex(ctx, kept); err != nil {
		return 0, err
	}
	return repaired, nil
}

func (r *StoreRepository) putIndex(ctx context.Context, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding video index: %w", err)
	}
	if err := r.store.Put(ctx, indexKey, data); err != nil {
		return fmt.Errorf("writing video index: %w", err)
	}
	return nil
}

// removeID returns ids without any occurrence of id, preserving order.
func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
