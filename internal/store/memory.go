package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amishk599/jobflow/internal/model"
)

var (
	_ model.RecordStore       = (*MemoryStore)(nil)
	_ model.RecordQuerier     = (*MemoryStore)(nil)
	_ model.ExecutionRecorder = (*MemoryStore)(nil)
)

// MemoryStore is an in-process store used in dry-run mode. Nothing outlives the
// process, but duplicates within one run are still detected.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	records    map[model.Key]model.StoredRecord
	executions map[string]model.ExecutionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[model.Key]model.StoredRecord),
		executions: make(map[string]model.ExecutionRecord),
	}
}

func (s *MemoryStore) UpsertIfAbsent(_ context.Context, l model.Listing) (model.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[l.Key()]; ok {
		return model.Duplicate, nil
	}
	s.nextID++
	s.records[l.Key()] = model.StoredRecord{ID: s.nextID, Listing: l.Clone(), CreatedAt: time.Now()}
	return model.Inserted, nil
}

func (s *MemoryStore) Exists(_ context.Context, key model.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok, nil
}

func (s *MemoryStore) ListRecords(_ context.Context, f model.RecordFilter) ([]model.StoredRecord, error) {
	s.mu.Lock()
	var out []model.StoredRecord
	for _, r := range s.records {
		if f.Source == "" || r.Listing.Source == f.Source {
			out = append(out, r)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountBySource(_ context.Context) (map[model.Source]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.Source]int)
	for k := range s.records {
		counts[k.Source]++
	}
	return counts, nil
}

func (s *MemoryStore) SaveExecution(_ context.Context, rec model.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.executions[rec.ID]; ok && prev.Status.Final() {
		return nil
	}
	s.executions[rec.ID] = rec
	return nil
}

// Executions returns every saved execution record.
func (s *MemoryStore) Executions() []model.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ExecutionRecord, 0, len(s.executions))
	for _, r := range s.executions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
