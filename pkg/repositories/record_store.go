package repositories

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

// RecordStore is the host application's record storage as seen by enrichment.
type RecordStore interface {
	// ListLocations returns every record of the region with the raw value of
	// geoField. Value is nil when the record has no such field.
	ListLocations(ctx context.Context, region, geoField string) ([]models.RecordLocation, error)
	// ApplyUpdates merges typed fields into each record and adds its tags.
	// Updates for records that no longer exist are ignored.
	ApplyUpdates(ctx context.Context, region string, updates []models.RecordUpdate) error
	// ClearFields removes the named fields and tags from every record of the
	// region and returns the number of records changed.
	ClearFields(ctx context.Context, region string, fields []string) (int, error)
}

type memoryRecord struct {
	data map[string]any
	tags []string
}

// MemoryRecordStore is an in-process RecordStore used in tests and memory mode.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	regions map[string]map[string]*memoryRecord
}

// NewMemoryRecordStore creates an empty in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{regions: make(map[string]map[string]*memoryRecord)}
}

var _ RecordStore = (*MemoryRecordStore)(nil)

// Put stores or replaces a record.
func (s *MemoryRecordStore) Put(region, id string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.regions[region]
	if !ok {
		records = make(map[string]*memoryRecord)
		s.regions[region] = records
	}
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	records[id] = &memoryRecord{data: copied}
}

// Get returns a copy of a record's data and tags.
func (s *MemoryRecordStore) Get(region, id string) (map[string]any, []string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.regions[region][id]
	if !ok {
		return nil, nil, false
	}
	data := make(map[string]any, len(rec.data))
	for k, v := range rec.data {
		data[k] = v
	}
	return data, slices.Clone(rec.tags), true
}

func (s *MemoryRecordStore) ListLocations(ctx context.Context, region, geoField string) ([]models.RecordLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.regions[region]
	out := make([]models.RecordLocation, 0, len(records))
	for id, rec := range records {
		out = append(out, models.RecordLocation{RecordID: id, Value: rec.data[geoField]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

func (s *MemoryRecordStore) ApplyUpdates(ctx context.Context, region string, updates []models.RecordUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.regions[region]
	for _, u := range updates {
		rec, ok := records[u.RecordID]
		if !ok {
			continue
		}
		for k, v := range u.Fields {
			rec.data[k] = v
		}
		for _, tag := range u.Tags {
			if !slices.Contains(rec.tags, tag) {
				rec.tags = append(rec.tags, tag)
			}
		}
	}
	return nil
}

func (s *MemoryRecordStore) ClearFields(ctx context.Context, region string, fields []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, rec := range s.regions[region] {
		touched := false
		for _, f := range fields {
			if _, ok := rec.data[f]; ok {
				delete(rec.data, f)
				touched = true
			}
		}
		kept := rec.tags[:0]
		for _, tag := range rec.tags {
			if slices.Contains(fields, tag) {
				touched = true
				continue
			}
			kept = append(kept, tag)
		}
		rec.tags = kept
		if touched {
			changed++
		}
	}
	return changed, nil
}
