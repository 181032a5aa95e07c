package repositories

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

type memoryRun struct {
	seq      int64
	run      models.IndexingRun
	cells    []models.GridCell
	index    map[string]int
	features map[string][]models.Feature
}

type memoryJob struct {
	seq int64
	job models.EnrichmentRun
}

type memoryJobStateStore struct {
	mu       sync.RWMutex
	seq      int64
	runs     map[uuid.UUID]*memoryRun
	jobs     map[uuid.UUID]*memoryJob
	mappings map[string]models.MappingConfig
}

// NewMemoryJobStateStore returns a process-local JobStateStore for tests and
// single-node development. All values are copied on the way in and out.
func NewMemoryJobStateStore() JobStateStore {
	return &memoryJobStateStore{
		runs:     make(map[uuid.UUID]*memoryRun),
		jobs:     make(map[uuid.UUID]*memoryJob),
		mappings: make(map[string]models.MappingConfig),
	}
}

var _ JobStateStore = (*memoryJobStateStore)(nil)

// ============================================================================
// Runs
// ============================================================================

func (s *memoryJobStateStore) CreateRun(ctx context.Context, run *models.IndexingRun, cells []models.GridCell) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.Status.IsActive() && s.activeRunLocked(run.Region, uuid.Nil) {
		return apperrors.ErrRunActive
	}

	now := time.Now()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.CreatedAt = now
	run.UpdatedAt = now

	entry := &memoryRun{
		run:      cloneRun(*run),
		cells:    make([]models.GridCell, len(cells)),
		index:    make(map[string]int, len(cells)),
		features: make(map[string][]models.Feature),
	}
	for i, c := range cells {
		c.RunID = run.ID
		c.UpdatedAt = now
		entry.cells[i] = cloneCell(c)
		entry.index[c.ID] = i
	}
	s.seq++
	entry.seq = s.seq
	s.runs[run.ID] = entry
	return nil
}

func (s *memoryJobStateStore) activeRunLocked(region string, except uuid.UUID) bool {
	for id, r := range s.runs {
		if id != except && r.run.Region == region && r.run.Status.IsActive() {
			return true
		}
	}
	return false
}

func (s *memoryJobStateStore) GetRun(ctx context.Context, id uuid.UUID) (*models.IndexingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	run := cloneRun(r.run)
	return &run, nil
}

func (s *memoryJobStateStore) GetLatestRun(ctx context.Context, region string) (*models.IndexingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *memoryRun
	for _, r := range s.runs {
		if r.run.Region != region {
			continue
		}
		if latest == nil || r.seq > latest.seq {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	run := cloneRun(latest.run)
	return &run, nil
}

func (s *memoryJobStateStore) ListRunsByStatus(ctx context.Context, statuses ...models.RunStatus) ([]*models.IndexingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*memoryRun
	for _, r := range s.runs {
		if slices.Contains(statuses, r.run.Status) {
			entries = append(entries, r)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]*models.IndexingRun, len(entries))
	for i, r := range entries {
		run := cloneRun(r.run)
		out[i] = &run
	}
	return out, nil
}

func (s *memoryJobStateStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if status.IsActive() && s.activeRunLocked(r.run.Region, id) {
		return apperrors.ErrRunActive
	}

	now := time.Now()
	r.run.Status = status
	r.run.ErrorMessage = cloneString(errMsg)
	r.run.UpdatedAt = now
	if status == models.RunStatusRunning && r.run.StartedAt == nil {
		r.run.StartedAt = &now
	}
	if status.IsTerminal() {
		r.run.CompletedAt = &now
	} else {
		r.run.CompletedAt = nil
	}
	return nil
}

func (s *memoryJobStateStore) DeleteRun(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(s.runs, id)
	for jobID, j := range s.jobs {
		if j.job.RunID == id {
			delete(s.jobs, jobID)
		}
	}
	return nil
}

// ============================================================================
// Cells
// ============================================================================

func (s *memoryJobStateStore) ListCells(ctx context.Context, runID uuid.UUID) ([]models.GridCell, error) {
	return s.ListCellsByStatus(ctx, runID)
}

func (s *memoryJobStateStore) ListCellsByStatus(ctx context.Context, runID uuid.UUID, statuses ...models.CellStatus) ([]models.GridCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	out := make([]models.GridCell, 0, len(r.cells))
	for _, c := range r.cells {
		if len(statuses) == 0 || slices.Contains(statuses, c.Status) {
			out = append(out, cloneCell(c))
		}
	}
	return out, nil
}

func (s *memoryJobStateStore) cellLocked(runID uuid.UUID, cellID string) (*memoryRun, *models.GridCell, error) {
	r, ok := s.runs[runID]
	if !ok {
		return nil, nil, apperrors.ErrNotFound
	}
	i, ok := r.index[cellID]
	if !ok {
		return nil, nil, apperrors.ErrNotFound
	}
	return r, &r.cells[i], nil
}

func (s *memoryJobStateStore) UpdateCell(ctx context.Context, cell *models.GridCell) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, stored, err := s.cellLocked(cell.RunID, cell.ID)
	if err != nil {
		return err
	}
	cell.UpdatedAt = time.Now()
	applyCellUpdate(stored, cell)
	return nil
}

func (s *memoryJobStateStore) CompleteCell(ctx context.Context, cell *models.GridCell, features []models.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, stored, err := s.cellLocked(cell.RunID, cell.ID)
	if err != nil {
		return err
	}
	cell.UpdatedAt = time.Now()
	applyCellUpdate(stored, cell)
	r.features[cell.ID] = cloneFeatures(features)
	return nil
}

func applyCellUpdate(dst, src *models.GridCell) {
	dst.Status = src.Status
	dst.Progress = src.Progress
	dst.Error = cloneString(src.Error)
	dst.FeatureCount = src.FeatureCount
	dst.Attempts = src.Attempts
	dst.UpdatedAt = src.UpdatedAt
}

func (s *memoryJobStateStore) ResetCells(ctx context.Context, runID uuid.UUID, from ...models.CellStatus) (int, error) {
	return s.transitionCells(runID, from, models.CellStatusIdle)
}

func (s *memoryJobStateStore) CancelPendingCells(ctx context.Context, runID uuid.UUID) (int, error) {
	return s.transitionCells(runID, []models.CellStatus{models.CellStatusIdle, models.CellStatusRunning}, models.CellStatusCancelled)
}

func (s *memoryJobStateStore) transitionCells(runID uuid.UUID, from []models.CellStatus, to models.CellStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return 0, apperrors.ErrNotFound
	}
	now := time.Now()
	n := 0
	for i := range r.cells {
		c := &r.cells[i]
		if !slices.Contains(from, c.Status) {
			continue
		}
		c.Status = to
		c.UpdatedAt = now
		if to == models.CellStatusIdle {
			c.Progress = 0
			c.Error = nil
		}
		n++
	}
	return n, nil
}

func (s *memoryJobStateStore) GetCellFeatures(ctx context.Context, runID uuid.UUID, cellID string) ([]models.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	return cloneFeatures(r.features[cellID]), nil
}

func (s *memoryJobStateStore) ListCompletedFeatures(ctx context.Context, runID uuid.UUID) ([]models.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	var out []models.Feature
	for _, c := range r.cells {
		if c.Status == models.CellStatusCompleted {
			out = append(out, cloneFeatures(r.features[c.ID])...)
		}
	}
	return out, nil
}

// ============================================================================
// Enrichment Jobs
// ============================================================================

func (s *memoryJobStateStore) CreateEnrichmentJob(ctx context.Context, job *models.EnrichmentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.job.RunID == job.RunID && !j.job.Status.IsTerminal() {
			return apperrors.ErrJobActive
		}
	}

	now := time.Now()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	s.seq++
	s.jobs[job.ID] = &memoryJob{seq: s.seq, job: cloneJob(*job)}
	return nil
}

func (s *memoryJobStateStore) GetEnrichmentJob(ctx context.Context, id uuid.UUID) (*models.EnrichmentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	job := cloneJob(j.job)
	return &job, nil
}

func (s *memoryJobStateStore) UpdateEnrichmentJob(ctx context.Context, job *models.EnrichmentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[job.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	job.UpdatedAt = time.Now()
	job.CreatedAt = j.job.CreatedAt
	j.job = cloneJob(*job)
	return nil
}

func (s *memoryJobStateStore) ListEnrichmentJobsByStatus(ctx context.Context, statuses ...models.EnrichmentStatus) ([]*models.EnrichmentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*memoryJob
	for _, j := range s.jobs {
		if slices.Contains(statuses, j.job.Status) {
			entries = append(entries, j)
		}
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].seq < entries[k].seq })

	out := make([]*models.EnrichmentRun, len(entries))
	for i, j := range entries {
		job := cloneJob(j.job)
		out[i] = &job
	}
	return out, nil
}

// ============================================================================
// Mapping Configs
// ============================================================================

func (s *memoryJobStateStore) SaveMappingConfig(ctx context.Context, cfg *models.MappingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.mappings[cfg.ID]; ok {
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	s.mappings[cfg.ID] = cloneMapping(*cfg)
	return nil
}

func (s *memoryJobStateStore) GetMappingConfig(ctx context.Context, id string) (*models.MappingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[id]
	if !ok {
		return nil, nil
	}
	out := cloneMapping(m)
	return &out, nil
}

func (s *memoryJobStateStore) ListMappingConfigs(ctx context.Context) ([]*models.MappingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.MappingConfig, 0, len(s.mappings))
	for _, m := range s.mappings {
		c := cloneMapping(m)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ============================================================================
// Copy helpers
// ============================================================================

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneRun(r models.IndexingRun) models.IndexingRun {
	r.Categories = slices.Clone(r.Categories)
	r.ErrorMessage = cloneString(r.ErrorMessage)
	r.StartedAt = cloneTime(r.StartedAt)
	r.CompletedAt = cloneTime(r.CompletedAt)
	if r.Quadtree != nil {
		q := *r.Quadtree
		r.Quadtree = &q
	}
	if r.QuadtreeNodes != nil {
		nodes := make([]models.QuadtreeNode, len(r.QuadtreeNodes))
		for i, n := range r.QuadtreeNodes {
			n.Children = slices.Clone(n.Children)
			nodes[i] = n
		}
		r.QuadtreeNodes = nodes
	}
	return r
}

func cloneCell(c models.GridCell) models.GridCell {
	c.Error = cloneString(c.Error)
	return c
}

func cloneFeatures(in []models.Feature) []models.Feature {
	if in == nil {
		return nil
	}
	out := make([]models.Feature, len(in))
	for i, f := range in {
		f.Geometry = slices.Clone(f.Geometry)
		if f.Tags != nil {
			tags := make(map[string]string, len(f.Tags))
			for k, v := range f.Tags {
				tags[k] = v
			}
			f.Tags = tags
		}
		out[i] = f
	}
	return out
}

func cloneJob(j models.EnrichmentRun) models.EnrichmentRun {
	j.MappingErrors = slices.Clone(j.MappingErrors)
	j.ErrorMessage = cloneString(j.ErrorMessage)
	j.StartedAt = cloneTime(j.StartedAt)
	j.CompletedAt = cloneTime(j.CompletedAt)
	if j.MappingConfig != nil {
		m := cloneMapping(*j.MappingConfig)
		j.MappingConfig = &m
	}
	return j
}

// cloneMapping copies the group slices; mapping entries are treated as immutable.
func cloneMapping(m models.MappingConfig) models.MappingConfig {
	groups := make([]models.MappingGroup, len(m.Groups))
	for i, g := range m.Groups {
		g.Fields = slices.Clone(g.Fields)
		g.Tags = slices.Clone(g.Tags)
		g.Detections = slices.Clone(g.Detections)
		groups[i] = g
	}
	m.Groups = groups
	return m
}
