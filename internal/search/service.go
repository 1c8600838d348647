package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bizmatrix/api/internal/logger"
	"bizmatrix/api/internal/store"
)

const indexTimeout = 10 * time.Second

// Service is the facade that tries Meilisearch first and falls back to the database.
type Service struct {
	meili    *Meili
	fallback Searcher
	log      *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, log *zap.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, log: logger.OrNop(log).Named("search")}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back. Failures produce an empty
// response, never an error.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Warn("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDepartment indexes a department (fire-and-forget).
func (s *Service) IndexDepartment(d store.Department) {
	s.async("index department", d.Code, func() error {
		return s.meili.IndexDepartments([]DepartmentRecord{DepartmentFromStore(d)})
	})
}

// IndexStaff indexes a staff member (fire-and-forget).
func (s *Service) IndexStaff(p store.Staff) {
	s.async("index staff", p.ID, func() error {
		return s.meili.IndexStaff([]StaffRecord{StaffFromStore(p)})
	})
}

// IndexGoal indexes a goal (fire-and-forget).
func (s *Service) IndexGoal(g store.Goal) {
	s.async("index goal", g.ID, func() error {
		return s.meili.IndexGoals([]GoalRecord{GoalFromStore(g)})
	})
}

// Remove deletes an entity from the index (fire-and-forget).
func (s *Service) Remove(rtyp ResultType, id string) {
	s.async("delete "+string(rtyp), id, func() error {
		return s.meili.delete(rtyp, id)
	})
}

func (s *Service) async(op, id string, fn func() error) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := fn(); err != nil {
			s.log.Warn(op, zap.String("id", id), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every record from source into Meilisearch. Called at startup when
// Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context, source RecordSource) {
	if !s.meiliReady() || source == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()

	departments, staff, goals, err := LoadAllRecords(ctx, source)
	if err != nil {
		s.log.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexDepartments(departments); err != nil {
		s.log.Warn("reindex departments", zap.Error(err))
	}
	if err := s.meili.IndexStaff(staff); err != nil {
		s.log.Warn("reindex staff", zap.Error(err))
	}
	if err := s.meili.IndexGoals(goals); err != nil {
		s.log.Warn("reindex goals", zap.Error(err))
	}
	s.log.Info("reindexed",
		zap.Int("departments", len(departments)),
		zap.Int("staff", len(staff)),
		zap.Int("goals", len(goals)),
	)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
