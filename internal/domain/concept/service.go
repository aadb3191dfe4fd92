package concept

import (
	"context"
	"strings"
	"time"

	"github.com/cdr/cdr/internal/platform/apperrors"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) validate(c *Concept) error {
	if c == nil {
		return apperrors.Validation("concept payload is required")
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return apperrors.Validation("name is required")
	}
	if !validDatatypes[c.Datatype] {
		return apperrors.Validation("invalid datatype: %s", c.Datatype)
	}
	return nil
}

func (s *Service) CreateConcept(ctx context.Context, c *Concept) error {
	if err := s.validate(c); err != nil {
		return err
	}
	return s.repo.Create(ctx, c)
}

func (s *Service) GetConcept(ctx context.Context, id int64) (*Concept, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetConceptByName(ctx context.Context, name string) (*Concept, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("name is required")
	}
	return s.repo.GetByName(ctx, name)
}

func (s *Service) UpdateConcept(ctx context.Context, c *Concept) (*Concept, error) {
	if c == nil || c.ID == 0 {
		return nil, apperrors.Validation("concept id is required")
	}
	if err := s.validate(c); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, c.ID)
}

// RetireConcept hides a concept from lookups without touching the
// observations recorded against it. Retiring an already retired concept
// refreshes the reason.
func (s *Service) RetireConcept(ctx context.Context, id int64, reason string) (*Concept, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.Validation("retire reason is required")
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c.Retired = true
	c.RetireReason = &reason
	c.RetiredAt = &now
	if err := s.repo.UpdateRetire(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UnretireConcept puts a retired concept back into circulation. A no-op on
// active concepts.
func (s *Service) UnretireConcept(ctx context.Context, id int64) (*Concept, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Retired {
		return c, nil
	}

	c.Retired = false
	c.RetireReason = nil
	c.RetiredAt = nil
	if err := s.repo.UpdateRetire(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListConcepts(ctx context.Context, includeRetired bool, limit, offset int) ([]*Concept, int, error) {
	return s.repo.List(ctx, includeRetired, limit, offset)
}

func (s *Service) SearchConcepts(ctx context.Context, q string, limit int) ([]*Concept, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, apperrors.Validation("search query is required")
	}
	if limit <= 0 {
		limit = 20
	}
	return s.repo.Search(ctx, q, limit)
}
