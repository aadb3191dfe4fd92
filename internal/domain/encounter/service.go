package encounter

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

func (s *Service) validate(e *Encounter) error {
	if e == nil {
		return apperrors.Validation("encounter payload is required")
	}
	if e.PersonID == 0 {
		return apperrors.Validation("person id is required")
	}
	e.EncounterType = strings.TrimSpace(e.EncounterType)
	if e.EncounterType == "" {
		return apperrors.Validation("encounter type is required")
	}
	return nil
}

func (s *Service) CreateEncounter(ctx context.Context, e *Encounter) error {
	if err := s.validate(e); err != nil {
		return err
	}
	if e.EncounterDatetime.IsZero() {
		e.EncounterDatetime = time.Now().UTC()
	}
	return s.repo.Create(ctx, e)
}

func (s *Service) GetEncounter(ctx context.Context, id int64) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateEncounter(ctx context.Context, e *Encounter) (*Encounter, error) {
	if e == nil || e.ID == 0 {
		return nil, apperrors.Validation("encounter id is required")
	}
	if err := s.validate(e); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, e.ID)
}

func (s *Service) DeleteEncounter(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListEncounters(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListPersonEncounters(ctx context.Context, personID int64) ([]*Encounter, error) {
	if personID == 0 {
		return nil, apperrors.Validation("person id is required")
	}
	return s.repo.ListByPerson(ctx, personID)
}
