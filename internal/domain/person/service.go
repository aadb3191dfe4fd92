package person

import (
	"context"
	"strings"

	"github.com/cdr/cdr/internal/platform/apperrors"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

var validGenders = map[string]bool{
	"male": true, "female": true, "other": true, "unknown": true,
}

func (s *Service) validate(p *Person) error {
	if p == nil {
		return apperrors.Validation("person payload is required")
	}
	p.Identifier = strings.TrimSpace(p.Identifier)
	if p.Identifier == "" {
		return apperrors.Validation("identifier is required")
	}
	if p.Gender != nil && !validGenders[*p.Gender] {
		return apperrors.Validation("invalid gender: %s", *p.Gender)
	}
	return nil
}

func (s *Service) CreatePerson(ctx context.Context, p *Person) error {
	if err := s.validate(p); err != nil {
		return err
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) GetPerson(ctx context.Context, id int64) (*Person, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetPersonByIdentifier(ctx context.Context, identifier string) (*Person, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperrors.Validation("identifier is required")
	}
	return s.repo.GetByIdentifier(ctx, identifier)
}

func (s *Service) UpdatePerson(ctx context.Context, p *Person) (*Person, error) {
	if p == nil || p.ID == 0 {
		return nil, apperrors.Validation("person id is required")
	}
	if err := s.validate(p); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, p.ID)
}

func (s *Service) DeletePerson(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListPersons(ctx context.Context, limit, offset int) ([]*Person, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) SearchPersons(ctx context.Context, q string, limit, offset int) ([]*Person, int, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, 0, apperrors.Validation("search query is required")
	}
	return s.repo.Search(ctx, q, limit, offset)
}
