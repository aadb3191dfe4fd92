package encounter

import "context"

type Repository interface {
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id int64) (*Encounter, error)
	Update(ctx context.Context, e *Encounter) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, limit, offset int) ([]*Encounter, int, error)
	ListByPerson(ctx context.Context, personID int64) ([]*Encounter, error)
}
