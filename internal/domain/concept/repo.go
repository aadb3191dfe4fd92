package concept

import "context"

type Repository interface {
	Create(ctx context.Context, c *Concept) error
	GetByID(ctx context.Context, id int64) (*Concept, error)
	GetByName(ctx context.Context, name string) (*Concept, error)
	Update(ctx context.Context, c *Concept) error
	UpdateRetire(ctx context.Context, c *Concept) error
	List(ctx context.Context, includeRetired bool, limit, offset int) ([]*Concept, int, error)
	Search(ctx context.Context, q string, limit int) ([]*Concept, error)
}
