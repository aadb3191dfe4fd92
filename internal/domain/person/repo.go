package person

import "context"

type Repository interface {
	Create(ctx context.Context, p *Person) error
	GetByID(ctx context.Context, id int64) (*Person, error)
	GetByIdentifier(ctx context.Context, identifier string) (*Person, error)
	Update(ctx context.Context, p *Person) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, limit, offset int) ([]*Person, int, error)
	Search(ctx context.Context, q string, limit, offset int) ([]*Person, int, error)
}
