package concept

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cdr/cdr/internal/platform/apperrors"
	"github.com/cdr/cdr/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const conceptCols = `id, name, datatype, description, retired, retire_reason, retired_at,
	created_at, updated_at`

func scanConcept(row pgx.Row) (*Concept, error) {
	var c Concept
	err := row.Scan(&c.ID, &c.Name, &c.Datatype, &c.Description,
		&c.Retired, &c.RetireReason, &c.RetiredAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *repoPG) Create(ctx context.Context, c *Concept) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO concept (name, datatype, description)
		VALUES ($1,$2,$3)
		RETURNING id, created_at, updated_at`,
		c.Name, c.Datatype, c.Description,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if uniqueViolation(err) {
		return apperrors.Conflict("concept " + c.Name + " already exists")
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Concept, error) {
	c, err := scanConcept(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conceptCols+` FROM concept WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("concept", id)
	}
	return c, err
}

func (r *repoPG) GetByName(ctx context.Context, name string) (*Concept, error) {
	c, err := scanConcept(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conceptCols+` FROM concept WHERE LOWER(name) = LOWER($1)`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("concept", name)
	}
	return c, err
}

func (r *repoPG) Update(ctx context.Context, c *Concept) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE concept SET name=$2, datatype=$3, description=$4, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Name, c.Datatype, c.Description,
	)
	if uniqueViolation(err) {
		return apperrors.Conflict("concept " + c.Name + " already exists")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("concept", c.ID)
	}
	return nil
}

func (r *repoPG) UpdateRetire(ctx context.Context, c *Concept) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE concept SET retired=$2, retire_reason=$3, retired_at=$4, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Retired, c.RetireReason, c.RetiredAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("concept", c.ID)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, includeRetired bool, limit, offset int) ([]*Concept, int, error) {
	where := ""
	if !includeRetired {
		where = ` WHERE retired = FALSE`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM concept`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+conceptCols+` FROM concept`+where+` ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list, err := collectConcepts(rows)
	return list, total, err
}

func (r *repoPG) Search(ctx context.Context, q string, limit int) ([]*Concept, error) {
	substr := "%" + likeEscaper.Replace(strings.ToLower(q)) + "%"
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+conceptCols+` FROM concept
		WHERE LOWER(name) LIKE $1 AND retired = FALSE
		ORDER BY name LIMIT $2`, substr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConcepts(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func collectConcepts(rows pgx.Rows) ([]*Concept, error) {
	list := []*Concept{}
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
