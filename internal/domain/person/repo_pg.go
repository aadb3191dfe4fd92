package person

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

const personCols = `id, identifier, name_given, name_family, gender, birth_date,
	is_patient, is_user, active, created_at, updated_at`

func scanPerson(row pgx.Row) (*Person, error) {
	var p Person
	err := row.Scan(&p.ID, &p.Identifier, &p.NameGiven, &p.NameFamily, &p.Gender, &p.BirthDate,
		&p.IsPatient, &p.IsUser, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// uniqueViolation matches the Postgres error for a duplicate identifier.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *repoPG) Create(ctx context.Context, p *Person) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO person (identifier, name_given, name_family, gender, birth_date,
			is_patient, is_user, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at, updated_at`,
		p.Identifier, p.NameGiven, p.NameFamily, p.Gender, p.BirthDate,
		p.IsPatient, p.IsUser, p.Active,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if uniqueViolation(err) {
		return apperrors.Conflict("identifier " + p.Identifier + " is already registered")
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Person, error) {
	p, err := scanPerson(r.conn(ctx).QueryRow(ctx,
		`SELECT `+personCols+` FROM person WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("person", id)
	}
	return p, err
}

func (r *repoPG) GetByIdentifier(ctx context.Context, identifier string) (*Person, error) {
	p, err := scanPerson(r.conn(ctx).QueryRow(ctx,
		`SELECT `+personCols+` FROM person WHERE LOWER(identifier) = LOWER($1)`, identifier))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("person", identifier)
	}
	return p, err
}

func (r *repoPG) Update(ctx context.Context, p *Person) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE person SET identifier=$2, name_given=$3, name_family=$4, gender=$5,
			birth_date=$6, is_patient=$7, is_user=$8, active=$9, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Identifier, p.NameGiven, p.NameFamily, p.Gender,
		p.BirthDate, p.IsPatient, p.IsUser, p.Active,
	)
	if uniqueViolation(err) {
		return apperrors.Conflict("identifier " + p.Identifier + " is already registered")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("person", p.ID)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM person WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("person", id)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Person, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM person`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+personCols+` FROM person ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list, err := collectPersons(rows)
	return list, total, err
}

// Search matches the identifier by prefix and names by substring, all
// case-insensitive.
func (r *repoPG) Search(ctx context.Context, q string, limit, offset int) ([]*Person, int, error) {
	prefix := likeEscaper.Replace(strings.ToLower(q)) + "%"
	substr := "%" + likeEscaper.Replace(strings.ToLower(q)) + "%"

	where := ` WHERE LOWER(identifier) LIKE $1
		OR LOWER(COALESCE(name_given, '')) LIKE $2
		OR LOWER(COALESCE(name_family, '')) LIKE $2`

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM person`+where, prefix, substr).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+personCols+` FROM person`+where+` ORDER BY id LIMIT $3 OFFSET $4`,
		prefix, substr, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list, err := collectPersons(rows)
	return list, total, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func collectPersons(rows pgx.Rows) ([]*Person, error) {
	list := []*Person{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
