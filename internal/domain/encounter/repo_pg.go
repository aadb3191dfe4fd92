package encounter

import (
	"context"
	"errors"

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

const encounterCols = `id, person_id, encounter_type, encounter_datetime, location_id, notes,
	created_at, updated_at`

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.ID, &e.PersonID, &e.EncounterType, &e.EncounterDatetime,
		&e.LocationID, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) Create(ctx context.Context, e *Encounter) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter (person_id, encounter_type, encounter_datetime, location_id, notes)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at, updated_at`,
		e.PersonID, e.EncounterType, e.EncounterDatetime, e.LocationID, e.Notes,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Encounter, error) {
	e, err := scanEncounter(r.conn(ctx).QueryRow(ctx,
		`SELECT `+encounterCols+` FROM encounter WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("encounter", id)
	}
	return e, err
}

func (r *repoPG) Update(ctx context.Context, e *Encounter) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET person_id=$2, encounter_type=$3, encounter_datetime=$4,
			location_id=$5, notes=$6, updated_at=NOW()
		WHERE id = $1`,
		e.ID, e.PersonID, e.EncounterType, e.EncounterDatetime, e.LocationID, e.Notes,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("encounter", e.ID)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM encounter WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("encounter", id)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encounterCols+` FROM encounter ORDER BY encounter_datetime DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list, err := collectEncounters(rows)
	return list, total, err
}

func (r *repoPG) ListByPerson(ctx context.Context, personID int64) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encounterCols+` FROM encounter WHERE person_id = $1
		ORDER BY encounter_datetime DESC, id DESC`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEncounters(rows)
}

func collectEncounters(rows pgx.Rows) ([]*Encounter, error) {
	list := []*Encounter{}
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
