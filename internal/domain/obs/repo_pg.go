package obs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
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

const obsCols = `o.id, o.person_id, o.concept_id, o.encounter_id, o.location_id,
	o.obs_datetime, o.group_id,
	o.value_coded, o.value_numeric, o.value_text, o.value_complex, o.mime_type_id,
	o.comment, o.voided, o.void_reason, o.voided_at, o.created_at, o.updated_at`

// kindMaskSQL computes the cumulative subject-kind set from the joined
// person row: every subject is a person, patients and users add their bit.
const kindMaskSQL = `(1 | CASE WHEN p.is_patient THEN 2 ELSE 0 END | CASE WHEN p.is_user THEN 4 ELSE 0 END)`

func (r *repoPG) Insert(ctx context.Context, o *Obs) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO obs (
			person_id, concept_id, encounter_id, location_id, obs_datetime,
			group_id, value_coded, value_numeric, value_text, value_complex,
			mime_type_id, comment
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at, updated_at`,
		o.PersonID, o.ConceptID, o.EncounterID, o.LocationID, o.ObsDatetime,
		o.GroupID, o.ValueCoded, o.ValueNumeric, o.ValueText, o.ValueComplex,
		o.MimeTypeID, o.Comment,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	return err
}

func (r *repoPG) InsertGroup(ctx context.Context, list []*Obs) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		for _, o := range list {
			if err := r.Insert(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Obs, error) {
	o, err := scanObs(r.conn(ctx).QueryRow(ctx,
		`SELECT `+obsCols+` FROM obs o WHERE o.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("obs", id)
	}
	return o, err
}

func (r *repoPG) Update(ctx context.Context, o *Obs) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE obs SET
			person_id=$2, concept_id=$3, encounter_id=$4, location_id=$5,
			obs_datetime=$6, group_id=$7,
			value_coded=$8, value_numeric=$9, value_text=$10, value_complex=$11,
			mime_type_id=$12, comment=$13, updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.PersonID, o.ConceptID, o.EncounterID, o.LocationID,
		o.ObsDatetime, o.GroupID,
		o.ValueCoded, o.ValueNumeric, o.ValueText, o.ValueComplex,
		o.MimeTypeID, o.Comment,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("obs", o.ID)
	}
	return nil
}

func (r *repoPG) UpdateVoid(ctx context.Context, o *Obs) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE obs SET voided=$2, void_reason=$3, voided_at=$4, updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.Voided, o.VoidReason, o.VoidedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("obs", o.ID)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM obs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("obs", id)
	}
	return nil
}

func (r *repoPG) NextGroupID(ctx context.Context) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('obs_group_id_seq')`).Scan(&id)
	return id, err
}

func (r *repoPG) Find(ctx context.Context, f Filter) ([]*Obs, error) {
	sql := `SELECT ` + obsCols + ` FROM obs o`
	if f.Kinds != KindAny {
		sql += ` JOIN person p ON p.id = o.person_id`
	}
	sql += ` WHERE 1=1`

	var args []interface{}
	idx := 1
	arg := func(v interface{}) int {
		args = append(args, v)
		idx++
		return idx - 1
	}

	if !f.IncludeVoided {
		sql += ` AND o.voided = FALSE`
	}
	if f.PersonID != 0 {
		sql += fmt.Sprintf(` AND o.person_id = $%d`, arg(f.PersonID))
	}
	if f.ConceptID != 0 {
		sql += fmt.Sprintf(` AND o.concept_id = $%d`, arg(f.ConceptID))
	}
	if f.AnswerConceptID != 0 {
		sql += fmt.Sprintf(` AND o.value_coded = $%d`, arg(f.AnswerConceptID))
	}
	if f.EncounterID != 0 {
		sql += fmt.Sprintf(` AND o.encounter_id = $%d`, arg(f.EncounterID))
	}
	if f.LocationID != 0 {
		sql += fmt.Sprintf(` AND o.location_id = $%d`, arg(f.LocationID))
	}
	if f.GroupID != 0 {
		sql += fmt.Sprintf(` AND o.group_id = $%d`, arg(f.GroupID))
	}
	if f.Kinds != KindAny {
		sql += fmt.Sprintf(` AND %s & $%d <> 0`, kindMaskSQL, arg(int(f.Kinds)))
	}

	switch {
	case f.NewestFirst:
		sql += ` ORDER BY o.obs_datetime DESC, o.id DESC`
	case f.Sort == SortByDatetime:
		sql += ` ORDER BY o.obs_datetime, o.id`
	default:
		sql += ` ORDER BY o.id`
	}
	if f.Limit > 0 {
		sql += fmt.Sprintf(` LIMIT $%d`, arg(f.Limit))
	}

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectObs(rows)
}

func (r *repoPG) FindVoided(ctx context.Context) ([]*Obs, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+obsCols+` FROM obs o WHERE o.voided = TRUE ORDER BY o.voided_at DESC, o.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectObs(rows)
}

func (r *repoPG) Search(ctx context.Context, q string, includeVoided bool, kinds PersonKind) ([]*Obs, error) {
	sql := `SELECT ` + obsCols + ` FROM obs o JOIN person p ON p.id = o.person_id`

	var args []interface{}
	idx := 1
	arg := func(v interface{}) int {
		args = append(args, v)
		idx++
		return idx - 1
	}

	match := fmt.Sprintf(`LOWER(p.identifier) LIKE $%d`, arg(likePrefix(q)))
	if id, err := strconv.ParseInt(q, 10, 64); err == nil {
		match = fmt.Sprintf(`o.id = $%d OR %s`, arg(id), match)
	}
	sql += ` WHERE (` + match + `)`

	if !includeVoided {
		sql += ` AND o.voided = FALSE`
	}
	if kinds != KindAny {
		sql += fmt.Sprintf(` AND %s & $%d <> 0`, kindMaskSQL, arg(int(kinds)))
	}
	sql += ` ORDER BY o.id`

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectObs(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(q string) string {
	return likeEscaper.Replace(strings.ToLower(q)) + "%"
}

func (r *repoPG) DistinctValues(ctx context.Context, conceptID int64, kinds PersonKind) ([]string, error) {
	sql := `SELECT DISTINCT COALESCE(o.value_text, CAST(o.value_numeric AS TEXT), CAST(o.value_coded AS TEXT), o.value_complex)
		FROM obs o`
	if kinds != KindAny {
		sql += ` JOIN person p ON p.id = o.person_id`
	}
	sql += ` WHERE o.concept_id = $1 AND o.voided = FALSE
		AND (o.value_text IS NOT NULL OR o.value_numeric IS NOT NULL OR o.value_coded IS NOT NULL OR o.value_complex IS NOT NULL)`
	args := []interface{}{conceptID}
	if kinds != KindAny {
		sql += ` AND ` + kindMaskSQL + ` & $2 <> 0`
		args = append(args, int(kinds))
	}

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (r *repoPG) NumericAnswers(ctx context.Context, conceptID int64, sortByValue bool, kinds PersonKind) ([]NumericAnswer, error) {
	sql := `SELECT o.id, o.obs_datetime, o.value_numeric FROM obs o`
	if kinds != KindAny {
		sql += ` JOIN person p ON p.id = o.person_id`
	}
	sql += ` WHERE o.concept_id = $1 AND o.value_numeric IS NOT NULL AND o.voided = FALSE`
	args := []interface{}{conceptID}
	if kinds != KindAny {
		sql += ` AND ` + kindMaskSQL + ` & $2 <> 0`
		args = append(args, int(kinds))
	}
	if sortByValue {
		sql += ` ORDER BY o.value_numeric, o.id`
	} else {
		sql += ` ORDER BY o.obs_datetime, o.id`
	}

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := []NumericAnswer{}
	for rows.Next() {
		var a NumericAnswer
		if err := rows.Scan(&a.ObsID, &a.ObsDatetime, &a.Value); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func scanObs(row pgx.Row) (*Obs, error) {
	var o Obs
	err := row.Scan(
		&o.ID, &o.PersonID, &o.ConceptID, &o.EncounterID, &o.LocationID,
		&o.ObsDatetime, &o.GroupID,
		&o.ValueCoded, &o.ValueNumeric, &o.ValueText, &o.ValueComplex, &o.MimeTypeID,
		&o.Comment, &o.Voided, &o.VoidReason, &o.VoidedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func collectObs(rows pgx.Rows) ([]*Obs, error) {
	list := []*Obs{}
	for rows.Next() {
		o, err := scanObs(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// -- MimeType repository --

type mimeTypeRepoPG struct {
	pool *pgxpool.Pool
}

func NewMimeTypeRepo(pool *pgxpool.Pool) MimeTypeRepository {
	return &mimeTypeRepoPG{pool: pool}
}

func (r *mimeTypeRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *mimeTypeRepoPG) List(ctx context.Context) ([]*MimeType, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, name, description FROM mime_type ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*MimeType{}
	for rows.Next() {
		var mt MimeType
		if err := rows.Scan(&mt.ID, &mt.Name, &mt.Description); err != nil {
			return nil, err
		}
		list = append(list, &mt)
	}
	return list, rows.Err()
}

func (r *mimeTypeRepoPG) GetByID(ctx context.Context, id int64) (*MimeType, error) {
	var mt MimeType
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, description FROM mime_type WHERE id = $1`, id).
		Scan(&mt.ID, &mt.Name, &mt.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("mime type", id)
	}
	if err != nil {
		return nil, err
	}
	return &mt, nil
}
