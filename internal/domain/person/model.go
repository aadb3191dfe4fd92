package person

import (
	"time"

	"github.com/cdr/cdr/internal/domain/obs"
)

// Person maps to the person table: the subject registry observations hang
// off. Patients and users are persons with the matching flag set, so the
// kind set is cumulative.
type Person struct {
	ID         int64      `db:"id" json:"id"`
	Identifier string     `db:"identifier" json:"identifier"`
	NameGiven  *string    `db:"name_given" json:"name_given,omitempty"`
	NameFamily *string    `db:"name_family" json:"name_family,omitempty"`
	Gender     *string    `db:"gender" json:"gender,omitempty"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	IsPatient  bool       `db:"is_patient" json:"is_patient"`
	IsUser     bool       `db:"is_user" json:"is_user"`
	Active     bool       `db:"active" json:"active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Kind reports the subject-kind set observation queries filter on.
func (p *Person) Kind() obs.PersonKind {
	k := obs.KindPerson
	if p.IsPatient {
		k |= obs.KindPatient
	}
	if p.IsUser {
		k |= obs.KindUser
	}
	return k
}
