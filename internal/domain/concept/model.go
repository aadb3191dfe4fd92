package concept

import (
	"strings"
	"time"
)

// Datatype names the shape of the values observations record against a
// concept.
type Datatype string

const (
	DatatypeCoded   Datatype = "coded"
	DatatypeNumeric Datatype = "numeric"
	DatatypeText    Datatype = "text"
	DatatypeComplex Datatype = "complex"
	DatatypeNA      Datatype = "n/a"
)

var validDatatypes = map[Datatype]bool{
	DatatypeCoded:   true,
	DatatypeNumeric: true,
	DatatypeText:    true,
	DatatypeComplex: true,
	DatatypeNA:      true,
}

// ParseDatatype normalizes a caller-supplied datatype name.
func ParseDatatype(s string) (Datatype, bool) {
	d := Datatype(strings.ToLower(strings.TrimSpace(s)))
	return d, validDatatypes[d]
}

// Concept is one entry of the clinical dictionary: the question an
// observation answers. Concepts are never deleted, only retired.
type Concept struct {
	ID           int64      `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	Datatype     Datatype   `db:"datatype" json:"datatype"`
	Description  *string    `db:"description" json:"description,omitempty"`
	Retired      bool       `db:"retired" json:"retired"`
	RetireReason *string    `db:"retire_reason" json:"retire_reason,omitempty"`
	RetiredAt    *time.Time `db:"retired_at" json:"retired_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
