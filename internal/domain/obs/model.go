package obs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PersonKind is a combinable selector over the runtime kind of an
// observation's subject. Kinds are cumulative: every subject carries
// KindPerson, patients additionally carry KindPatient and users KindUser.
type PersonKind uint8

const (
	KindPerson  PersonKind = 1 << iota // 1
	KindPatient                        // 2
	KindUser                           // 4
)

// KindAny is the zero mask and matches every subject kind.
const KindAny PersonKind = 0

// Matches reports whether a subject whose kind set is kinds passes the
// mask. The zero mask matches everything; otherwise any shared bit matches.
func (m PersonKind) Matches(kinds PersonKind) bool {
	return m == KindAny || m&kinds != 0
}

func (m PersonKind) Has(k PersonKind) bool { return m&k != 0 }

func (m PersonKind) String() string {
	if m == KindAny {
		return "any"
	}
	var parts []string
	if m.Has(KindPerson) {
		parts = append(parts, "person")
	}
	if m.Has(KindPatient) {
		parts = append(parts, "patient")
	}
	if m.Has(KindUser) {
		parts = append(parts, "user")
	}
	return strings.Join(parts, ",")
}

// ParseKinds reads a subject-kind mask from a query parameter. Accepts a
// comma list of kind names ("patient,user"), a numeric mask ("6"), or the
// empty string / "any" for the match-all mask.
func ParseKinds(s string) (PersonKind, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "any" {
		return KindAny, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > int(KindPerson|KindPatient|KindUser) {
			return KindAny, fmt.Errorf("kind mask out of range: %d", n)
		}
		return PersonKind(n), nil
	}
	var mask PersonKind
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "person":
			mask |= KindPerson
		case "patient":
			mask |= KindPatient
		case "user":
			mask |= KindUser
		default:
			return KindAny, fmt.Errorf("unknown subject kind %q", part)
		}
	}
	return mask, nil
}

// SortKey names the observation attribute a concept-scoped query orders by.
type SortKey string

const (
	SortByID       SortKey = "id"
	SortByDatetime SortKey = "datetime"
)

// ParseSortKey normalizes a caller-supplied sort attribute. The empty
// string defaults to ordering by identifier.
func ParseSortKey(s string) (SortKey, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "", "id", "obs_id", "identifier":
		return SortByID, nil
	case "datetime", "obs_datetime", "timestamp":
		return SortByDatetime, nil
	default:
		return SortByID, fmt.Errorf("unknown sort attribute %q", s)
	}
}

// Obs maps to the obs table. The value is a typed payload: exactly one of
// the value columns is set. ValueComplex holds an object store key, tagged
// with a mime type.
type Obs struct {
	ID          int64     `db:"id" json:"id"`
	PersonID    int64     `db:"person_id" json:"person_id"`
	ConceptID   int64     `db:"concept_id" json:"concept_id"`
	EncounterID *int64    `db:"encounter_id" json:"encounter_id,omitempty"`
	LocationID  *int64    `db:"location_id" json:"location_id,omitempty"`
	ObsDatetime time.Time `db:"obs_datetime" json:"obs_datetime"`
	GroupID     *int64    `db:"group_id" json:"group_id,omitempty"`

	ValueCoded   *int64   `db:"value_coded" json:"value_coded,omitempty"`
	ValueNumeric *float64 `db:"value_numeric" json:"value_numeric,omitempty"`
	ValueText    *string  `db:"value_text" json:"value_text,omitempty"`
	ValueComplex *string  `db:"value_complex" json:"value_complex,omitempty"`
	MimeTypeID   *int64   `db:"mime_type_id" json:"mime_type_id,omitempty"`

	Comment *string `db:"comment" json:"comment,omitempty"`

	Voided     bool       `db:"voided" json:"voided"`
	VoidReason *string    `db:"void_reason" json:"void_reason,omitempty"`
	VoidedAt   *time.Time `db:"voided_at" json:"voided_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasValue reports whether any value column is set.
func (o *Obs) HasValue() bool {
	return o.ValueCoded != nil || o.ValueNumeric != nil || o.ValueText != nil || o.ValueComplex != nil
}

// ValueString renders the value for the distinct-values projection: text
// as is, numerics in their shortest form, coded answers and complex values
// by their identifiers.
func (o *Obs) ValueString() string {
	switch {
	case o.ValueText != nil:
		return *o.ValueText
	case o.ValueNumeric != nil:
		return strconv.FormatFloat(*o.ValueNumeric, 'f', -1, 64)
	case o.ValueCoded != nil:
		return strconv.FormatInt(*o.ValueCoded, 10)
	case o.ValueComplex != nil:
		return *o.ValueComplex
	default:
		return ""
	}
}

// MimeType tags complex observation values. Reference data: this service
// only reads it.
type MimeType struct {
	ID          int64   `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	Description *string `db:"description" json:"description,omitempty"`
}

// NumericAnswer is one row of the numeric-answers projection.
type NumericAnswer struct {
	ObsID       int64     `json:"obs_id"`
	ObsDatetime time.Time `json:"obs_datetime"`
	Value       float64   `json:"value"`
}

// Aggregation describes how an evaluated query reduces the matching
// observations. The service forwards it to the evaluator untouched.
type Aggregation struct {
	Function string `json:"function"`
	N        int    `json:"n,omitempty"`
}

// Constraint restricts which observations participate in an evaluated
// query. The service forwards it to the evaluator untouched.
type Constraint struct {
	MinValue      *float64   `json:"min_value,omitempty"`
	MaxValue      *float64   `json:"max_value,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	Until         *time.Time `json:"until,omitempty"`
	IncludeVoided bool       `json:"include_voided,omitempty"`
}
