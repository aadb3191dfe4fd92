package obs

import (
	"context"
)

// Filter carries the predicate dimensions of the query surface. Zero
// values mean the dimension is not filtered.
type Filter struct {
	PersonID        int64
	ConceptID       int64
	AnswerConceptID int64
	EncounterID     int64
	LocationID      int64
	GroupID         int64
	Kinds           PersonKind
	Sort            SortKey // "" sorts by identifier
	Limit           int     // 0 means no cap
	NewestFirst     bool    // order by obs_datetime descending, overrides Sort
	IncludeVoided   bool
}

type Repository interface {
	Insert(ctx context.Context, o *Obs) error
	// InsertGroup persists all members atomically: on error none of them
	// are visible.
	InsertGroup(ctx context.Context, list []*Obs) error
	GetByID(ctx context.Context, id int64) (*Obs, error)
	Update(ctx context.Context, o *Obs) error
	// UpdateVoid writes only the void state columns.
	UpdateVoid(ctx context.Context, o *Obs) error
	Delete(ctx context.Context, id int64) error
	// NextGroupID allocates a fresh shared group identifier.
	NextGroupID(ctx context.Context) (int64, error)

	Find(ctx context.Context, f Filter) ([]*Obs, error)
	// FindVoided returns voided observations, most recently voided first.
	FindVoided(ctx context.Context) ([]*Obs, error)
	// Search matches an exact observation id or a case-insensitive subject
	// identifier prefix.
	Search(ctx context.Context, q string, includeVoided bool, kinds PersonKind) ([]*Obs, error)
	DistinctValues(ctx context.Context, conceptID int64, kinds PersonKind) ([]string, error)
	NumericAnswers(ctx context.Context, conceptID int64, sortByValue bool, kinds PersonKind) ([]NumericAnswer, error)
}

type MimeTypeRepository interface {
	List(ctx context.Context) ([]*MimeType, error)
	GetByID(ctx context.Context, id int64) (*MimeType, error)
}

// Evaluator filters and reduces one person's observations for a concept.
// Implementations interpret the aggregation and constraint descriptors;
// the service only forwards them.
type Evaluator interface {
	Evaluate(ctx context.Context, personID, conceptID int64, agg Aggregation, cons Constraint) ([]*Obs, error)
}

// Authorizer answers whether the calling principal holds a capability.
type Authorizer interface {
	Can(ctx context.Context, capability string) error
}

// CapabilityViewPerson gates the evaluated (aggregation/constraint) query.
const CapabilityViewPerson = "view:person"
