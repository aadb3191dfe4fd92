package encounter

import "time"

// Encounter maps to the encounter table. An encounter is the clinical
// interaction observations are recorded under; obs queries scope to it by
// id.
type Encounter struct {
	ID                int64     `db:"id" json:"id"`
	PersonID          int64     `db:"person_id" json:"person_id"`
	EncounterType     string    `db:"encounter_type" json:"encounter_type"`
	EncounterDatetime time.Time `db:"encounter_datetime" json:"encounter_datetime"`
	LocationID        *int64    `db:"location_id" json:"location_id,omitempty"`
	Notes             *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}
