package models

import (
	"time"
)

// Paper is one entry of the shared preprint catalog. Rows are immutable after
// ingestion except for the derived Summary column, which a downstream
// enrichment job fills in.
type Paper struct {
	// ID is the external identifier of the preprint (e.g. the arXiv id).
	ID       string   `json:"id" gorm:"primaryKey"`
	Title    string   `json:"title" gorm:"not null"`
	Abstract string   `json:"abstract" gorm:"type:text"`
	Authors  []string `json:"authors" gorm:"serializer:json;type:jsonb"`
	Keywords []string `json:"keywords" gorm:"serializer:json;type:jsonb"`
	Link     string   `json:"link" gorm:"not null"`

	// Published is when the work was made public upstream and orders papers
	// chronologically. AddedAt is when this system ingested the row; it is
	// what "new since last scan" compares against, because backfill and
	// late-arriving entries make the two diverge.
	Published time.Time `json:"published_timestamp" gorm:"column:published_timestamp;not null"`
	AddedAt   time.Time `json:"added_timestamp" gorm:"column:added_timestamp;not null;index"`

	Summary string `json:"summary,omitempty" gorm:"type:text"`
}

// TableName sets the explicit table name for GORM.
func (Paper) TableName() string {
	return "papers"
}
