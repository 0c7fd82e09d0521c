package models

import (
	"time"
)

// Notification labels of a match record. A record starts as LabelNew and
// moves to LabelOld exactly once, after a digest containing it was sent.
const (
	LabelNew = "new"
	LabelOld = "old"
)

// MatchRecord is a denormalized copy of a catalog paper inside a user's
// personal match store. Copying the paper fields keeps the store
// self-contained: pruning the catalog never breaks an already-delivered
// match.
type MatchRecord struct {
	PaperID   string    `json:"paper_id"`
	Title     string    `json:"title"`
	Abstract  string    `json:"abstract"`
	Authors   []string  `json:"authors"`
	Keywords  []string  `json:"keywords"`
	Link      string    `json:"link"`
	Published time.Time `json:"published_timestamp"`
	AddedAt   time.Time `json:"added_timestamp"`
	Summary   string    `json:"summary,omitempty"`

	Label string `json:"label"`
	// SourceFilter names the filter that most recently matched this paper.
	SourceFilter string `json:"source_filter"`
}

// NewMatchRecord copies a catalog paper into a match record.
func NewMatchRecord(p Paper, label, sourceFilter string) MatchRecord {
	return MatchRecord{
		PaperID:      p.ID,
		Title:        p.Title,
		Abstract:     p.Abstract,
		Authors:      p.Authors,
		Keywords:     p.Keywords,
		Link:         p.Link,
		Published:    p.Published,
		AddedAt:      p.AddedAt,
		Summary:      p.Summary,
		Label:        label,
		SourceFilter: sourceFilter,
	}
}
