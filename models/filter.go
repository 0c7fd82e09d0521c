package models

import (
	"strings"
	"time"
)

// Epoch is the watermark fallback: a filter carrying it matches the whole
// existing catalog on its next run.
var Epoch = time.Unix(0, 0).UTC()

// naive layouts cover watermarks written without a zone; they are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Filter is a user-owned keyword subscription, persisted as one JSON document
// per filter under the user's data directory. A paper matches the filter iff
// every keyword group contains at least one phrase occurring in the paper's
// indexed text (AND of ORs).
type Filter struct {
	// Name comes from the document file name, not the document body.
	Name string `json:"-"`

	FilterType    string     `json:"filter_type"`
	KeywordGroups [][]string `json:"keyword_groups"`

	// LastScan is the watermark: the instant through which this filter has
	// already produced results. Kept as the raw document string so foreign
	// or broken values survive a round trip untouched.
	LastScan string `json:"last_scan"`
}

// LastScanTime parses the watermark. A missing or unreadable value degrades
// to the epoch, so the filter re-scans everything rather than failing the
// run. Timestamps without a zone are assumed UTC.
func (f *Filter) LastScanTime() time.Time {
	raw := strings.TrimSpace(f.LastScan)
	if raw == "" {
		return Epoch
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t
		}
	}
	return Epoch
}

// SetLastScan advances the watermark.
func (f *Filter) SetLastScan(t time.Time) {
	f.LastScan = t.UTC().Format(time.RFC3339Nano)
}
