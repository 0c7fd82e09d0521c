package storage

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"paper-scout/models"
)

func createMatchStore(t *testing.T) *MatchStore {
	t.Helper()
	store, err := OpenMatchStore(filepath.Join(t.TempDir(), "matches.db"))
	if err != nil {
		t.Fatal("could not open match store:", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Log(err)
		}
	})
	return store
}

func record(paperID, label, source string) models.MatchRecord {
	return models.MatchRecord{
		PaperID:      paperID,
		Title:        "Title " + paperID,
		Abstract:     "Abstract " + paperID,
		Authors:      []string{"A. Author"},
		Link:         "https://example.org/abs/" + paperID,
		Published:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		AddedAt:      time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Label:        label,
		SourceFilter: source,
	}
}

func TestMatchStore_UpsertGet(t *testing.T) {
	store := createMatchStore(t)

	rec := record("2501.00001", models.LabelNew, "gnn")
	if err := store.Upsert(rec); err != nil {
		t.Fatal("error upserting:", err)
	}

	got, err := store.Get(rec.PaperID)
	if err != nil {
		t.Fatal("error getting:", err)
	} else if got == nil {
		t.Fatal("expected a record, got nil")
	} else if !reflect.DeepEqual(*got, rec) {
		t.Fatalf("incorrect record: expected %+v got %+v", rec, *got)
	}

	got, err = store.Get("missing")
	if err != nil {
		t.Fatal("error getting:", err)
	} else if got != nil {
		t.Fatalf("expected nil for unknown paper, got %+v", *got)
	}
}

func TestMatchStore_UpsertReplaces(t *testing.T) {
	store := createMatchStore(t)

	rec := record("2501.00001", models.LabelNew, "gnn")
	if err := store.Upsert(rec); err != nil {
		t.Fatal("error upserting:", err)
	}

	rec.SourceFilter = "molecules"
	rec.Label = models.LabelOld
	if err := store.Upsert(rec); err != nil {
		t.Fatal("error upserting:", err)
	}

	got, err := store.Get(rec.PaperID)
	if err != nil {
		t.Fatal("error getting:", err)
	}
	if got.SourceFilter != "molecules" || got.Label != models.LabelOld {
		t.Fatalf("record not replaced: %+v", *got)
	}

	recs, err := store.NewRecords()
	if err != nil {
		t.Fatal("error listing new:", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no duplicate or new records, got %d", len(recs))
	}
}

func TestMatchStore_NewRecordsAndMarkAllOld(t *testing.T) {
	store := createMatchStore(t)

	for _, rec := range []models.MatchRecord{
		record("1", models.LabelNew, "gnn"),
		record("2", models.LabelOld, "gnn"),
		record("3", models.LabelNew, "molecules"),
	} {
		if err := store.Upsert(rec); err != nil {
			t.Fatal("error upserting:", err)
		}
	}

	recs, err := store.NewRecords()
	if err != nil {
		t.Fatal("error listing new:", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 new records, got %d", len(recs))
	}

	flipped, err := store.MarkAllOld()
	if err != nil {
		t.Fatal("error marking old:", err)
	}
	if flipped != 2 {
		t.Fatalf("expected 2 flipped records, got %d", flipped)
	}

	recs, err = store.NewRecords()
	if err != nil {
		t.Fatal("error listing new:", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no new records after MarkAllOld, got %d", len(recs))
	}

	// Marking again is a no-op.
	flipped, err = store.MarkAllOld()
	if err != nil {
		t.Fatal("error marking old:", err)
	}
	if flipped != 0 {
		t.Fatalf("expected 0 flipped records, got %d", flipped)
	}
}
