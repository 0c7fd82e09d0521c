package storage

import (
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"

	"paper-scout/models"
)

var matchBucket = []byte("matches")

// MatchStore is one user's personal match database: a bolt file holding one
// JSON-encoded MatchRecord per matched paper, keyed by paper id. Each user's
// file is independent of the catalog and of every other user.
type MatchStore struct {
	db *bolt.DB
}

// OpenMatchStore opens (or lazily creates) the match database at path.
func OpenMatchStore(path string) (*MatchStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(matchBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &MatchStore{db: db}, nil
}

func (s *MatchStore) Close() error {
	return s.db.Close()
}

// Get retrieves the record for a paper id, or nil if the paper was never
// matched for this user.
func (s *MatchStore) Get(paperID string) (*models.MatchRecord, error) {
	var rec *models.MatchRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(matchBucket).Get([]byte(paperID))
		if data == nil {
			return nil
		}
		rec = &models.MatchRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Upsert writes the record in a single transaction: a reader never observes
// a partially written record.
func (s *MatchStore) Upsert(rec models.MatchRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(matchBucket).Put([]byte(rec.PaperID), data)
	})
}

// NewRecords returns all records still labelled new, i.e. not yet surfaced
// in a sent digest.
func (s *MatchStore) NewRecords() ([]models.MatchRecord, error) {
	var recs []models.MatchRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(matchBucket).ForEach(func(_, data []byte) error {
			var rec models.MatchRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if rec.Label == models.LabelNew {
				recs = append(recs, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// MarkAllOld flips every new record to old. Called only after a digest was
// confirmed sent; old records are never flipped back.
func (s *MatchStore) MarkAllOld() (int, error) {
	flipped := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(matchBucket)

		// Writing while cursoring the same bucket invalidates the cursor,
		// so collect the updates first.
		updates := make(map[string][]byte)
		err := bucket.ForEach(func(key, data []byte) error {
			var rec models.MatchRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if rec.Label != models.LabelNew {
				return nil
			}
			rec.Label = models.LabelOld
			updated, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			updates[string(key)] = updated
			return nil
		})
		if err != nil {
			return err
		}

		for key, data := range updates {
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
			flipped++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return flipped, nil
}
