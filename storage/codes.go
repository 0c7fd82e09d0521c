package storage

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/boltdb/bolt"
)

var codeBucket = []byte("verification_codes")

// VerificationCodeStore holds pending email-verification codes: a
// time-bounded, single-use code-to-identity mapping. It replaces the old
// in-process map, so pending registrations survive a restart and the store
// can be handed to the web frontend by reference instead of living as
// process-global state.
type VerificationCodeStore struct {
	db  *bolt.DB
	ttl time.Duration

	// now is swapped in tests.
	now func() time.Time
}

type codeEntry struct {
	Code    string    `json:"code"`
	Expires time.Time `json:"expires"`
}

// OpenVerificationCodeStore opens the code database at path. Codes expire
// after ttl.
func OpenVerificationCodeStore(path string, ttl time.Duration) (*VerificationCodeStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(codeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &VerificationCodeStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *VerificationCodeStore) Close() error {
	return s.db.Close()
}

// GenerateCode returns a random 4-digit verification code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+1000), nil
}

// Put stores a code for an email address, replacing any pending one.
func (s *VerificationCodeStore) Put(email, code string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(codeEntry{Code: code, Expires: s.now().Add(s.ttl)})
		if err != nil {
			return err
		}
		return tx.Bucket(codeBucket).Put([]byte(email), data)
	})
}

// Verify checks a submitted code. A successful check consumes the code;
// expired codes are dropped on sight.
func (s *VerificationCodeStore) Verify(email, submitted string) (bool, error) {
	ok := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(codeBucket)
		data := bucket.Get([]byte(email))
		if data == nil {
			return nil
		}

		var entry codeEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		if s.now().After(entry.Expires) {
			return bucket.Delete([]byte(email))
		}
		if entry.Code != submitted {
			return nil
		}
		ok = true
		return bucket.Delete([]byte(email))
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}
