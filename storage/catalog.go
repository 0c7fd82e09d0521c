package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-scout/models"
)

// CatalogStore wraps the shared Postgres catalog: the append-mostly papers
// table and the users table. The full-text index over the catalog lives
// separately in PaperIndex; both are keyed by the paper id.
type CatalogStore struct {
	db *gorm.DB
}

// NewCatalogStore wraps an open gorm connection.
func NewCatalogStore(db *gorm.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// Migrate creates or updates the catalog schema.
func (s *CatalogStore) Migrate() error {
	return s.db.AutoMigrate(&models.Paper{}, &models.User{})
}

// InsertNew inserts a paper unless its id already exists. Re-ingestion is a
// no-op: the first write wins. It reports whether the row was actually
// created, so callers know whether to index it.
func (s *CatalogStore) InsertNew(ctx context.Context, paper *models.Paper) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(paper)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// PapersByID fetches full catalog rows for the given ids. Missing ids are
// silently absent from the result.
func (s *CatalogStore) PapersByID(ctx context.Context, ids []string) ([]models.Paper, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var papers []models.Paper
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&papers).Error
	if err != nil {
		return nil, err
	}
	return papers, nil
}

// Unsummarized returns up to limit papers added since the cutoff that still
// lack a summary, oldest first.
func (s *CatalogStore) Unsummarized(ctx context.Context, since time.Time, limit int) ([]models.Paper, error) {
	var papers []models.Paper
	err := s.db.WithContext(ctx).
		Where("(summary IS NULL OR summary = '') AND abstract <> '' AND added_timestamp >= ?", since).
		Order("added_timestamp asc").
		Limit(limit).
		Find(&papers).Error
	if err != nil {
		return nil, err
	}
	return papers, nil
}

// SetSummary stores the derived summary for a paper. The only mutation a
// catalog row sees after ingestion.
func (s *CatalogStore) SetSummary(ctx context.Context, id, summary string) error {
	return s.db.WithContext(ctx).
		Model(&models.Paper{}).
		Where("id = ?", id).
		Update("summary", summary).Error
}

// PruneOlderThan deletes catalog rows added before the cutoff and returns
// their ids so the caller can drop them from the text index as well.
func (s *CatalogStore) PruneOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Paper{}).
		Where("added_timestamp < ?", cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err = s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Paper{}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ForEachPaper streams the whole catalog in batches, for index rebuilds.
func (s *CatalogStore) ForEachPaper(ctx context.Context, batchSize int, fn func([]models.Paper) error) error {
	var batch []models.Paper
	res := s.db.WithContext(ctx).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	})
	return res.Error
}

// EnsureUser returns the user with the given email, creating an unverified
// row on first contact.
func (s *CatalogStore) EnsureUser(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where(models.User{Email: email}).FirstOrCreate(&user).Error
	return user, err
}

// SetVerified marks the user's email address as confirmed.
func (s *CatalogStore) SetVerified(ctx context.Context, email string) error {
	return s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("email = ?", email).
		Update("verified", true).Error
}

// Users lists all registered users.
func (s *CatalogStore) Users(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
