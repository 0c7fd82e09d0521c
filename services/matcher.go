package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"paper-scout/models"
	"paper-scout/storage"
)

// ErrIndexQuery marks a failure of the shared text index or the catalog row
// lookup behind it. It is fatal for the whole sweep: every remaining filter
// would hit the same broken index, so the run is surfaced to the operator
// instead of being retried filter by filter.
var ErrIndexQuery = errors.New("catalog index query failed")

// Catalog is the read side of the shared paper catalog the engine needs.
type Catalog interface {
	PapersByID(ctx context.Context, ids []string) ([]models.Paper, error)
	Users(ctx context.Context) ([]models.User, error)
}

// PaperSearcher runs compiled filter queries against the full-text index.
type PaperSearcher interface {
	Search(q query.Query) ([]string, error)
}

// matchWriter is the slice of a user's match store the engine touches.
type matchWriter interface {
	Get(paperID string) (*models.MatchRecord, error)
	Upsert(rec models.MatchRecord) error
}

// MatchService runs users' keyword filters against the catalog and
// reconciles new hits into their personal match stores.
type MatchService struct {
	catalog Catalog
	index   PaperSearcher
	filters *storage.FilterStore
	logger  *zap.Logger

	// Now is swapped in tests to pin watermarks.
	Now func() time.Time
}

// NewMatchService builds the engine.
func NewMatchService(catalog Catalog, index PaperSearcher, filters *storage.FilterStore, logger *zap.Logger) *MatchService {
	return &MatchService{
		catalog: catalog,
		index:   index,
		filters: filters,
		logger:  logger,
		Now:     time.Now,
	}
}

// RunSweep processes all filters of all registered users sequentially and
// returns the number of match records written. A failure confined to one
// user (their store cannot be opened, a filter document cannot be saved)
// skips that user only; an index failure aborts the sweep.
func (m *MatchService) RunSweep(ctx context.Context) (int, error) {
	users, err := m.catalog.Users(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	total := 0
	for _, user := range users {
		added, err := m.RunUser(ctx, user.ID)
		total += added
		if err != nil {
			if errors.Is(err, ErrIndexQuery) {
				return total, err
			}
			m.logger.Error("User sweep failed, continuing with next user",
				zap.Uint("user_id", user.ID), zap.Error(err))
		}
	}
	return total, nil
}

// RunUser processes every filter of one user against the user's match store.
func (m *MatchService) RunUser(ctx context.Context, userID uint) (int, error) {
	names, err := m.filters.Names(userID)
	if err != nil {
		return 0, fmt.Errorf("list filters: %w", err)
	}
	if len(names) == 0 {
		return 0, nil
	}

	store, err := storage.OpenMatchStore(m.filters.MatchDBPath(userID))
	if err != nil {
		return 0, fmt.Errorf("open match store: %w", err)
	}
	defer store.Close()

	total := 0
	for _, name := range names {
		added, err := m.runFilter(ctx, userID, name, store)
		total += added
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// runFilter is one (user, filter) pass: compile, search, partition by the
// watermark, reconcile, advance the watermark.
func (m *MatchService) runFilter(ctx context.Context, userID uint, name string, store matchWriter) (int, error) {
	log := m.logger.With(zap.Uint("user_id", userID), zap.String("filter", name))

	filter, err := m.filters.Load(userID, name)
	if err != nil {
		// Malformed document: skip this cycle, leave the watermark alone so
		// the filter is retried once the frontend rewrites it.
		log.Warn("Skipping unreadable filter", zap.Error(err))
		return 0, nil
	}

	q := storage.CompileFilterQuery(filter.KeywordGroups)
	if q == nil {
		// No usable phrase survived compilation, so there is nothing to
		// search for. The watermark still advances so an unfillable filter
		// is not re-scanned against the whole catalog forever.
		log.Info("Filter has no keywords, skipping query")
		return 0, m.advanceWatermark(userID, &filter)
	}

	ids, err := m.index.Search(q)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIndexQuery, err)
	}

	papers, err := m.catalog.PapersByID(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch rows: %v", ErrIndexQuery, err)
	}

	watermark := filter.LastScanTime()
	added, failed := 0, 0
	for _, paper := range papers {
		if !paper.AddedAt.After(watermark) {
			continue
		}

		rec := models.NewMatchRecord(paper, models.LabelNew, filter.Name)
		existing, err := store.Get(paper.ID)
		if err != nil {
			// Fail closed: leave whatever is stored for this paper
			// untouched rather than risk clobbering its label.
			log.Error("Skipping paper, cannot read existing record",
				zap.String("paper_id", paper.ID), zap.Error(err))
			failed++
			continue
		}
		if existing != nil {
			// Re-matching never resets a delivered paper back to new,
			// including records written by an earlier filter in this run.
			rec.Label = existing.Label
		}

		if err := store.Upsert(rec); err != nil {
			log.Error("Upsert failed", zap.String("paper_id", paper.ID), zap.Error(err))
			failed++
			continue
		}
		added++
	}

	log.Info("Filter processed",
		zap.Int("index_hits", len(ids)),
		zap.Int("new_matches", added))

	if failed > 0 {
		// Keeping the old watermark means the skipped papers fall inside
		// the next run's window instead of being lost to this filter.
		log.Warn("Watermark not advanced, records failed to reconcile",
			zap.Int("failed", failed))
		return added, nil
	}
	return added, m.advanceWatermark(userID, &filter)
}

// advanceWatermark moves last_scan to now and persists the document. The
// watermark only ever moves forward, whether or not the run found matches.
func (m *MatchService) advanceWatermark(userID uint, filter *models.Filter) error {
	filter.SetLastScan(m.Now())
	if err := m.filters.Save(userID, *filter); err != nil {
		return fmt.Errorf("persist watermark of %q: %w", filter.Name, err)
	}
	return nil
}
