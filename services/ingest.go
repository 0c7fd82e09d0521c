package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/providers"
	"paper-scout/storage"
)

// IngestService pulls recent preprints from the providers into the shared
// catalog and the text index, and prunes rows past the retention window.
type IngestService struct {
	cfg       *config.Config
	catalog   *storage.CatalogStore
	index     *storage.PaperIndex
	providers []providers.Provider
	logger    *zap.Logger
}

// NewIngestService builds the ingestion pipeline.
func NewIngestService(cfg *config.Config, catalog *storage.CatalogStore, index *storage.PaperIndex, provs []providers.Provider, logger *zap.Logger) *IngestService {
	return &IngestService{
		cfg:       cfg,
		catalog:   catalog,
		index:     index,
		providers: provs,
		logger:    logger,
	}
}

// Run fetches from every provider and stores the results. The catalog is the
// source of truth: a paper enters the index only after its row was actually
// created, and an id that already exists is left exactly as first written.
func (s *IngestService) Run(ctx context.Context) (int, error) {
	since := time.Now().UTC().AddDate(0, 0, -s.cfg.IngestWindowDays)

	fetched := make(map[string]*models.Paper)
	for _, provider := range s.providers {
		papers, err := provider.Fetch(ctx, since)
		if err != nil {
			s.logger.Error("Provider fetch failed",
				zap.String("provider", provider.Name()), zap.Error(err))
			continue
		}
		s.logger.Info("Provider delivered results",
			zap.String("provider", provider.Name()), zap.Int("count", len(papers)))
		for _, p := range papers {
			if _, exists := fetched[p.ID]; !exists {
				fetched[p.ID] = p
			}
		}
	}

	inserted := 0
	now := time.Now().UTC()
	for _, paper := range fetched {
		paper.AddedAt = now
		created, err := s.catalog.InsertNew(ctx, paper)
		if err != nil {
			s.logger.Error("Insert failed", zap.String("paper_id", paper.ID), zap.Error(err))
			continue
		}
		if !created {
			continue
		}
		if err := s.index.Index(paper); err != nil {
			// The row exists but is unsearchable; cmd/reindex repairs this.
			s.logger.Error("Indexing failed", zap.String("paper_id", paper.ID), zap.Error(err))
			continue
		}
		inserted++
	}

	s.logger.Info("Ingestion finished",
		zap.Int("fetched", len(fetched)), zap.Int("inserted", inserted))
	return inserted, nil
}

// Prune removes papers older than the retention window from the catalog and
// the index. Personal match stores keep their own denormalized copies and
// are unaffected.
func (s *IngestService) Prune(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	ids, err := s.catalog.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune catalog: %w", err)
	}
	for _, id := range ids {
		if err := s.index.Delete(id); err != nil {
			s.logger.Error("Index delete failed", zap.String("paper_id", id), zap.Error(err))
		}
	}
	if len(ids) > 0 {
		s.logger.Info("Pruned expired papers", zap.Int("count", len(ids)))
	}
	return len(ids), nil
}
