// Command reindex rebuilds the full-text paper index from the catalog
// table. Use it after index corruption or a mapping change; the catalog is
// the source of truth and is never modified.
package main

import (
	"context"
	"log"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("failed to connect to catalog database: %v", err)
	}
	catalog := storage.NewCatalogStore(db)

	if err := os.RemoveAll(cfg.IndexPath); err != nil {
		log.Fatalf("failed to remove old index: %v", err)
	}
	index, err := storage.OpenIndex(cfg.IndexPath)
	if err != nil {
		log.Fatalf("failed to create index: %v", err)
	}
	defer index.Close()

	total := 0
	err = catalog.ForEachPaper(context.Background(), 500, func(papers []models.Paper) error {
		for i := range papers {
			if err := index.Index(&papers[i]); err != nil {
				return err
			}
		}
		total += len(papers)
		log.Printf("indexed %d papers...", total)
		return nil
	})
	if err != nil {
		log.Fatalf("reindex failed: %v", err)
	}

	log.Printf("reindex complete: %d papers", total)
}
