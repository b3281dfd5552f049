// Package catalog persists repository names and tag→digest history in
// Postgres via gorm, supplementing the filesystem-truth listing endpoints
// with a queryable, restart-durable index. The filesystem remains the
// source of truth; this index is never rebuilt from it — rows change only
// as tags are written or deleted.
package catalog

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kcsanjeeb/dedup-registry/internal/config"
)

// Repository is one row per known repository name.
type Repository struct {
	Name      string `gorm:"primaryKey"`
	CreatedAt time.Time
}

// Tag is one row per (repo, tag), tracking the most recently assigned
// digest and when it was last moved.
type Tag struct {
	Repo      string `gorm:"primaryKey"`
	Name      string `gorm:"primaryKey"`
	Digest    string
	UpdatedAt time.Time
}

// Index wraps a gorm/postgres connection and implements
// manifeststore.Notifier, so every tag write and tag delete is mirrored
// here without manifeststore depending on this package.
type Index struct {
	db *gorm.DB
}

// Open connects to Postgres per cfg and migrates the catalog schema.
func Open(cfg config.CatalogConfig) (*Index, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}
	if err := db.AutoMigrate(&Repository{}, &Tag{}); err != nil {
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}
	return &Index{db: db}, nil
}

// NoteTag records that repo/tag now points at digest, creating the
// repository row if this is its first tag.
func (i *Index) NoteTag(repo, tag, digest string) {
	if err := i.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(Repository{Name: repo}).FirstOrCreate(&Repository{Name: repo, CreatedAt: time.Now()}).Error; err != nil {
			return err
		}
		return tx.Save(&Tag{Repo: repo, Name: tag, Digest: digest, UpdatedAt: time.Now()}).Error
	}); err != nil {
		logWarn("note_tag", repo+":"+tag, err)
	}
}

// NoteTagDeleted removes a tag row. The repository row is left in place
// even if no tags remain — matching the spec's no-GC stance, a catalog
// entry is not pruned just because its tags were retracted.
func (i *Index) NoteTagDeleted(repo, tag string) {
	if err := i.db.Delete(&Tag{}, "repo = ? AND name = ?", repo, tag).Error; err != nil {
		logWarn("note_tag_deleted", repo+":"+tag, err)
	}
}

// Repositories returns every known repository name, ordered.
func (i *Index) Repositories() ([]string, error) {
	var rows []Repository
	if err := i.db.Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: query repositories: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Name)
	}
	return names, nil
}

// Tags returns every tag name known for repo, ordered.
func (i *Index) Tags(repo string) ([]string, error) {
	var rows []Tag
	if err := i.db.Where("repo = ?", repo).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: query tags: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Name)
	}
	return names, nil
}

func logWarn(op, detail string, err error) {
	log.Printf(`{"timestamp":"%s","level":"warn","module":"catalog","operation":"%s","detail":"%s","error":"%v"}`,
		time.Now().Format(time.RFC3339), op, detail, err)
}
