/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog keeps a ledger of produced clips.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/hydroclip/internal/models"
	"github.com/friendsincode/hydroclip/internal/scheduler"
)

// Store persists clip records.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore wraps a migrated database.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "catalog").Logger()}
}

// RecordFor builds the catalog entry of a produced clip.
func RecordFor(node string, clip scheduler.Clip, skipped int) models.ClipRecord {
	return models.ClipRecord{
		Node:         node,
		Label:        clip.Label,
		Folder:       int64(clip.Folder),
		StartedAt:    clip.Start.UTC(),
		ReplayAnchor: clip.ReplayAnchor,
		Path:         clip.Path,
		Segments:     clip.Segments,
		Requested:    clip.Requested,
		Skipped:      skipped,
		Truncated:    clip.Truncated,
	}
}

// Record inserts rec, or updates the existing record with the same label.
func (s *Store) Record(ctx context.Context, rec *models.ClipRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "label"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("record clip %s: %w", rec.Label, err)
	}
	s.logger.Debug().Str("label", rec.Label).Msg("clip recorded")
	return nil
}

// List returns the node's clips starting in [from, to), oldest first.
// A zero bound is open.
func (s *Store) List(ctx context.Context, node string, from, to time.Time) ([]models.ClipRecord, error) {
	q := s.db.WithContext(ctx).Where("node = ?", node)
	if !from.IsZero() {
		q = q.Where("started_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("started_at < ?", to.UTC())
	}

	var out []models.ClipRecord
	if err := q.Order("started_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	return out, nil
}

// ByLabel returns the record with the given label.
func (s *Store) ByLabel(ctx context.Context, label string) (*models.ClipRecord, error) {
	var rec models.ClipRecord
	if err := s.db.WithContext(ctx).Where("label = ?", label).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
