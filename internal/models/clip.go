package models

import "time"

// ClipRecord is one produced clip in the catalog. Label is unique: a rerun
// that overwrites a clip updates its record.
type ClipRecord struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	Node         string    `gorm:"type:varchar(128);index"`
	Label        string    `gorm:"type:varchar(191);uniqueIndex"`
	Folder       int64     `gorm:"index"`
	StartedAt    time.Time `gorm:"index"`
	ReplayAnchor *time.Time
	Path         string `gorm:"type:text"`
	ObjectKey    string `gorm:"type:text"`
	Segments     int
	Requested    int
	Skipped      int
	Truncated    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Uploaded reports whether the clip was copied to object storage.
func (c ClipRecord) Uploaded() bool {
	return c.ObjectKey != ""
}
