package models

import "time"

// ChunkRecord indexes one content-addressed blob on disk. The hash is the
// identity; bytes for a hash are written exactly once and never mutated.
// RefCount counts uploads referencing the hash so a future garbage collector
// can decrement on build deletion.
type ChunkRecord struct {
	Hash      string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time

	Size        int64  `gorm:"not null"`
	StoragePath string `gorm:"size:512;not null"`
	RefCount    int64  `gorm:"not null;default:1"`
}
