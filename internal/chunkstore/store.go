// Package chunkstore is the content-addressed blob store. Bytes for a hash
// are written to disk exactly once; a ChunkRecord row carries the reference
// count so repeated uploads of the same content stay deduplicated.
package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Coollin0/Indie-Hain/internal/models"
)

var (
	ErrHashMismatch = errors.New("chunk bytes do not match claimed hash")
	ErrNotFound     = errors.New("chunk not found")
)

type Store struct {
	root   string
	db     *gorm.DB
	logger *zap.Logger
}

func New(root string, db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(root, "chunks"), 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, db: db, logger: logger}, nil
}

// shardPath fans chunks out by hash prefix: chunks/ab/cd/abcd… keeps any one
// directory small.
func (s *Store) shardPath(hash string) string {
	return filepath.Join(s.root, "chunks", hash[0:2], hash[2:4], hash)
}

func (s *Store) Exists(hash string) (bool, error) {
	var count int64
	err := s.db.Model(&models.ChunkRecord{}).Where("hash = ?", hash).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Missing returns the subset of hashes with no ChunkRecord, preserving the
// input order. This backs the missing-chunk diff that makes uploads
// incremental.
func (s *Store) Missing(hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return []string{}, nil
	}
	var present []string
	if err := s.db.Model(&models.ChunkRecord{}).
		Where("hash IN ?", hashes).
		Pluck("hash", &present).Error; err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, len(present))
	for _, h := range present {
		have[h] = struct{}{}
	}
	missing := []string{}
	seen := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if _, ok := have[h]; !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// Put stores a chunk under its content hash. The claimed hash must equal the
// actual digest of data. A new hash writes bytes via temp-file rename and
// inserts a record with ref_count 1; a known hash only increments the count.
// The insert-or-increment is a single upsert so concurrent puts of the same
// hash cannot lose an increment.
func (s *Store) Put(hash string, data []byte) error {
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return ErrHashMismatch
	}

	path := s.shardPath(hash)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeAtomic(path, data); err != nil {
			return fmt.Errorf("store chunk %s: %w", hash, err)
		}
	}

	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}
	record := models.ChunkRecord{
		Hash:        hash,
		Size:        int64(len(data)),
		StoragePath: filepath.ToSlash(rel),
		RefCount:    1,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"ref_count": gorm.Expr("ref_count + 1")}),
	}).Create(&record).Error
	if err != nil {
		return err
	}
	s.logger.Debug("chunk stored", zap.String("hash", hash), zap.Int("size", len(data)))
	return nil
}

// Get returns the exact bytes for a known hash.
func (s *Store) Get(hash string) ([]byte, error) {
	ok, err := s.Exists(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.shardPath(hash))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

// RefCount returns the reference count for a hash, 0 if unknown.
func (s *Store) RefCount(hash string) (int64, error) {
	var record models.ChunkRecord
	err := s.db.Where("hash = ?", hash).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return record.RefCount, nil
}

// Verify re-hashes the stored bytes for a hash. Used by the admin review
// re-verification pass.
func (s *Store) Verify(hash string) error {
	data, err := s.Get(hash)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return ErrHashMismatch
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
