package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Session backs one refresh-token chain for one device. Only the SHA-256 of
// the current refresh secret is stored; the plaintext secret leaves the
// server exactly once, inside the refresh token handed to the client.
type Session struct {
	ID        string `gorm:"primaryKey;size:32"`
	CreatedAt time.Time
	UpdatedAt time.Time

	UserID      uint   `gorm:"index;not null"`
	RefreshHash string `gorm:"size:64;not null"`
	DeviceID    string `gorm:"size:128"`
	LastUsedAt  time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// NewSessionID returns a random 16-byte hex id.
func NewSessionID() (string, error) {
	return randomHex(16)
}

// NewRefreshSecret returns a random 32-byte hex secret.
func NewRefreshSecret() (string, error) {
	return randomHex(32)
}

// HashSecret is the stored form of a refresh secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
