package models

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	RoleAdmin     = "admin"
	RolePublisher = "publisher"
	RoleUser      = "user"
)

const (
	pbkdf2Iterations = 150_000
	pbkdf2SaltLen    = 16
	pbkdf2KeyLen     = 32
)

type User struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:120;not null"`
	PasswordHash string `gorm:"size:160;not null"`
	// TempPasswordHash, when set, is a one-shot credential issued by an
	// admin reset. Logging in with it forces a password change.
	TempPasswordHash string `gorm:"size:160"`
	Role             string `gorm:"size:32;index;not null"`
	IsActive         bool   `gorm:"default:true"`
	LastSeenAt       *time.Time
}

// HashPassword derives a PBKDF2-SHA256 key from the password with a fresh
// random salt. Stored form is "salthex:dkhex".
func HashPassword(plain string) (string, error) {
	salt := make([]byte, pbkdf2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	dk := pbkdf2.Key([]byte(plain), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(dk), nil
}

// VerifyPassword re-derives the key with the stored salt and compares in
// constant time. Malformed stored values never verify.
func VerifyPassword(plain, stored string) bool {
	saltHex, dkHex, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(dkHex)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(plain), salt, pbkdf2Iterations, len(want), sha256.New)
	return hmac.Equal(got, want)
}

func (u *User) SetPassword(plain string) error {
	h, err := HashPassword(plain)
	if err != nil {
		return err
	}
	u.PasswordHash = h
	return nil
}

func (u *User) CheckPassword(plain string) bool {
	return VerifyPassword(plain, u.PasswordHash)
}

// NewTempPassword returns a short random one-shot credential for an admin
// password reset.
func NewTempPassword() (string, error) {
	return randomHex(8)
}

// CheckTempPassword reports whether the forced-reset credential matches.
func (u *User) CheckTempPassword(plain string) bool {
	if u.TempPasswordHash == "" {
		return false
	}
	return VerifyPassword(plain, u.TempPasswordHash)
}

func (u *User) IsPublisher() bool {
	return u.Role == RolePublisher || u.Role == RoleAdmin
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
