// Package services implements token issuing: short-lived signed access
// tokens plus long-lived opaque refresh tokens that rotate on every use.
package services

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Coollin0/Indie-Hain/internal/config"
	"github.com/Coollin0/Indie-Hain/internal/models"
)

var (
	ErrInvalidToken   = errors.New("invalid refresh token")
	ErrDeviceMismatch = errors.New("refresh token bound to a different device")
	// ErrReuseDetected means a syntactically valid refresh token carried a
	// secret that was already rotated away. The session is revoked as a
	// side effect; callers surface this as a plain 401.
	ErrReuseDetected = errors.New("refresh token reuse detected")
)

// Logger is set from main; defaults to a no-op so tests stay quiet.
var Logger = zap.NewNop()

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// FormatRefreshToken joins session id and secret into the opaque wire form.
func FormatRefreshToken(sessionID, secret string) string {
	return sessionID + "." + secret
}

// ParseRefreshToken splits the wire form back into (sessionID, secret).
func ParseRefreshToken(token string) (sessionID, secret string, err error) {
	sessionID, secret, ok := strings.Cut(token, ".")
	if !ok || sessionID == "" || secret == "" {
		return "", "", ErrInvalidToken
	}
	return sessionID, secret, nil
}

// IssueTokens creates a new session for the user and returns the only copy
// of the refresh token that will ever exist in plaintext.
func IssueTokens(db *gorm.DB, user *models.User, deviceID string) (*TokenPair, error) {
	sessionID, err := models.NewSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := models.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	session := models.Session{
		ID:          sessionID,
		UserID:      user.ID,
		RefreshHash: models.HashSecret(secret),
		DeviceID:    deviceID,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(config.Current.RefreshTokenTTL),
	}
	if err := db.Create(&session).Error; err != nil {
		return nil, err
	}
	access, err := GenerateAccessToken(user.ID, user.Role, sessionID, deviceID, config.Current.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: FormatRefreshToken(sessionID, secret),
	}, nil
}

// RefreshTokens rotates the session's secret and returns a fresh pair.
//
// A wrong secret for an otherwise live session means someone replayed an
// already-rotated token, so the whole session is revoked. The rotation
// itself is an optimistic update guarded by the old hash; if a concurrent
// refresh rotated first, this call observes a stale hash and takes the same
// revocation path instead of double-issuing.
func RefreshTokens(db *gorm.DB, token, deviceID string) (*TokenPair, error) {
	sessionID, secret, err := ParseRefreshToken(token)
	if err != nil {
		return nil, err
	}
	var session models.Session
	if err := db.Where("id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	now := time.Now()
	if !session.Active(now) {
		return nil, ErrInvalidToken
	}
	if session.DeviceID != "" && session.DeviceID != deviceID {
		return nil, ErrDeviceMismatch
	}

	presented := models.HashSecret(secret)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(session.RefreshHash)) != 1 {
		return nil, revokeOnReuse(db, &session)
	}

	newSecret, err := models.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	res := db.Model(&models.Session{}).
		Where("id = ? AND refresh_hash = ?", session.ID, presented).
		Updates(map[string]interface{}{
			"refresh_hash": models.HashSecret(newSecret),
			"last_used_at": now,
			"expires_at":   now.Add(config.Current.RefreshTokenTTL),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost a race with another refresh of this session: the secret we
		// just verified is already stale, which is indistinguishable from
		// replay.
		return nil, revokeOnReuse(db, &session)
	}

	var user models.User
	if err := db.First(&user, session.UserID).Error; err != nil {
		return nil, err
	}
	access, err := GenerateAccessToken(user.ID, user.Role, session.ID, deviceID, config.Current.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: FormatRefreshToken(session.ID, newSecret),
	}, nil
}

func revokeOnReuse(db *gorm.DB, session *models.Session) error {
	now := time.Now()
	if err := db.Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", session.ID).
		Update("revoked_at", now).Error; err != nil {
		return err
	}
	Logger.Warn("refresh token reuse detected, session revoked",
		zap.String("session_id", session.ID),
		zap.Uint("user_id", session.UserID))
	return ErrReuseDetected
}

// RevokeSession marks one session revoked. Idempotent.
func RevokeSession(db *gorm.DB, sessionID string) error {
	return db.Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", time.Now()).Error
}

// RevokeAllForUser invalidates every live session of a user. Called on
// password reset and role changes.
func RevokeAllForUser(db *gorm.DB, userID uint) error {
	return db.Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now()).Error
}

// Authorize verifies an access token and re-checks that its session is
// still live. A valid signature alone is not enough: sessions can be
// revoked before the access token's own expiry.
func Authorize(db *gorm.DB, accessToken string) (*UserClaims, error) {
	claims, err := ParseAccessToken(accessToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var session models.Session
	if err := db.Where("id = ?", claims.SessionID).First(&session).Error; err != nil {
		return nil, ErrInvalidToken
	}
	if !session.Active(time.Now()) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
