package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/Coollin0/Indie-Hain/internal/models"
)

var (
	ErrConflict       = errors.New("email or username already registered")
	ErrBadCredentials = errors.New("bad credentials")
)

// AuthResult flags whether the user got in on the forced-reset credential,
// in which case the caller must demand a password change instead of issuing
// a normal session.
type AuthResult struct {
	User          *models.User
	ResetRequired bool
}

// Register creates a user with role "user". Email is lowercased; both email
// and username must be free.
func Register(db *gorm.DB, email, password, username string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if email == "" || password == "" || username == "" {
		return nil, errors.New("email, password and username are required")
	}
	var count int64
	db.Model(&models.User{}).
		Where("email = ? OR lower(username) = lower(?)", email, username).
		Count(&count)
	if count > 0 {
		return nil, ErrConflict
	}
	user := models.User{
		Email:    email,
		Username: username,
		Role:     models.RoleUser,
		IsActive: true,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, err
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate looks a user up by email or case-insensitive username and
// verifies the password. The forced-reset credential, when present and
// matching, succeeds with ResetRequired set.
func Authenticate(db *gorm.DB, identity, password string) (*AuthResult, error) {
	identity = strings.TrimSpace(identity)
	var user models.User
	err := db.Where("email = ? OR lower(username) = lower(?)", strings.ToLower(identity), identity).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrBadCredentials
	}
	if user.CheckPassword(password) {
		return &AuthResult{User: &user}, nil
	}
	if user.CheckTempPassword(password) {
		return &AuthResult{User: &user, ResetRequired: true}, nil
	}
	return nil, ErrBadCredentials
}

// ChangePassword replaces the credential, clears any forced-reset one, and
// revokes every existing session so old tokens die with the old password.
func ChangePassword(db *gorm.DB, user *models.User, newPassword string) error {
	if newPassword == "" {
		return errors.New("password required")
	}
	if err := user.SetPassword(newPassword); err != nil {
		return err
	}
	user.TempPasswordHash = ""
	if err := db.Save(user).Error; err != nil {
		return err
	}
	return RevokeAllForUser(db, user.ID)
}

// IssueTempPassword puts the user into the forced-reset state: a random
// one-shot credential replaces nothing (the real password stays), every live
// session is revoked, and the plaintext is returned exactly once for the
// admin to hand over out of band.
func IssueTempPassword(db *gorm.DB, user *models.User) (string, error) {
	plain, err := models.NewTempPassword()
	if err != nil {
		return "", err
	}
	hash, err := models.HashPassword(plain)
	if err != nil {
		return "", err
	}
	user.TempPasswordHash = hash
	if err := db.Save(user).Error; err != nil {
		return "", err
	}
	if err := RevokeAllForUser(db, user.ID); err != nil {
		return "", err
	}
	return plain, nil
}

// ResetPassword trades a matching temp credential for a new password. Only
// the temp credential is accepted here; holders of the real password use
// ChangePassword through an authenticated session instead.
func ResetPassword(db *gorm.DB, identity, tempPassword, newPassword string) (*models.User, error) {
	res, err := Authenticate(db, identity, tempPassword)
	if err != nil {
		return nil, err
	}
	if !res.ResetRequired {
		return nil, ErrBadCredentials
	}
	if err := ChangePassword(db, res.User, newPassword); err != nil {
		return nil, err
	}
	return res.User, nil
}

// SetRole updates a user's role and forces re-authentication everywhere.
func SetRole(db *gorm.DB, user *models.User, role string) error {
	switch role {
	case models.RoleUser, models.RolePublisher, models.RoleAdmin:
	default:
		return errors.New("unknown role")
	}
	user.Role = role
	if err := db.Save(user).Error; err != nil {
		return err
	}
	return RevokeAllForUser(db, user.ID)
}
