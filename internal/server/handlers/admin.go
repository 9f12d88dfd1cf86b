package handlers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/Coollin0/Indie-Hain/internal/database"
	"github.com/Coollin0/Indie-Hain/internal/manifest"
	"github.com/Coollin0/Indie-Hain/internal/models"
	"github.com/Coollin0/Indie-Hain/internal/server/httperr"
	"github.com/Coollin0/Indie-Hain/internal/services"
)

func submissionJSON(s *models.Submission) fiber.Map {
	return fiber.Map{
		"id":       s.ID,
		"build_id": s.BuildID,
		"status":   s.Status,
		"note":     s.Note,
		"app":      s.Build.App.Slug,
		"version":  s.Build.Version,
		"platform": s.Build.Platform,
		"channel":  s.Build.Channel,
		"created":  s.CreatedAt,
	}
}

func ListSubmissions(c *fiber.Ctx) error {
	q := database.DB.Preload("Build.App").Order("submissions.id DESC")
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	var subs []models.Submission
	q.Find(&subs)
	items := make([]fiber.Map, 0, len(subs))
	for i := range subs {
		items = append(items, submissionJSON(&subs[i]))
	}
	return c.JSON(fiber.Map{"items": items})
}

func loadSubmission(c *fiber.Ctx) (*models.Submission, error) {
	id, err := c.ParamsInt("id")
	if err != nil {
		return nil, httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
	}
	var sub models.Submission
	if err := database.DB.Preload("Build.App").First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httperr.New(fiber.StatusNotFound, "NOT_FOUND", "submission not found")
		}
		return nil, fiber.ErrInternalServerError
	}
	return &sub, nil
}

func submissionManifest(sub *models.Submission) (*manifest.Manifest, error) {
	path := filepath.Join(StorageRoot, filepath.FromSlash(sub.Build.ManifestURL))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func SubmissionManifest(c *fiber.Ctx) error {
	sub, failErr := loadSubmission(c)
	if failErr != nil {
		return failErr
	}
	m, err := submissionManifest(sub)
	if err != nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "manifest missing")
	}
	return c.JSON(m)
}

// VerifySubmission re-verifies the stored build: every referenced chunk must
// exist and hash clean. Reviewers run this before approving.
func VerifySubmission(c *fiber.Ctx) error {
	sub, failErr := loadSubmission(c)
	if failErr != nil {
		return failErr
	}
	m, err := submissionManifest(sub)
	if err != nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "manifest missing")
	}
	var bad []string
	for _, h := range m.ChunkSet() {
		if err := Chunks.Verify(h); err != nil {
			bad = append(bad, h)
		}
	}
	if len(bad) > 0 {
		return c.JSON(fiber.Map{"ok": false, "corrupt_chunks": bad})
	}
	return c.JSON(fiber.Map{"ok": true, "chunks": len(m.ChunkSet())})
}

// ApproveSubmission flips the submission to approved and makes the app
// publicly visible and downloadable. Pending submissions only.
func ApproveSubmission(c *fiber.Ctx) error {
	sub, failErr := loadSubmission(c)
	if failErr != nil {
		return failErr
	}
	if sub.Status != models.SubmissionPending {
		return httperr.New(fiber.StatusConflict, "ALREADY_PROCESSED", "submission already processed")
	}
	now := time.Now()
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Submission{}).Where("id = ?", sub.ID).
			Updates(map[string]interface{}{
				"status":       models.SubmissionApproved,
				"processed_at": now,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&models.App{}).Where("id = ?", sub.Build.AppID).
			Update("is_approved", true).Error
	})
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

// RejectSubmission marks the submission rejected with an optional note.
// App visibility is left untouched.
func RejectSubmission(c *fiber.Ctx) error {
	sub, failErr := loadSubmission(c)
	if failErr != nil {
		return failErr
	}
	if sub.Status != models.SubmissionPending {
		return httperr.New(fiber.StatusConflict, "ALREADY_PROCESSED", "submission already processed")
	}
	var in struct {
		Note string `json:"note"`
	}
	_ = c.BodyParser(&in)
	now := time.Now()
	if err := database.DB.Model(&models.Submission{}).Where("id = ?", sub.ID).
		Updates(map[string]interface{}{
			"status":       models.SubmissionRejected,
			"note":         in.Note,
			"processed_at": now,
		}).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

func ListUsers(c *fiber.Ctx) error {
	var users []models.User
	database.DB.Order("id").Find(&users)
	items := make([]fiber.Map, 0, len(users))
	for _, u := range users {
		items = append(items, userJSON(u.ID, u.Email, u.Username, u.Role))
	}
	return c.JSON(fiber.Map{"items": items})
}

// ResetUserPassword issues a one-shot temp credential for a user and revokes
// their sessions. The plaintext appears in this response and nowhere else.
func ResetUserPassword(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
	}
	var user models.User
	if err := database.DB.First(&user, id).Error; err != nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "user not found")
	}
	tmp, err := services.IssueTempPassword(database.DB, &user)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"temp_password": tmp})
}

// SetUserRole changes a user's role and revokes all their sessions.
func SetUserRole(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
	}
	var in struct {
		Role string `json:"role"`
	}
	if err := c.BodyParser(&in); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}
	var user models.User
	if err := database.DB.First(&user, id).Error; err != nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "user not found")
	}
	if err := services.SetRole(database.DB, &user, in.Role); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	}
	return c.JSON(fiber.Map{"user": userJSON(user.ID, user.Email, user.Username, user.Role)})
}
