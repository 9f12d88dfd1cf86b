package handlers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Coollin0/Indie-Hain/internal/chunkstore"
	"github.com/Coollin0/Indie-Hain/internal/database"
	"github.com/Coollin0/Indie-Hain/internal/manifest"
	"github.com/Coollin0/Indie-Hain/internal/models"
	"github.com/Coollin0/Indie-Hain/internal/server/httperr"
	"github.com/Coollin0/Indie-Hain/internal/server/middleware"
)

func CreateBuild(c *fiber.Ctx) error {
	var in struct {
		AppID    uint   `json:"app_id"`
		Version  string `json:"version"`
		Platform string `json:"platform"`
		Channel  string `json:"channel"`
	}
	if err := c.BodyParser(&in); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}
	if in.Channel == "" {
		in.Channel = "stable"
	}
	// "." and ".." pass the character check but would collapse the on-disk
	// manifest path out of the builds/ subtree.
	if !fieldRe.MatchString(in.Version) || in.Version == "." || in.Version == ".." {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid version")
	}
	if !validPlatforms[in.Platform] {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "platform must be windows, linux or mac")
	}
	if !validChannels[in.Channel] {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "channel must be stable or beta")
	}
	app, failErr := ownedAppByID(c, in.AppID)
	if failErr != nil {
		return failErr
	}
	var count int64
	database.DB.Model(&models.Build{}).
		Where("app_id = ? AND version = ? AND platform = ? AND channel = ?",
			app.ID, in.Version, in.Platform, in.Channel).
		Count(&count)
	if count > 0 {
		return httperr.New(fiber.StatusConflict, "CONFLICT", "build already exists for these coordinates")
	}
	build := models.Build{
		AppID:    app.ID,
		Version:  in.Version,
		Platform: in.Platform,
		Channel:  in.Channel,
		Status:   models.BuildDraft,
	}
	if err := database.DB.Create(&build).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"id": build.ID})
}

// ownedBuild loads a build and enforces that the caller owns its app.
func ownedBuild(c *fiber.Ctx) (*models.Build, error) {
	id, err := c.ParamsInt("id")
	if err != nil {
		return nil, httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid build id")
	}
	var build models.Build
	if err := database.DB.Preload("App").First(&build, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httperr.New(fiber.StatusNotFound, "NOT_FOUND", "build not found")
		}
		return nil, fiber.ErrInternalServerError
	}
	user := middleware.CurrentUser(c)
	if build.App.OwnerUserID != user.ID && !user.IsAdmin() {
		return nil, httperr.New(fiber.StatusForbidden, "FORBIDDEN", "not the app owner")
	}
	return &build, nil
}

// MissingChunks diffs the client's hash set against the store so only
// absent chunks get uploaded.
func MissingChunks(c *fiber.Ctx) error {
	var in struct {
		Hashes []string `json:"hashes"`
	}
	if err := c.BodyParser(&in); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}
	if _, failErr := ownedBuild(c); failErr != nil {
		return failErr
	}
	for _, h := range in.Hashes {
		if !manifest.ValidHash(h) {
			return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "malformed chunk hash "+h)
		}
	}
	missing, err := Chunks.Missing(in.Hashes)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"missing": missing})
}

// UploadChunk stores one raw chunk body under its claimed content hash.
func UploadChunk(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if !manifest.ValidHash(hash) {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "malformed chunk hash")
	}
	if err := Chunks.Put(hash, c.Body()); err != nil {
		if errors.Is(err, chunkstore.ErrHashMismatch) {
			return httperr.New(fiber.StatusBadRequest, "HASH_MISMATCH", "bytes do not match claimed hash")
		}
		Logger.Error("chunk put failed", zap.String("hash", hash), zap.Error(err))
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

// FinalizeBuild validates and persists the manifest, marks the build ready
// and opens a pending review submission. A build that is already ready
// cannot be finalized again.
func FinalizeBuild(c *fiber.Ctx) error {
	build, failErr := ownedBuild(c)
	if failErr != nil {
		return failErr
	}
	if build.Status == models.BuildReady {
		return httperr.New(fiber.StatusConflict, "CONFLICT", "build already finalized")
	}
	var m manifest.Manifest
	if err := json.Unmarshal(c.Body(), &m); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid manifest JSON")
	}
	if m.App != build.App.Slug || m.Version != build.Version ||
		m.Platform != build.Platform || m.Channel != build.Channel {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "manifest coordinates do not match build")
	}
	if err := manifest.Validate(&m); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	}

	rel := filepath.ToSlash(filepath.Join("apps", m.App, "builds", m.Version, m.Platform, m.Channel, "manifest.json"))
	path := filepath.Join(StorageRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fiber.ErrInternalServerError
	}
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return fiber.ErrInternalServerError
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		Logger.Error("manifest write failed", zap.String("path", path), zap.Error(err))
		return fiber.ErrInternalServerError
	}

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Build{}).Where("id = ?", build.ID).
			Updates(map[string]interface{}{
				"status":       models.BuildReady,
				"manifest_url": rel,
			}).Error; err != nil {
			return err
		}
		submission := models.Submission{BuildID: build.ID, Status: models.SubmissionPending}
		return tx.Create(&submission).Error
	})
	if err != nil {
		return fiber.ErrInternalServerError
	}
	Logger.Info("build finalized",
		zap.String("app", m.App), zap.String("version", m.Version),
		zap.String("platform", m.Platform), zap.String("channel", m.Channel))
	return c.JSON(fiber.Map{"manifest_url": rel})
}
