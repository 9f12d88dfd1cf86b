package handlers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/Coollin0/Indie-Hain/internal/chunkstore"
	"github.com/Coollin0/Indie-Hain/internal/database"
	"github.com/Coollin0/Indie-Hain/internal/manifest"
	"github.com/Coollin0/Indie-Hain/internal/models"
	"github.com/Coollin0/Indie-Hain/internal/server/httperr"
	"github.com/Coollin0/Indie-Hain/internal/server/middleware"
)

// authorizeDownload enforces the download predicate: admin, app owner, or a
// purchase record. The app must also be approved for anyone who is not the
// owner or an admin.
func authorizeDownload(c *fiber.Ctx, app *models.App) error {
	user := middleware.CurrentUser(c)
	if user.IsAdmin() || app.OwnerUserID == user.ID {
		return nil
	}
	if !app.IsApproved {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "app not available")
	}
	var count int64
	database.DB.Model(&models.Purchase{}).
		Where("user_id = ? AND app_id = ?", user.ID, app.ID).
		Count(&count)
	if count == 0 {
		return httperr.New(fiber.StatusForbidden, "PURCHASE_REQUIRED", "purchase required")
	}
	return nil
}

// resolveManifest finds the newest ready build for the coordinates (or the
// exact version when given) and loads its stored manifest.
func resolveManifest(slug, platform, channel, version string) (*models.Build, *manifest.Manifest, error) {
	q := database.DB.Preload("App").
		Joins("JOIN apps ON apps.id = builds.app_id").
		Where("apps.slug = ? AND builds.platform = ? AND builds.channel = ? AND builds.status = ?",
			slug, platform, channel, models.BuildReady)
	if version != "" {
		q = q.Where("builds.version = ?", version)
	}
	var build models.Build
	if err := q.Order("builds.id DESC").First(&build).Error; err != nil {
		return nil, nil, err
	}
	path := filepath.Join(StorageRoot, filepath.FromSlash(build.ManifestURL))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var m manifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, err
	}
	return &build, &m, nil
}

func GetManifest(c *fiber.Ctx) error {
	slug := c.Params("slug")
	platform := c.Params("platform")
	channel := c.Params("channel")
	version := c.Query("version")

	var app models.App
	if err := database.DB.Where("slug = ?", slug).First(&app).Error; err != nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "app not found")
	}
	if err := authorizeDownload(c, &app); err != nil {
		return err
	}
	_, m, err := resolveManifest(slug, platform, channel, version)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "no manifest")
		}
		return fiber.ErrInternalServerError
	}
	return c.JSON(m)
}

// GetChunk serves raw chunk bytes, but only when the requested hash is
// referenced by the manifest the caller is authorized for. Without the
// membership check a single manifest would open the whole store to hash
// guessing.
func GetChunk(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if !manifest.ValidHash(hash) {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "malformed chunk hash")
	}
	slug := c.Query("slug")
	platform := c.Query("platform", "windows")
	channel := c.Query("channel", "stable")
	version := c.Query("version")
	if slug == "" {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "slug required")
	}

	var app models.App
	if err := database.DB.Where("slug = ?", slug).First(&app).Error; err != nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "app not found")
	}
	if err := authorizeDownload(c, &app); err != nil {
		return err
	}
	_, m, err := resolveManifest(slug, platform, channel, version)
	if err != nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "no manifest")
	}
	if !m.HasChunk(hash) {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "chunk not in manifest")
	}
	data, err := Chunks.Get(hash)
	if err != nil {
		if errors.Is(err, chunkstore.ErrNotFound) {
			return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "chunk not found")
		}
		return fiber.ErrInternalServerError
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Send(data)
}

// GetBuildFile serves a whole stored file by manifest path, reassembled from
// its chunks. Membership in the resolved manifest is checked the same way
// chunk serving is.
func GetBuildFile(c *fiber.Ctx) error {
	slug := c.Params("slug")
	platform := c.Params("platform")
	channel := c.Params("channel")
	version := c.Query("version")
	rel := c.Params("+")

	var app models.App
	if err := database.DB.Where("slug = ?", slug).First(&app).Error; err != nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "app not found")
	}
	if err := authorizeDownload(c, &app); err != nil {
		return err
	}
	_, m, err := resolveManifest(slug, platform, channel, version)
	if err != nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "no manifest")
	}
	norm, err := manifest.NormalizePath(rel)
	if err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid path")
	}
	entry := m.FindFile(norm)
	if entry == nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "file not in manifest")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	for _, ref := range entry.Chunks {
		data, err := Chunks.Get(ref.SHA256)
		if err != nil {
			return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "chunk missing from store")
		}
		if _, err := c.Write(data); err != nil {
			return err
		}
	}
	return nil
}
