package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/Coollin0/Indie-Hain/internal/database"
	"github.com/Coollin0/Indie-Hain/internal/models"
	"github.com/Coollin0/Indie-Hain/internal/server/httperr"
	"github.com/Coollin0/Indie-Hain/internal/server/middleware"
)

func appJSON(a *models.App) fiber.Map {
	return fiber.Map{
		"id":          a.ID,
		"slug":        a.Slug,
		"title":       a.Title,
		"description": a.Description,
		"price":       a.Price,
		"cover_url":   a.CoverURL,
		"approved":    a.IsApproved,
	}
}

func CreateApp(c *fiber.Ctx) error {
	var in struct {
		Slug  string `json:"slug"`
		Title string `json:"title"`
	}
	if err := c.BodyParser(&in); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}
	slug := strings.TrimSpace(in.Slug)
	title := strings.TrimSpace(in.Title)
	if !slugRe.MatchString(slug) {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "slug must match ^[a-z0-9-]{1,64}$")
	}
	if title == "" {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "title required")
	}
	user := middleware.CurrentUser(c)
	var count int64
	database.DB.Model(&models.App{}).Where("slug = ?", slug).Count(&count)
	if count > 0 {
		return httperr.New(fiber.StatusConflict, "CONFLICT", "slug already exists")
	}
	app := models.App{Slug: slug, Title: title, OwnerUserID: user.ID}
	if err := database.DB.Create(&app).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"id": app.ID})
}

func MyApps(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	var apps []models.App
	database.DB.Where("owner_user_id = ?", user.ID).Order("id").Find(&apps)
	items := make([]fiber.Map, 0, len(apps))
	for i := range apps {
		items = append(items, appJSON(&apps[i]))
	}
	return c.JSON(fiber.Map{"items": items})
}

// UpdateAppMeta patches title/price/description/cover for an owned app.
// Only fields present in the body change.
func UpdateAppMeta(c *fiber.Ctx) error {
	var in struct {
		Title       *string  `json:"title"`
		Price       *float64 `json:"price"`
		Description *string  `json:"description"`
		CoverURL    *string  `json:"cover_url"`
	}
	if err := c.BodyParser(&in); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}
	app, err := ownedAppBySlug(c, c.Params("slug"))
	if err != nil {
		return err
	}
	if in.Title != nil {
		app.Title = strings.TrimSpace(*in.Title)
	}
	if in.Price != nil {
		if *in.Price < 0 {
			return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "price must be non-negative")
		}
		app.Price = *in.Price
	}
	if in.Description != nil {
		app.Description = *in.Description
	}
	if in.CoverURL != nil {
		app.CoverURL = *in.CoverURL
	}
	if err := database.DB.Save(app).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(appJSON(app))
}

// PublicApps lists approved apps for the catalog.
func PublicApps(c *fiber.Ctx) error {
	var apps []models.App
	database.DB.Where("is_approved = ?", true).Order("id").Find(&apps)
	items := make([]fiber.Map, 0, len(apps))
	for i := range apps {
		items = append(items, appJSON(&apps[i]))
	}
	return c.JSON(items)
}

func PublicAppByID(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
	}
	var app models.App
	if err := database.DB.Where("id = ? AND is_approved = ?", id, true).First(&app).Error; err != nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "app not found")
	}
	return c.JSON(appJSON(&app))
}

// ownedAppBySlug loads an app and enforces ownership (admins pass).
func ownedAppBySlug(c *fiber.Ctx, slug string) (*models.App, error) {
	var app models.App
	if err := database.DB.Where("slug = ?", slug).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httperr.New(fiber.StatusNotFound, "NOT_FOUND", "app not found")
		}
		return nil, fiber.ErrInternalServerError
	}
	user := middleware.CurrentUser(c)
	if app.OwnerUserID != user.ID && !user.IsAdmin() {
		return nil, httperr.New(fiber.StatusForbidden, "FORBIDDEN", "not the app owner")
	}
	return &app, nil
}

func ownedAppByID(c *fiber.Ctx, id uint) (*models.App, error) {
	var app models.App
	if err := database.DB.First(&app, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httperr.New(fiber.StatusNotFound, "NOT_FOUND", "app not found")
		}
		return nil, fiber.ErrInternalServerError
	}
	user := middleware.CurrentUser(c)
	if app.OwnerUserID != user.ID && !user.IsAdmin() {
		return nil, httperr.New(fiber.StatusForbidden, "FORBIDDEN", "not the app owner")
	}
	return &app, nil
}
