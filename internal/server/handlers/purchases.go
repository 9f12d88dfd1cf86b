package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Coollin0/Indie-Hain/internal/database"
	"github.com/Coollin0/Indie-Hain/internal/models"
	"github.com/Coollin0/Indie-Hain/internal/server/httperr"
	"github.com/Coollin0/Indie-Hain/internal/server/middleware"
)

// ReportPurchase records an entitlement for the calling user. The ledger
// itself lives elsewhere; this row only feeds the download-authorization
// predicate.
func ReportPurchase(c *fiber.Ctx) error {
	var in struct {
		AppID uint    `json:"app_id"`
		Price float64 `json:"price"`
	}
	if err := c.BodyParser(&in); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}
	var app models.App
	if err := database.DB.First(&app, in.AppID).Error; err != nil {
		return httperr.New(fiber.StatusNotFound, "NOT_FOUND", "app not found")
	}
	if in.Price < 0 {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "price must be non-negative")
	}
	user := middleware.CurrentUser(c)
	var count int64
	database.DB.Model(&models.Purchase{}).
		Where("user_id = ? AND app_id = ?", user.ID, app.ID).
		Count(&count)
	if count > 0 {
		return httperr.New(fiber.StatusConflict, "CONFLICT", "already purchased")
	}
	purchase := models.Purchase{UserID: user.ID, AppID: app.ID, Price: in.Price}
	if err := database.DB.Create(&purchase).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true, "id": purchase.ID})
}

// AppPurchases lists the purchase history of an owned app.
func AppPurchases(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
	}
	app, failErr := ownedAppByID(c, uint(id))
	if failErr != nil {
		return failErr
	}
	var purchases []models.Purchase
	database.DB.Where("app_id = ?", app.ID).Order("id").Find(&purchases)
	items := make([]fiber.Map, 0, len(purchases))
	for _, p := range purchases {
		items = append(items, fiber.Map{
			"user_id":      p.UserID,
			"price":        p.Price,
			"purchased_at": p.CreatedAt,
		})
	}
	return c.JSON(items)
}
