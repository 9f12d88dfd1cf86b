package server

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Coollin0/Indie-Hain/internal/server/handlers"
	"github.com/Coollin0/Indie-Hain/internal/server/middleware"
)

func RegisterRoutes(app *fiber.App) {
	// Auth
	auth := app.Group("/api/auth")
	auth.Post("/register", handlers.Register)
	auth.Post("/login", handlers.Login)
	auth.Post("/refresh", handlers.Refresh)
	auth.Post("/logout", middleware.RequireUser(), handlers.Logout)
	auth.Get("/me", middleware.RequireUser(), handlers.Me)
	auth.Post("/profile", middleware.RequireUser(), handlers.UpdateProfile)
	auth.Post("/password", middleware.RequireUser(), handlers.ChangePassword)
	auth.Post("/password/reset", handlers.ResetPassword)
	auth.Post("/upgrade/dev", middleware.RequireUser(), handlers.UpgradeToPublisher)

	// Publisher upload surface
	dev := app.Group("/api/dev", middleware.RequirePublisher())
	dev.Post("/apps", handlers.CreateApp)
	dev.Get("/my-apps", handlers.MyApps)
	dev.Post("/apps/:slug/meta", handlers.UpdateAppMeta)
	dev.Get("/apps/:id/purchases", handlers.AppPurchases)
	dev.Post("/builds", handlers.CreateBuild)
	dev.Post("/builds/:id/missing-chunks", handlers.MissingChunks)
	dev.Post("/chunk/:hash", handlers.UploadChunk)
	dev.Post("/builds/:id/finalize", handlers.FinalizeBuild)

	// Catalog
	app.Get("/api/public/apps", handlers.PublicApps)
	app.Get("/api/public/apps/:id", handlers.PublicAppByID)

	// Purchases
	app.Post("/api/user/purchases/report", middleware.RequireUser(), handlers.ReportPurchase)

	// Download surface
	app.Get("/api/manifest/:slug/:platform/:channel", middleware.RequireUser(), handlers.GetManifest)
	app.Get("/storage/chunks/:hash", middleware.RequireUser(), handlers.GetChunk)
	app.Get("/storage/apps/:slug/:platform/:channel/+", middleware.RequireUser(), handlers.GetBuildFile)

	// Review gate
	admin := app.Group("/api/admin", middleware.RequireAdmin())
	admin.Get("/submissions", handlers.ListSubmissions)
	admin.Get("/submissions/:id/manifest", handlers.SubmissionManifest)
	admin.Post("/submissions/:id/verify", handlers.VerifySubmission)
	admin.Post("/submissions/:id/approve", handlers.ApproveSubmission)
	admin.Post("/submissions/:id/reject", handlers.RejectSubmission)
	admin.Get("/users", handlers.ListUsers)
	admin.Post("/users/:id/role", handlers.SetUserRole)
	admin.Post("/users/:id/reset-password", handlers.ResetUserPassword)

	// Health
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true, "time": time.Now()})
	})
}
