// handlers/match_routes.go
package handlers

import (
	"matchmaking-system/middleware"
	"matchmaking-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMatchRoutes(app *fiber.App, lifecycle *services.LifecycleService, arbitration *services.ArbitrationService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	// Match lifecycle — participants only, enforced in the service layer
	secured.Get("/matches/:id", lifecycle.GetMatch)
	secured.Post("/matches/:id/ready", lifecycle.Ready)
	secured.Post("/matches/:id/finish", lifecycle.Finish)

	// Result arbitration
	secured.Post("/matches/:id/results", arbitration.Submit)
	secured.Post("/matches/:id/evidence", arbitration.UploadEvidence)

	// 🔒 Admin-only routes
	admin := secured.Group("/admin", middleware.RequireRole("moderator"))
	admin.Post("/matches/:id/resolve", lifecycle.Resolve)
}
