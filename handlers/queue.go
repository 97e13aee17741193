// handlers/queue_routes.go
package handlers

import (
	"matchmaking-system/middleware"
	"matchmaking-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupQueueRoutes(app *fiber.App, queueService *services.QueueService) {
	// 🔐 Secured routes — require user context (userID, roles), enforced via middleware
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/queue", queueService.Enqueue)
	secured.Delete("/queue/:party_id", queueService.Cancel)
}
