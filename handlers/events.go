// handlers/event_routes.go
package handlers

import (
	"matchmaking-system/middleware"
	"matchmaking-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupEventRoutes(app *fiber.App, eventService *services.EventService, identity *services.IdentityClient) {
	// SSE cannot carry the gateway headers, so this route authenticates
	// via query token against the identity service instead.
	app.Get("/events/stream", middleware.SSEAuthMiddleware(identity), eventService.Stream)
}
