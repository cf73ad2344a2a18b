// handlers/scout_routes.go
package handlers

import (
	"dare-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupScoutRoutes(app *fiber.App, reputationService *services.ReputationService) {
	// Read-only trust surface: derived reputation and binding decay outlook.
	// Public behind Gateway auth; nothing here mutates state.
	app.Get("/scouts/:scout_id/reputation", reputationService.GetScoutReputation)
	app.Get("/creators/:creator_id/binding", reputationService.GetBindingStatus)
}
