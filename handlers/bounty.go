// handlers/bounty_routes.go
package handlers

import (
	"dare-settlement-system/middleware"
	"dare-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupBountyRoutes(app *fiber.App, bountyService *services.BountyService) {
	// 🔓 Public routes — *no user context*, but **still require Gateway auth**
	app.Get("/bounties", bountyService.ListBounties)
	app.Get("/bounties/:id", bountyService.GetBounty)

	// Oracle webhook — gateway-authenticated service call, no user context
	app.Post("/bounties/oracle-decision", bountyService.OracleDecision)

	// 🔐 Secured routes — require user context (userID), enforced via middleware
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/bounties", bountyService.CreateBounty)
	secured.Post("/bounties/:id/register-funding", bountyService.RegisterFunding)
	secured.Post("/bounties/:id/inject-capital", bountyService.InjectCapital)
	secured.Post("/bounties/:id/claim", bountyService.ClaimBounty)
	secured.Post("/bounties/:id/proof", bountyService.SubmitProof)

	secured.Get("/bounties/status/stream", bountyService.StreamBountyStatusSSE)
}
