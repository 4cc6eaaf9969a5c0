package handlers

import (
	"challenge-service/middleware"
	"challenge-service/services"

	"github.com/gofiber/fiber/v2"
)

func SetupChallengeRoutes(app *fiber.App, lifecycle *services.LifecycleService, progress *services.ProgressService, settlement *services.SettlementService, ledger *services.LedgerService) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Browse listing for public pending challenges
	app.Get("/challenges/open", lifecycle.ListOpenChallengesHandler)

	// Authenticated routes — business identity comes from the Gateway
	secured := app.Group("/", middleware.BusinessContextMiddleware())

	// Challenge lifecycle
	secured.Post("/challenges", lifecycle.CreateChallengeHandler)
	secured.Post("/challenges/join", lifecycle.JoinByCodeHandler)
	secured.Post("/challenges/:id/invite", lifecycle.InviteHandler)
	secured.Post("/challenges/:id/accept", lifecycle.AcceptHandler)
	secured.Post("/challenges/:id/decline", lifecycle.DeclineHandler)
	secured.Post("/challenges/:id/cancel", lifecycle.CancelHandler)
	secured.Get("/challenges/:id", lifecycle.GetChallengeHandler)

	// Read models
	secured.Get("/businesses/:id/challenges", lifecycle.ListChallengesHandler)
	secured.Get("/businesses/:id/balance", ledger.GetBalance)
	secured.Get("/businesses/:id/ledger", ledger.GetLedger)

	// Progress event ingestion (upstream subsystems via Gateway)
	secured.Post("/events", progress.RecordEventHandler)

	// On-demand settlement sweep
	secured.Post("/challenges/settlement/run", settlement.ForceCheckHandler)
}
