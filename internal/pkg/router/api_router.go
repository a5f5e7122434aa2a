package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/inviteku/inviteku/app/controllers"
	"github.com/inviteku/inviteku/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Provider callbacks authenticate with their own token/signature, not an API key.
	v1.Post("/payments/webhook", controllers.HandlePaymentWebhook)

	protected := v1.Group("", middleware.APIKeyAuthMiddleware())
	protected.Get("/packages", controllers.HandleListPackages)
	protected.Post("/purchases", controllers.HandleCreatePurchase)
	protected.Get("/invitations/:slug/entitlements", controllers.HandleGetEntitlements)
	protected.Get("/invitations/:id/whatsapp/quota", controllers.HandleGetWhatsAppQuota)
	protected.Post("/invitations/:id/whatsapp/consume", controllers.HandleConsumeWhatsAppQuota)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
