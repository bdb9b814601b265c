package server

import "github.com/gin-gonic/gin"

func RegisterRoutes(engine *gin.Engine, h *Handler) {
	engine.Any("/x402/*path", h.Proxy)

	api := engine.Group("/api/v1")
	{
		api.POST("/endpoints", h.CreateEndpoint)
		api.GET("/endpoints", h.ListEndpoints)
		api.GET("/endpoints/:id", h.GetEndpoint)
		api.PATCH("/endpoints/:id", h.UpdateEndpoint)
		api.POST("/endpoints/:id/quotes", h.CreatePriceQuote)
		api.GET("/endpoints/:id/quotes/current", h.CurrentPriceQuote)

		api.GET("/orgs/:org_id/settings", h.GetOrgSettings)
		api.PATCH("/orgs/:org_id/settings", h.UpdateOrgSettings)

		api.POST("/compliance/rules", h.CreateRule)
		api.GET("/compliance/rules", h.ListRules)
		api.PATCH("/compliance/rules/:id", h.UpdateRule)
		api.DELETE("/compliance/rules/:id", h.DeleteRule)

		api.POST("/webhooks", h.CreateWebhook)
		api.GET("/webhooks", h.ListWebhooks)
		api.PATCH("/webhooks/:id", h.UpdateWebhook)
		api.DELETE("/webhooks/:id", h.DeleteWebhook)

		api.GET("/usage", h.ListUsage)

		api.GET("/networks", h.ListNetworks)

		api.GET("/escrow", h.ListEscrow)
		api.GET("/escrow/summary", h.EscrowSummary)
		api.POST("/escrow/:id/dispute", h.DisputeEscrow)
		api.POST("/escrow/:id/resolve", h.ResolveEscrow)
	}
}
