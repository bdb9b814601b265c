package server

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	compliancedomain "github.com/x402gate/x402gate/internal/compliance/domain"
	endpointdomain "github.com/x402gate/x402gate/internal/endpoint/domain"
	escrowdomain "github.com/x402gate/x402gate/internal/escrow/domain"
	"github.com/x402gate/x402gate/internal/facilitator"
	gatewaydomain "github.com/x402gate/x402gate/internal/gateway/domain"
	meteringdomain "github.com/x402gate/x402gate/internal/metering/domain"
	orgdomain "github.com/x402gate/x402gate/internal/organization/domain"
	webhookdomain "github.com/x402gate/x402gate/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxProxyBody bounds buffered request bodies on the proxy path.
const maxProxyBody = 10 << 20

type HandlerParam struct {
	fx.In

	Log         *zap.Logger
	Gateway     gatewaydomain.Service
	Endpoints   endpointdomain.Service
	Orgs        orgdomain.Service
	Compliance  compliancedomain.Service
	Metering    meteringdomain.Service
	Escrow      escrowdomain.Service
	Webhooks    webhookdomain.Service
	Facilitator facilitator.Facilitator
}

type Handler struct {
	log         *zap.Logger
	gateway     gatewaydomain.Service
	endpoints   endpointdomain.Service
	orgs        orgdomain.Service
	compliance  compliancedomain.Service
	metering    meteringdomain.Service
	escrow      escrowdomain.Service
	webhooks    webhookdomain.Service
	facilitator facilitator.Facilitator
}

func NewHandler(p HandlerParam) *Handler {
	return &Handler{
		log:         p.Log.Named("server.handler"),
		gateway:     p.Gateway,
		endpoints:   p.Endpoints,
		orgs:        p.Orgs,
		compliance:  p.Compliance,
		metering:    p.Metering,
		escrow:      p.Escrow,
		webhooks:    p.Webhooks,
		facilitator: p.Facilitator,
	}
}

// Proxy adapts the gin request onto the gateway pipeline and streams the
// terminal outcome back.
func (h *Handler) Proxy(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	result := h.gateway.Proxy(c.Request.Context(), gatewaydomain.ProxyRequest{
		Method:   c.Request.Method,
		Path:     c.Param("path"),
		Header:   c.Request.Header,
		Body:     body,
		ClientIP: c.ClientIP(),
	})

	for k, vs := range result.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Data(result.StatusCode, result.Header.Get("Content-Type"), result.Body)
}

func (h *Handler) CreateEndpoint(c *gin.Context) {
	var req endpointdomain.CreateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ep, err := h.endpoints.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ep)
}

func (h *Handler) ListEndpoints(c *gin.Context) {
	orgID, ok := queryID(c, "org_id")
	if !ok {
		return
	}
	endpoints, err := h.endpoints.List(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}

func (h *Handler) GetEndpoint(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ep, err := h.endpoints.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

func (h *Handler) UpdateEndpoint(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req endpointdomain.UpdateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ep, err := h.endpoints.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

func (h *Handler) CreatePriceQuote(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req endpointdomain.CreatePriceQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quote, err := h.endpoints.AddPriceQuote(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, quote)
}

func (h *Handler) CurrentPriceQuote(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	quote, err := h.endpoints.CurrentQuote(c.Request.Context(), id, time.Now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) GetOrgSettings(c *gin.Context) {
	orgID, ok := paramID(c, "org_id")
	if !ok {
		return
	}
	settings, err := h.orgs.Get(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *Handler) UpdateOrgSettings(c *gin.Context) {
	orgID, ok := paramID(c, "org_id")
	if !ok {
		return
	}
	var req orgdomain.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settings, err := h.orgs.Update(c.Request.Context(), orgID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *Handler) CreateRule(c *gin.Context) {
	var req compliancedomain.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, err := h.compliance.CreateRule(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) ListRules(c *gin.Context) {
	orgID, ok := queryID(c, "org_id")
	if !ok {
		return
	}
	rules, err := h.compliance.ListRules(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h *Handler) UpdateRule(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req compliancedomain.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, err := h.compliance.UpdateRule(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.compliance.DeleteRule(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CreateWebhook(c *gin.Context) {
	var req webhookdomain.CreateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ep, err := h.webhooks.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ep)
}

func (h *Handler) ListWebhooks(c *gin.Context) {
	orgID, ok := queryID(c, "org_id")
	if !ok {
		return
	}
	endpoints, err := h.webhooks.List(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": endpoints})
}

func (h *Handler) UpdateWebhook(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req webhookdomain.UpdateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ep, err := h.webhooks.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

func (h *Handler) DeleteWebhook(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.webhooks.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListUsage(c *gin.Context) {
	orgID, ok := queryID(c, "org_id")
	if !ok {
		return
	}
	filter := meteringdomain.ListFilter{
		Payer:  c.Query("payer"),
		Status: c.Query("status"),
	}
	if raw := c.Query("endpoint_id"); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endpoint_id"})
			return
		}
		filter.EndpointID = id
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	records, err := h.metering.List(c.Request.Context(), orgID, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": records})
}

func (h *Handler) ListEscrow(c *gin.Context) {
	orgID, ok := queryID(c, "org_id")
	if !ok {
		return
	}
	holdings, err := h.escrow.List(c.Request.Context(), orgID, c.Query("status"), 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holdings": holdings})
}

func (h *Handler) EscrowSummary(c *gin.Context) {
	orgID, ok := queryID(c, "org_id")
	if !ok {
		return
	}
	summary, err := h.escrow.Summarize(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) DisputeEscrow(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	holding, err := h.escrow.Dispute(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	h.webhooks.Broadcast(holding.OrgID, webhookdomain.EventEscrowDisputed, holding)
	c.JSON(http.StatusOK, holding)
}

// ResolveEscrow closes a dispute. A refund outcome also moves the backing
// usage record to refunded.
func (h *Handler) ResolveEscrow(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Outcome string `json:"outcome"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	holding, err := h.escrow.Resolve(c.Request.Context(), id, req.Outcome)
	if err != nil {
		respondError(c, err)
		return
	}

	event := webhookdomain.EventEscrowReleased
	if holding.Status == escrowdomain.StatusRefunded {
		event = webhookdomain.EventEscrowRefunded
		if err := h.metering.MarkRefunded(c.Request.Context(), holding.UsageRecordID); err != nil {
			h.log.Warn("mark usage refunded failed",
				zap.Int64("usage_record_id", int64(holding.UsageRecordID)),
				zap.Error(err))
		}
	}
	h.webhooks.Broadcast(holding.OrgID, event, holding)
	c.JSON(http.StatusOK, holding)
}

// ListNetworks surfaces the facilitator's capability discovery so operators
// can see which networks endpoints may be registered on.
func (h *Handler) ListNetworks(c *gin.Context) {
	networks, err := h.facilitator.SupportedNetworks(c.Request.Context())
	if err != nil {
		h.log.Error("facilitator capability discovery failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "facilitator unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"networks": networks})
}

func paramID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func queryID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Query(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " is required"})
		return 0, false
	}
	return id, true
}
