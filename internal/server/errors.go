package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	compliancedomain "github.com/x402gate/x402gate/internal/compliance/domain"
	endpointdomain "github.com/x402gate/x402gate/internal/endpoint/domain"
	escrowdomain "github.com/x402gate/x402gate/internal/escrow/domain"
	meteringdomain "github.com/x402gate/x402gate/internal/metering/domain"
	orgdomain "github.com/x402gate/x402gate/internal/organization/domain"
	webhookdomain "github.com/x402gate/x402gate/internal/webhook/domain"
)

// respondError maps domain sentinels onto HTTP statuses. Anything unmapped is
// an internal fault and must not leak details.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, endpointdomain.ErrEndpointNotFound),
		errors.Is(err, compliancedomain.ErrRuleNotFound),
		errors.Is(err, escrowdomain.ErrHoldingNotFound),
		errors.Is(err, meteringdomain.ErrRecordNotFound),
		errors.Is(err, webhookdomain.ErrEndpointNotFound),
		errors.Is(err, endpointdomain.ErrNoCurrentPrice):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, endpointdomain.ErrInvalidEndpoint),
		errors.Is(err, endpointdomain.ErrInvalidPrice),
		errors.Is(err, compliancedomain.ErrInvalidRule),
		errors.Is(err, escrowdomain.ErrInvalidHolding),
		errors.Is(err, meteringdomain.ErrInvalidRecord),
		errors.Is(err, webhookdomain.ErrInvalidEndpoint),
		errors.Is(err, orgdomain.ErrInvalidOrganization),
		errors.Is(err, orgdomain.ErrInvalidSettings):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, escrowdomain.ErrInvalidTransition),
		errors.Is(err, meteringdomain.ErrInvalidTransition):
		status = http.StatusConflict
		message = err.Error()
	}

	c.JSON(status, gin.H{"error": message})
}
