package scheduler

import (
	"context"

	"github.com/x402gate/x402gate/internal/clock"
	escrowdomain "github.com/x402gate/x402gate/internal/escrow/domain"
	"github.com/x402gate/x402gate/internal/metrics"
	webhookdomain "github.com/x402gate/x402gate/internal/webhook/domain"
	"go.uber.org/zap"
)

// EscrowReleaseJob releases matured holdings in batches until none remain.
// Safe to run from multiple instances: the underlying transition is
// compare-and-set, so a holding releases at most once.
type EscrowReleaseJob struct {
	escrow    escrowdomain.Service
	webhooks  webhookdomain.Service
	clock     clock.Clock
	batchSize int
	log       *zap.Logger
}

func NewEscrowReleaseJob(escrow escrowdomain.Service, webhooks webhookdomain.Service, clk clock.Clock, batchSize int, log *zap.Logger) *EscrowReleaseJob {
	return &EscrowReleaseJob{
		escrow:    escrow,
		webhooks:  webhooks,
		clock:     clk,
		batchSize: batchSize,
		log:       log.Named("scheduler.escrow_release"),
	}
}

func (j *EscrowReleaseJob) Name() string { return "escrow_release" }

func (j *EscrowReleaseJob) RunOnce(ctx context.Context) error {
	for {
		released, err := j.escrow.ReleaseDue(ctx, j.clock.Now(), j.batchSize)
		if err != nil {
			return err
		}
		for _, holding := range released {
			metrics.EscrowReleasedTotal.Inc()
			j.webhooks.Broadcast(holding.OrgID, webhookdomain.EventEscrowReleased, map[string]any{
				"holdingId":     holding.ID.String(),
				"usageRecordId": holding.UsageRecordID.String(),
				"payer":         holding.Payer,
				"amount":        holding.Amount,
				"currency":      holding.Currency,
				"network":       holding.Network,
				"releasedAt":    holding.ReleasedAt,
			})
		}
		if len(released) > 0 {
			j.log.Info("released escrow holdings", zap.Int("count", len(released)))
		}
		if len(released) < j.batchSize {
			return nil
		}
	}
}
