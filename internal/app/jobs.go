/**
 * @description
 * Scheduled job implementations for the billing-service.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// JobsRepository defines database operations needed by the jobs.
type JobsRepository interface {
	ExpireLapsedSubscriptions(ctx context.Context) ([]uuid.UUID, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo     JobsRepository
	producer EventPublisher
	logger   *slog.Logger
}

// NewJobs creates a new Jobs runner. producer may be nil.
func NewJobs(repo JobsRepository, producer EventPublisher, logger *slog.Logger) *Jobs {
	return &Jobs{
		repo:     repo,
		producer: producer,
		logger:   logger,
	}
}

// ProcessSubscriptionExpiry expires effective subscriptions whose period has
// lapsed with renewal turned off.
func (j *Jobs) ProcessSubscriptionExpiry() {
	j.logger.Info("starting subscription expiry job")
	ctx := context.Background()

	expired, err := j.repo.ExpireLapsedSubscriptions(ctx)
	if err != nil {
		j.logger.Error("failed to expire lapsed subscriptions", "error", err)
		return
	}

	if len(expired) == 0 {
		j.logger.Info("no lapsed subscriptions to expire")
		return
	}

	j.logger.Info("expired lapsed subscriptions", "count", len(expired))

	if j.producer != nil {
		for _, id := range expired {
			body := map[string]interface{}{"subscription_id": id, "event": "expired"}
			if err := j.producer.Publish(ctx, EventsExchange, "billing.subscription.expired", body); err != nil {
				j.logger.Error("failed to publish expiry event", "subscription_id", id, "error", err)
			}
		}
	}

	j.logger.Info("subscription expiry job finished")
}
