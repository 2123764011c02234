package app

import (
	"testing"

	"github.com/google/uuid"
)

func TestProcessSubscriptionExpiry(t *testing.T) {
	repo := newFakeRepository()
	repo.expireResults = []uuid.UUID{uuid.New(), uuid.New()}
	producer := &recordingPublisher{}

	jobs := NewJobs(repo, producer, testLogger())
	jobs.ProcessSubscriptionExpiry()

	if len(producer.published) != 2 {
		t.Fatalf("published = %d, want 2", len(producer.published))
	}
	for _, key := range producer.published {
		if key != "billing.subscription.expired" {
			t.Errorf("routing key = %q", key)
		}
	}
}

func TestProcessSubscriptionExpiryNothingToDo(t *testing.T) {
	repo := newFakeRepository()
	producer := &recordingPublisher{}

	jobs := NewJobs(repo, producer, testLogger())
	jobs.ProcessSubscriptionExpiry()

	if len(producer.published) != 0 {
		t.Errorf("published = %d, want 0", len(producer.published))
	}
}
