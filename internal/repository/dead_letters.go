package repository

import (
	"context"
	"encoding/json"
	"time"

	"SignalEngine/internal/domain/models"
	"SignalEngine/internal/domain/repository"
	"SignalEngine/pkg/queue"
)

// DeadLetters records terminally failed generation requests.
type DeadLetters struct {
	store queue.DeadLetterStore
	now   func() time.Time
}

func NewDeadLetters(store queue.DeadLetterStore) *DeadLetters {
	return &DeadLetters{store: store, now: time.Now}
}

func (d *DeadLetters) Push(ctx context.Context, req *models.SignalGenerationRequest, reason string, retries int) error {
	payload, err := json.Marshal(req)
	if err != nil {
		payload = nil
	}
	return d.store.Push(ctx, queue.DeadLetter{
		ID:       req.ID,
		Source:   req.StrategyID,
		Reason:   reason,
		Retries:  retries,
		FailedAt: d.now(),
		Payload:  payload,
	})
}

// List returns the most recent dead letters.
func (d *DeadLetters) List(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	return d.store.List(ctx, limit)
}

var _ repository.DeadLetterSink = (*DeadLetters)(nil)
