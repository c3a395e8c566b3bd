package usecase

import (
	"context"
	"time"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
)

// authorize fails closed: an owned record needs a matching authenticated
// requester. Records without an owner are addressable by job id alone.
func authorize(rec *model.TaskRecord, requesterID string) error {
	if !rec.HasOwner() {
		return nil
	}
	if requesterID == "" {
		return domain.ErrUnauthenticated
	}
	if !rec.OwnedBy(requesterID) {
		return domain.ErrForbidden
	}
	return nil
}

// Limiter is a fixed-window rate limiter keyed by caller.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
