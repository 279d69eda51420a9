package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
	"github.com/vinuvisthara/api/internal/repositories"
)

// CounterRepository issues sequence numbers from documents in the counters
// collection. Each call joins the caller's transaction when there is one.
type CounterRepository struct {
	counters *pfirestore.BaseRepository[counterDocument]
	uow      *pfirestore.UnitOfWork
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider, uow *pfirestore.UnitOfWork) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	if uow == nil {
		uow = pfirestore.NewUnitOfWork(provider)
	}
	return &CounterRepository{
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection),
		uow:      uow,
		now:      time.Now,
	}, nil
}

// Next increments counterID and returns the new value. A missing counter starts at 1.
func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "", "counter id is required", nil)
	}
	var next int64
	err := r.uow.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := r.counters.Get(ctx, id)
		if err != nil && !isNotFound(err) {
			return err
		}
		doc.Value++
		doc.UpdatedAt = r.now().UTC()
		if err := r.counters.Set(ctx, id, doc); err != nil {
			return err
		}
		next = doc.Value
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
