package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vinuvisthara/api/internal/repositories"
)

const (
	orderNumberPrefix = "VV"
	orderCounterScope = "orders"
	maxOrderSequence  = 999999
)

// orderNumberSequence issues human-readable order numbers of the form
// VV-YYYY-NNNNNN from one counter per calendar year. Called inside the order
// transaction, a rolled back order does not consume a number.
type orderNumberSequence struct {
	repo   repositories.CounterRepository
	prefix string
}

func newOrderNumberSequence(repo repositories.CounterRepository, prefix string) orderNumberSequence {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = orderNumberPrefix
	}
	return orderNumberSequence{repo: repo, prefix: prefix}
}

// orderCounterKey names the counter document for the year of now.
func orderCounterKey(now time.Time) string {
	return fmt.Sprintf("%s:%04d", orderCounterScope, now.UTC().Year())
}

func (s orderNumberSequence) Next(ctx context.Context, now time.Time) (string, error) {
	key := orderCounterKey(now)
	value, err := s.repo.Next(ctx, key)
	if err == nil && value > maxOrderSequence {
		err = repositories.NewCounterError(repositories.CounterErrorExhausted, key,
			fmt.Sprintf("sequence passed %d", maxOrderSequence), nil)
	}
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return "", fmt.Errorf("order number: %w: %w", counterErr, ErrOrderCreationFailed)
		}
		return "", mapRepositoryError(err)
	}
	return s.format(now, value), nil
}

func (s orderNumberSequence) format(now time.Time, value int64) string {
	return fmt.Sprintf("%s-%04d-%06d", s.prefix, now.UTC().Year(), value)
}
