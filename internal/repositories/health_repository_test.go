package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/vinuvisthara/api/internal/domain"
)

func TestDependencyHealthRepositoryCollectSuccess(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: func(context.Context) error { return nil }},
		{Name: "carrier", Check: func(context.Context) error { return nil }},
	}, WithDependencyClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.Checks["firestore"].CheckedAt != now {
		t.Fatalf("expected checkedAt %s, got %s", now, report.Checks["firestore"].CheckedAt)
	}
}

func TestDependencyHealthRepositoryNonCriticalFailureDegrades(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: func(context.Context) error { return nil }},
		{Name: "carrier", Check: func(context.Context) error { return errors.New("login failed") }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if got := report.Checks["carrier"]; got.Status != domain.HealthStatusError || got.Detail != "login failed" {
		t.Fatalf("unexpected carrier result %#v", got)
	}
}

func TestDependencyHealthRepositoryCriticalTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{
			Name:     "firestore",
			Critical: true,
			Timeout:  5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error, got %s", report.Status)
	}
	if report.Checks["firestore"].Detail != "timeout" {
		t.Fatalf("expected timeout detail, got %q", report.Checks["firestore"].Detail)
	}
}

func TestNewDependencyHealthRepositoryValidation(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"no name":   {{Check: func(context.Context) error { return nil }}},
		"no check":  {{Name: "firestore"}},
		"duplicate": {{Name: "a", Check: func(context.Context) error { return nil }}, {Name: "a", Check: func(context.Context) error { return nil }}},
	}
	for name, checks := range cases {
		if _, err := NewDependencyHealthRepository(checks); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
