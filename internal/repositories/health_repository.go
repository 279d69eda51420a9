package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/vinuvisthara/api/internal/domain"
)

const defaultCheckTimeout = 1500 * time.Millisecond

// DependencyCheck tests one backing service, e.g. Firestore or the carrier API.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	// Critical checks mark the report as error when they fail; others degrade it.
	Critical bool
	Check    func(context.Context) error
}

// DependencyHealthOption customises NewDependencyHealthRepository.
type DependencyHealthOption func(*dependencyHealthRepository)

// WithDependencyTimeout sets the timeout for checks that do not carry one.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.timeout = timeout
		}
	}
}

// WithDependencyClock injects the clock.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository validates the check set up front.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	seen := make(map[string]struct{}, len(checks))
	for _, check := range checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			return nil, errors.New("health repository: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s missing check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate dependency %s", name)
		}
		seen[name] = struct{}{}
	}
	repo := &dependencyHealthRepository{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultCheckTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Collect runs every check concurrently and folds the results into one status.
func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]domain.SystemHealthCheck, len(r.checks))
		status  = domain.HealthStatusOK
	)
	var g errgroup.Group
	for _, check := range r.checks {
		g.Go(func() error {
			result := r.run(ctx, check)
			mu.Lock()
			defer mu.Unlock()
			results[check.Name] = result
			switch {
			case result.Status == domain.HealthStatusOK:
			case check.Critical:
				status = domain.HealthStatusError
			case status == domain.HealthStatusOK:
				status = domain.HealthStatusDegraded
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return domain.SystemHealthReport{}, err
	}
	return domain.SystemHealthReport{Status: status, Checks: results, GeneratedAt: r.now()}, nil
}

func (r *dependencyHealthRepository) run(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(checkCtx)
	end := r.now()

	result := domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	switch {
	case err == nil && checkCtx.Err() == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(checkCtx.Err(), context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	case err == nil:
		result.Status = domain.HealthStatusError
		result.Detail = checkCtx.Err().Error()
	default:
		result.Status = domain.HealthStatusError
		result.Detail = err.Error()
	}
	return result
}
