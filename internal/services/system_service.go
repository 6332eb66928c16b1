package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/bazaar-market/ledger/internal/domain"
	"github.com/bazaar-market/ledger/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo

	// Optional names dependencies whose failure leaves the ledger degraded rather than down.
	// Orders can still be read and written while the payment gateway is unreachable.
	Optional []string
}

type systemService struct {
	health   repositories.HealthRepository
	now      func() time.Time
	build    BuildInfo
	optional map[string]struct{}
}

var _ SystemService = (*systemService)(nil)

// NewSystemService returns the service behind the liveness and readiness endpoints.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	now := func() time.Time { return clock().UTC() }

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = now()
	}
	build.StartedAt = build.StartedAt.UTC()

	optional := make(map[string]struct{}, len(deps.Optional))
	for _, name := range deps.Optional {
		if name = strings.TrimSpace(name); name != "" {
			optional[name] = struct{}{}
		}
	}

	return &systemService{
		health:   deps.HealthRepository,
		now:      now,
		build:    build,
		optional: optional,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = s.now()
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	report.Status = s.readiness(report.Checks)
	return report, nil
}

// Uptime is reported with second precision.
func (s *systemService) Uptime() time.Duration {
	return s.now().Sub(s.build.StartedAt).Truncate(time.Second)
}

func (s *systemService) Build() BuildInfo {
	return s.build
}

// readiness folds the individual probes into one status. A failing optional dependency
// never escalates past degraded.
func (s *systemService) readiness(checks map[string]domain.SystemHealthCheck) domain.HealthStatus {
	status := domain.HealthStatusOK
	for name, check := range checks {
		if check.Status == "" || check.Status == domain.HealthStatusOK {
			continue
		}
		if _, soft := s.optional[name]; soft || check.Status == domain.HealthStatusDegraded {
			status = domain.HealthStatusDegraded
			continue
		}
		return domain.HealthStatusError
	}
	return status
}
