package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/bazaar-market/ledger/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceHealthReport(t *testing.T) {
	start := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(5*time.Minute + 700*time.Millisecond)
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Status: domain.HealthStatusError,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"paypal":    {Status: domain.HealthStatusError, Error: "context deadline exceeded"},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.2.3", CommitSHA: "abc123", Environment: "production", StartedAt: start},
		Optional:         []string{"paypal"},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusDegraded, report.Status)
	require.True(t, report.GeneratedAt.Equal(now))
	require.Equal(t, 5*time.Minute, svc.Uptime())
	require.Equal(t, "production", svc.Build().Environment)
}

func TestSystemServiceReadiness(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   domain.HealthStatus
	}{
		{"no checks", nil, domain.HealthStatusOK},
		{"all ok", map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"paypal":    {Status: domain.HealthStatusOK},
		}, domain.HealthStatusOK},
		{"store down", map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusError},
			"paypal":    {Status: domain.HealthStatusOK},
		}, domain.HealthStatusError},
		{"store slow", map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusDegraded},
		}, domain.HealthStatusDegraded},
		{"gateway down", map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"paypal":    {Status: domain.HealthStatusError},
		}, domain.HealthStatusDegraded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: tc.checks}},
				Optional:         []string{" paypal "},
			})
			require.NoError(t, err)

			report, err := svc.HealthReport(context.Background())
			require.NoError(t, err)
			require.Equal(t, tc.want, report.Status)
			require.NotNil(t, report.Checks)
		})
	}
}

func TestSystemServiceHealthReportPropagatesError(t *testing.T) {
	repo := &stubHealthRepository{err: errors.New("boom")}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	require.NoError(t, err)

	_, err = svc.HealthReport(context.Background())
	require.EqualError(t, err, "boom")
	require.Equal(t, 1, repo.calls)
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	_, err := NewSystemService(SystemServiceDeps{})
	require.Error(t, err)
}
