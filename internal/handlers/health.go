package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	domain "github.com/bazaar-market/ledger/internal/domain"
	"github.com/bazaar-market/ledger/internal/platform/httpx"
	"github.com/bazaar-market/ledger/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService wires the dependency checks used by /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
		if svc != nil {
			h.build = svc.Build()
		}
	}
}

// WithHealthBuildInfo overrides the build metadata reported by /health.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs health handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// Health reports that the process is serving.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	payload := map[string]any{
		"success":     true,
		"message":     "Bazaar API is running",
		"timestamp":   now.Format(time.RFC3339),
		"environment": h.build.Environment,
		"uptime":      now.Sub(h.build.StartedAt).Seconds(),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commitSha"] = h.build.CommitSHA
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

// Readyz reports dependency health and answers 503 unless every check is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError(http.StatusServiceUnavailable, "Readiness checks are not configured"))
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError(http.StatusServiceUnavailable, "Readiness check failed"))
		return
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]any, len(report.Checks))
	details := make([]string, 0)
	for _, name := range names {
		check := report.Checks[name]
		entry := map[string]any{
			"status":    check.Status,
			"latencyMs": check.Latency.Milliseconds(),
		}
		if check.Detail != "" {
			entry["detail"] = check.Detail
		}
		if check.Error != "" {
			entry["error"] = check.Error
			details = append(details, fmt.Sprintf("%s: %s", name, check.Error))
		}
		checks[name] = entry
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, map[string]any{
		"success":     report.Status != domain.HealthStatusError,
		"status":      report.Status,
		"checks":      checks,
		"details":     details,
		"generatedAt": formatTime(report.GeneratedAt),
		"uptime":      h.system.Uptime().Seconds(),
	})
}
