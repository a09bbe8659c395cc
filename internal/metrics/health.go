package metrics

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/nextrouter/nextrouter/internal/logging"
)

// HealthChecker reports healthy once the policy rules have been applied and
// a later verify pass found no drift. A drifting verify clears the signal.
type HealthChecker struct {
	mu           sync.RWMutex
	rulesApplied bool
	verified     bool
	logger       *slog.Logger
}

// NewHealthChecker returns a HealthChecker using the shared logger.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{logger: logging.GetLogger()}
}

// SetRulesApplied records a successful apply.
func (h *HealthChecker) SetRulesApplied() {
	h.mu.Lock()
	h.rulesApplied = true
	h.mu.Unlock()
}

// SetVerified records the outcome of the latest verify pass.
func (h *HealthChecker) SetVerified(ok bool) {
	h.mu.Lock()
	h.verified = ok
	h.mu.Unlock()
}

// IsHealthy reports whether both signals are satisfied.
func (h *HealthChecker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rulesApplied && h.verified
}

// Handler produces an HTTP handler for the /healthz endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		rulesApplied := h.rulesApplied
		verified := h.verified
		h.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		if rulesApplied && verified {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK\n"))
			return
		}

		h.logger.Warn("health check not yet passing",
			slog.Bool("rules_applied", rulesApplied),
			slog.Bool("verified", verified),
		)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Service Unavailable\n"))
	})
}
