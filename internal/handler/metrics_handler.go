package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pickup-roster-api/internal/service"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	PingContext(ctx context.Context) error
}

// Check is an optional dependency checked by /ready. Failures are reported but do not make
// the process unready; only the database does.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// MetricsHandler serves health, readiness and Prometheus endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	db      pinger
	checks  []Check
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService, db pinger, checks ...Check) *MetricsHandler {
	sorted := append([]Check(nil), checks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &MetricsHandler{metrics: metrics, db: db, checks: sorted}
}

// Prometheus serves the registry.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health always answers 200 with the roster counters.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "metrics": h.metrics.Snapshot()})
}

// Ready answers 503 when the database does not respond.
func (h *MetricsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	deps := gin.H{}
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			deps[check.Name] = err.Error()
			continue
		}
		deps[check.Name] = "ok"
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			deps["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error(), "checks": deps})
			return
		}
		deps["database"] = "ok"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": deps})
}

// RegisterRoutes mounts the health and metrics endpoints at the router root.
func (h *MetricsHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
}
