package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timfallmk/node-local-monitor/internal/logging"
	"github.com/timfallmk/node-local-monitor/internal/mounts"
	"github.com/timfallmk/node-local-monitor/internal/node"
	"github.com/timfallmk/node-local-monitor/internal/observability"
)

// Monitor is the part of node.LocalMonitor served over HTTP.
type Monitor interface {
	Current() node.LocalState
	LastRefresh() time.Time
	State() node.MonitorState
	Paths() []string
	Refresh(ctx context.Context) error
}

// Health reports the aggregated health checks.
type Health interface {
	GetHealth() map[string]*observability.HealthCheck
	GetOverallHealth() observability.HealthStatus
}

// MountResolver maps monitored paths to their mounts.
type MountResolver interface {
	ResolveAll(ctx context.Context, paths []string) ([]mounts.Mount, error)
}

// Handlers serves the /v1/node routes.
type Handlers struct {
	monitor        Monitor
	health         Health
	resolver       MountResolver
	metrics        *observability.MetricsCollector
	thresholds     func() observability.Thresholds
	refreshTimeout time.Duration
}

type localStateResponse struct {
	Disks       []node.Disk `json:"disks"`
	Empty       bool        `json:"empty"`
	State       string      `json:"state"`
	LastRefresh *time.Time  `json:"last_refresh"`
}

type failedPath struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Error string `json:"error,omitempty"`
}

func (h *Handlers) GetLocalState(c *gin.Context) {
	state := h.monitor.Current()

	resp := localStateResponse{
		Disks: state.Disks,
		Empty: state.Empty(),
		State: h.monitor.State().String(),
	}
	if last := h.monitor.LastRefresh(); !last.IsZero() {
		resp.LastRefresh = &last
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) GetCapacity(c *gin.Context) {
	state := h.monitor.Current()
	if state.Empty() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": observability.ErrNotMonitored.Error()})
		return
	}

	caps := observability.Classify(state, h.thresholds())
	c.JSON(http.StatusOK, gin.H{
		"disks":  caps,
		"status": observability.Worst(caps),
	})
}

func (h *Handlers) GetHealth(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": observability.StatusUnknown})
		return
	}

	overall := h.health.GetOverallHealth()
	status := http.StatusOK
	if overall == observability.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": overall,
		"checks": h.health.GetHealth(),
	})
}

func (h *Handlers) GetMounts(c *gin.Context) {
	if h.resolver == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "mount resolution disabled"})
		return
	}

	found, err := h.resolver.ResolveAll(c.Request.Context(), h.monitor.Paths())
	resp := gin.H{"mounts": found}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) GetMetrics(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusOK, gin.H{"metrics": gin.H{}})
		return
	}

	switch t := observability.MetricType(c.Query("type")); t {
	case "":
		c.JSON(http.StatusOK, gin.H{"metrics": h.metrics.GetMetrics()})
	case observability.MetricTypeCounter, observability.MetricTypeGauge, observability.MetricTypeHistogram:
		c.JSON(http.StatusOK, gin.H{"metrics": h.metrics.GetMetricsByType(t)})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown metric type: " + string(t)})
	}
}

func (h *Handlers) PostRefresh(c *gin.Context) {
	ctx := logging.ContextWithFields(c.Request.Context(), "trigger", "api", "client_ip", c.ClientIP())
	if h.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.refreshTimeout)
		defer cancel()
	}

	err := h.monitor.Refresh(ctx)
	if err == nil {
		h.GetLocalState(c)
		return
	}

	var rf *node.RefreshFailure
	if errors.As(err, &rf) {
		failed := make([]failedPath, 0, len(rf.Failures))
		for _, pf := range rf.Failures {
			fp := failedPath{Path: pf.Path, Kind: string(pf.Kind)}
			if pf.Err != nil {
				fp.Error = pf.Err.Error()
			}
			failed = append(failed, fp)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":        err.Error(),
			"failed_paths": failed,
		})
		return
	}

	c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
}
