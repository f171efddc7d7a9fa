package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facereg/internal/registry"
	"github.com/your-org/facereg/internal/service"
)

// ReadinessCheck reports whether one collaborator is reachable.
type ReadinessCheck func(ctx context.Context) error

// BackupLister lists mirrored registry backups.
type BackupLister interface {
	ListBackups(ctx context.Context) ([]string, error)
}

type SystemHandler struct {
	svc     *service.IdentityService
	checks  map[string]ReadinessCheck
	backups BackupLister
}

// NewSystemHandler builds the health endpoints. checks holds only the
// collaborators that are configured; backups may be nil.
func NewSystemHandler(svc *service.IdentityService, checks map[string]ReadinessCheck, backups BackupLister) *SystemHandler {
	return &SystemHandler{svc: svc, checks: checks, backups: backups}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.svc.Read(func(*registry.Registry) error { return nil }); err != nil {
		checks["registry"] = err.Error()
		healthy = false
	} else {
		checks["registry"] = "ok"
	}

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}

// Backups lists the registry backups mirrored to object storage.
func (h *SystemHandler) Backups(c *gin.Context) {
	if h.backups == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backup mirror not configured"})
		return
	}
	keys, err := h.backups.ListBackups(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": keys, "total": len(keys)})
}
