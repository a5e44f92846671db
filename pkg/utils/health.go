package utils

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck comprueba una dependencia. nil = sana.
type HealthCheck func(ctx context.Context) error

// SendHealth ejecuta los checks con un timeout común y responde 200 o 503.
func SendHealth(c *gin.Context, service string, checks map[string]HealthCheck) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(checks))
	for name, check := range checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "up"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"service": service, "status": state, "checks": results})
}
