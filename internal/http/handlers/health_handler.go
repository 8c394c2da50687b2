package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	healthOK       = "healthy"
	healthDegraded = "degraded"
	healthDown     = "unhealthy"
)

// Pinger проверка соединения с базой.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// LoopState состояние цикла сверки платежей.
type LoopState interface {
	IsRunning() bool
}

// CircuitReporter состояние предохранителя платёжного шлюза.
type CircuitReporter interface {
	CircuitState() string
}

// HealthHandler проверка живости сервиса.
// База обязательна, цикл сверки и шлюз влияют только на degraded.
type HealthHandler struct {
	db      Pinger
	loop    LoopState
	gateway CircuitReporter
}

func NewHealthHandler(db Pinger, loop LoopState, gateway CircuitReporter) *HealthHandler {
	return &HealthHandler{db: db, loop: loop, gateway: gateway}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Health GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	checks := make(map[string]string, 3)
	status := healthOK

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if h.db == nil {
		checks["database"] = "not configured"
		status = healthDown
	} else if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
		status = healthDown
	} else {
		checks["database"] = healthOK
	}

	if h.loop != nil {
		if h.loop.IsRunning() {
			checks["payment_monitor"] = "running"
		} else {
			checks["payment_monitor"] = "stopped"
			status = degrade(status)
		}
	}

	if h.gateway != nil {
		state := h.gateway.CircuitState()
		checks["payment_gateway"] = state
		if state == "open" {
			status = degrade(status)
		}
	}

	code := http.StatusOK
	if status == healthDown {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func degrade(status string) string {
	if status == healthOK {
		return healthDegraded
	}
	return status
}
