// Package health implements GET /health: 503 while startup recovery is
// in progress, 200 once intake is enabled (spec.md §6).
package health

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/streamstats/engine/pkg/response"
)

// Gate tracks whether recovery has completed. It is safe for concurrent
// use: the recovery goroutine flips it once at startup, the handler
// reads it on every request.
type Gate struct {
	ready atomic.Bool
}

func NewGate() *Gate {
	return &Gate{}
}

// MarkReady is called once recovery completes and intake is enabled.
func (g *Gate) MarkReady() {
	g.ready.Store(true)
}

func (g *Gate) Ready() bool {
	return g.ready.Load()
}

type Handler struct {
	gate *Gate
}

func NewHandler(gate *Gate) *Handler {
	return &Handler{gate: gate}
}

type statusBody struct {
	Status string `json:"status"`
}

func (h *Handler) Handle(c *gin.Context) {
	if !h.gate.Ready() {
		response.ServiceUnavailable(c, "recovery in progress")
		return
	}
	response.JSON(c, http.StatusOK, statusBody{Status: "ok"})
}
