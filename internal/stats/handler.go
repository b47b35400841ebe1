// Package stats implements GET /stats/active, reporting current live
// session counts broken down by every dimension (spec.md §6).
package stats

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/streamstats/engine/internal/sessions"
	"github.com/streamstats/engine/pkg/response"
)

// LiveCounter is the subset of *sessions.Manager the handler depends on.
type LiveCounter interface {
	Total() int
	LiveTotals(dim sessions.Dim) map[string]int
}

type Handler struct {
	manager LiveCounter
}

func NewHandler(manager LiveCounter) *Handler {
	return &Handler{manager: manager}
}

type activeResponse struct {
	Total             int            `json:"total"`
	ByServer          map[string]int `json:"by_server"`
	ByChannel         map[string]int `json:"by_channel"`
	ByCountry         map[string]int `json:"by_country"`
	ByProtocol        map[string]int `json:"by_protocol"`
	ByUserAgentClass  map[string]int `json:"by_user_agent_class"`
}

func (h *Handler) Handle(c *gin.Context) {
	response.JSON(c, http.StatusOK, activeResponse{
		Total:            h.manager.Total(),
		ByServer:         h.manager.LiveTotals(sessions.DimServer),
		ByChannel:        h.manager.LiveTotals(sessions.DimChannel),
		ByCountry:        h.manager.LiveTotals(sessions.DimCountry),
		ByProtocol:       h.manager.LiveTotals(sessions.DimProtocol),
		ByUserAgentClass: h.manager.LiveTotals(sessions.DimUserAgentClass),
	})
}
