package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/streamstats/engine/internal/sessions"
	"github.com/streamstats/engine/pkg/response"
)

// Ingester is the subset of *sessions.Manager the handler depends on.
type Ingester interface {
	Ingest(e sessions.Event) sessions.IngestResult
}

// ReadyChecker reports whether startup recovery has completed. The
// handler refuses to ingest until it has, so a webhook event can never
// race sessions.Manager.Restore and corrupt the just-rehydrated live
// table (spec.md §4.4: recovery completes before intake is enabled).
type ReadyChecker interface {
	Ready() bool
}

// Handler implements POST /api/webhook. Rejection and stale counters are
// owned by the Sessions Manager itself (it was constructed with a
// metrics sink); the handler only logs and tallies the batch summary.
type Handler struct {
	manager Ingester
	gate    ReadyChecker
	logger  *zap.Logger
}

func NewHandler(manager Ingester, gate ReadyChecker, logger *zap.Logger) *Handler {
	return &Handler{manager: manager, gate: gate, logger: logger}
}

// batchResponse is the 200 response shape: processed/errors counts, not
// per-event detail (spec.md §4.5: "the HTTP layer does not surface
// per-event rejections beyond an optional count").
type batchResponse struct {
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Errors    int    `json:"errors"`
}

func (h *Handler) Handle(c *gin.Context) {
	if !h.gate.Ready() {
		response.ServiceUnavailable(c, "recovery in progress")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "failed to read request body")
		return
	}

	var raw []rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		response.BadRequest(c, "body must be a JSON array of events")
		return
	}

	events, err := ParseBatch(raw)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	errors := 0
	for _, ev := range events {
		result := h.manager.Ingest(ev)
		if !result.Accepted {
			errors++
			h.logger.Debug("event rejected", zap.String("kind", string(result.Rejection)), zap.String("id", ev.ID))
		}
	}

	response.JSON(c, http.StatusOK, batchResponse{Status: "ok", Processed: len(events), Errors: errors})
}
