package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/streamstats/engine/internal/sessions"
	"github.com/streamstats/engine/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGate bool

func (f fakeGate) Ready() bool { return bool(f) }

func newTestRouter(manager Ingester) *gin.Engine {
	r := gin.New()
	h := NewHandler(manager, fakeGate(true), zap.NewNop())
	r.POST("/api/webhook", h.Handle)
	return r
}

func TestHandleMalformedJSONReturns400(t *testing.T) {
	manager := sessions.NewManager(0)
	r := newTestRouter(manager)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body response.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Error == "" {
		t.Error("expected non-empty error message")
	}
}

func TestHandleSchemaInvalidReturns400(t *testing.T) {
	manager := sessions.NewManager(0)
	r := newTestRouter(manager)

	payload := `[{"event":"play_started","server":"s1"}]` // missing id, opened_at
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewBufferString(payload))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleValidBatchReturns200WithCounts(t *testing.T) {
	manager := sessions.NewManager(0)
	r := newTestRouter(manager)

	payload := `[
		{"time":"2026-01-01T12:00:00Z","event":"play_started","id":"a","server":"s1","media":"c1","user_id":"u1","ip":"1.2.3.4","country":"AU","proto":"hls","bytes":0,"user_agent":"Lavf","opened_at":1767268800000},
		{"time":"2026-01-01T12:00:01Z","event":"play_started","id":"a","server":"s1","media":"c1","user_id":"u1","ip":"1.2.3.4","country":"AU","proto":"hls","bytes":0,"user_agent":"Lavf","opened_at":1767268801000},
		{"time":"2026-01-01T12:00:02Z","event":"play_closed","id":"unknown-id","server":"s1","media":"c1","user_id":"u1","ip":"1.2.3.4","country":"AU","proto":"hls","bytes":1000,"user_agent":"Lavf","opened_at":1767268800000,"closed_at":1767268802000,"reason":"stop"}
	]`
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewBufferString(payload))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var body batchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Processed != 3 {
		t.Errorf("processed = %d, want 3", body.Processed)
	}
	if body.Errors != 2 { // duplicate_open + unknown_close
		t.Errorf("errors = %d, want 2", body.Errors)
	}
}

func TestHandleReturns503BeforeRecoveryReady(t *testing.T) {
	manager := sessions.NewManager(0)
	r := gin.New()
	h := NewHandler(manager, fakeGate(false), zap.NewNop())
	r.POST("/api/webhook", h.Handle)

	payload := `[{"time":"2026-01-01T12:00:00Z","event":"play_started","id":"a","server":"s1","media":"c1","user_id":"u1","ip":"1.2.3.4","country":"AU","proto":"hls","bytes":0,"user_agent":"Lavf","opened_at":1767268800000}]`
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewBufferString(payload))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if manager.Total() != 0 {
		t.Errorf("manager.Total() = %d, want 0 (event must not be ingested before recovery completes)", manager.Total())
	}
}

func TestHandleUnknownFieldsIgnored(t *testing.T) {
	manager := sessions.NewManager(0)
	r := newTestRouter(manager)

	payload := `[{"time":"2026-01-01T12:00:00Z","event":"play_started","id":"a","server":"s1","media":"c1","user_id":"u1","ip":"1.2.3.4","country":"AU","proto":"hls","bytes":0,"user_agent":"Lavf","opened_at":1767268800000,"user_name":"alice","token":"secret","source_id":42,"pid":123}]`
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewBufferString(payload))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}
