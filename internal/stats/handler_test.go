package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamstats/engine/internal/sessions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandleReportsLiveBreakdown(t *testing.T) {
	m := sessions.NewManager(0)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.Ingest(sessions.Event{Kind: "play_started", ID: "a", Server: "s1", Channel: "c1", Country: "AU", Protocol: "hls", UserID: "u1", OpenedAtMs: now.UnixMilli()})
	m.Ingest(sessions.Event{Kind: "play_started", ID: "b", Server: "s2", Channel: "c1", Country: "US", Protocol: "hls", UserID: "u2", OpenedAtMs: now.UnixMilli()})

	r := gin.New()
	r.GET("/stats/active", NewHandler(m).Handle)

	req := httptest.NewRequest(http.MethodGet, "/stats/active", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body activeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Total != 2 {
		t.Errorf("total = %d, want 2", body.Total)
	}
	if body.ByChannel["c1"] != 2 {
		t.Errorf("by_channel[c1] = %d, want 2", body.ByChannel["c1"])
	}
	if body.ByServer["s1"] != 1 || body.ByServer["s2"] != 1 {
		t.Errorf("by_server = %+v, want s1:1 s2:1", body.ByServer)
	}
}
