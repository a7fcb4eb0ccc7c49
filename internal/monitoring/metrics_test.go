package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordTransferMetrics(t *testing.T) {
	RecordTransferStart()
	RecordTransferFinished("done", 5*time.Second, 10*1024*1024)

	RecordTransferStart()
	RecordTransferFinished("error", time.Second, 0)
}

func TestUpdateQueueSize(t *testing.T) {
	UpdateQueueSize(42)
	UpdateQueueSize(0)
}

func TestRecordMiscMetrics(t *testing.T) {
	RecordPlaybackEvent("media.replacing")
	RecordResolverRequest("success", 100*time.Millisecond)
	RecordEventDropped()
	RecordError("network")
}

func TestHandlerServesMetrics(t *testing.T) {
	RecordTransferStart()
	RecordTransferFinished("done", time.Second, 1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "deemusic_transfers_total") {
		t.Error("Expected deemusic_transfers_total in metrics output")
	}
}
