package exporters

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smazurov/camnode/internal/metrics"
)

func TestHTTPHandler(t *testing.T) {
	handler := HTTPHandler()
	if handler == nil {
		t.Fatal("expected non-nil handler")
	}

	r := metrics.NewRecorder("camnode://camera/0", "http-test-stream")
	defer r.Close()
	r.FrameDelivered()
	metrics.SetLiveBuffersFunc(func() int64 { return 4 })
	defer metrics.SetLiveBuffersFunc(nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	for _, want := range []string{
		"camnode_capture_frames_delivered_total",
		`stream_id="http-test-stream"`,
		"camnode_frame_live_buffers 4",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}
