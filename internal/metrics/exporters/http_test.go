package exporters

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smazurov/ispnode/internal/metrics"
)

func TestHTTPHandler(t *testing.T) {
	window := "http-test-window"
	metrics.SetVPPFrcRate(window, 2)
	metrics.SetISPMode("preview")
	defer metrics.DeleteVPPMetrics(window)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	HTTPHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{
		`ispnode_vpp_frc_rate{window="http-test-window"} 2`,
		`ispnode_isp_mode{mode="preview"} 1`,
		"promhttp_metric_handler_requests_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
