package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/utils/metrics"
)

func TestHandler(t *testing.T) {
	metrics.ObserveTier(metrics.TierEmbedded, "ok")
	metrics.ObserveIngest(metrics.FlowCatalog, "needs_review", time.Now())
	metrics.ObserveBlocked("private_address")

	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	gt.NoError(t, err).Required()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	gt.NoError(t, err).Required()
	gt.String(t, string(body)).Contains(`ingestd_extract_tier_total{outcome="ok",tier="embedded"}`)
	gt.String(t, string(body)).Contains(`ingestd_url_blocked_total{reason="private_address"}`)
	gt.String(t, string(body)).Contains("ingestd_ingest_duration_seconds")
}
