package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveRequest("rejected", "auth")
	m.ObserveRequest("rejected", "auth")
	m.ObserveRequest("ok", "")
	m.ObserveRecord("ok", nil)
	m.ObserveRecord("forbidden", errors.New("db down"))
	m.ObserveTemplate("model_extension")
	m.ObserveEffectFailure("observe-ips")
	m.ObserveRender(3 * time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `provision_requests_total{outcome="rejected",stage="auth"} 2`)
	assert.Contains(t, body, `provision_requests_total{outcome="ok",stage=""} 1`)
	assert.Contains(t, body, `provision_audit_records_total{result="failed",status="forbidden"} 1`)
	assert.Contains(t, body, `provision_template_lookups_total{strategy="model_extension"} 1`)
	assert.Contains(t, body, `provision_side_effect_failures_total{effect="observe-ips"} 1`)
	assert.Contains(t, body, `provision_render_duration_seconds_count 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("ok", "")
		m.ObserveRecord("ok", nil)
		m.ObserveRender(time.Second)
		m.ObserveTemplate("ref")
		m.ObserveEffectFailure("x")
	})
}
