package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/trendoor/pkg/api/seriesstore"
	"github.com/ethpandaops/trendoor/pkg/config"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func testServer(t *testing.T, cfg *config.ServerConfig) (*server, http.Handler) {
	t.Helper()

	if cfg == nil {
		cfg = &config.ServerConfig{}
	}

	st := seriesstore.NewStore(testLogger(), filepath.Join(t.TempDir(), "series.db"))
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, st.Stop())
	})

	s := &server{
		log:         testLogger().WithField("component", "api"),
		cfg:         cfg,
		seriesStore: st,
		done:        make(chan struct{}),
	}

	return s, s.buildRouter()
}

func seedSeries(t *testing.T, s *server) {
	t.Helper()

	baseline := 100.0

	require.NoError(t, s.seriesStore.ReplaceSeries(context.Background(),
		[]seriesstore.Series{{
			Suite:          "scan",
			Scale:          "small",
			TestCase:       "seq",
			PointsJSON:     "[100,140]",
			Latest:         140,
			BaselineMedian: &baseline,
			Status:         "regression",
		}},
		&seriesstore.Summary{
			TotalSeries: 1,
			Regressions: 1,
			RefreshedAt: time.Now().UTC(),
		}))
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.1:4321"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func TestHealthEndpoint(t *testing.T) {
	_, router := testServer(t, nil)

	rec := get(t, router, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestSummaryEndpoint(t *testing.T) {
	s, router := testServer(t, nil)

	rec := get(t, router, "/api/v1/summary")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	seedSeries(t, s)

	rec = get(t, router, "/api/v1/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary seriesstore.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.TotalSeries)
	assert.Equal(t, 1, summary.Regressions)
}

func TestSeriesEndpoints(t *testing.T) {
	s, router := testServer(t, nil)
	seedSeries(t, s)

	rec := get(t, router, "/api/v1/series")
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []seriesstore.Series
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "seq", listed[0].TestCase)

	rec = get(t, router, "/api/v1/series/scan/small/seq")
	require.Equal(t, http.StatusOK, rec.Code)

	var single seriesstore.Series
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &single))
	assert.Equal(t, 140.0, single.Latest)
	assert.Equal(t, "regression", single.Status)

	rec = get(t, router, "/api/v1/series/scan/small/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportEndpoints(t *testing.T) {
	s, router := testServer(t, nil)

	rec := get(t, router, "/api/v1/report/markdown")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.setReports("# Summary\n", "<!doctype html><html></html>")

	rec = get(t, router, "/api/v1/report/markdown")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "# Summary\n", rec.Body.String())

	rec = get(t, router, "/api/v1/report/html")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<!doctype html>")
}

func TestRateLimitEnforced(t *testing.T) {
	s, router := testServer(t, &config.ServerConfig{RequestsPerMinute: 2})
	seedSeries(t, s)

	assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/summary").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/summary").Code)

	rec := get(t, router, "/api/v1/summary")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	// Health stays outside the limiter.
	assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/health").Code)
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{name: "host port", remoteAddr: "192.0.2.7:1234", want: "192.0.2.7"},
		{name: "no port", remoteAddr: "192.0.2.7", want: "192.0.2.7"},
		{name: "forwarded single", remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.5", want: "203.0.113.5"},
		{name: "forwarded chain", remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.5, 10.0.0.1", want: "203.0.113.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr

			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			assert.Equal(t, tt.want, extractIP(req))
		})
	}
}
