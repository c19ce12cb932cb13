package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/geese/internal/metrics"
)

func TestCorrelationID_GeneratesAndEchoes(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(CorrelationHeader)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(CorrelationHeader))
}

func TestCorrelationID_KeepsIncoming(t *testing.T) {
	h := CorrelationID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(CorrelationHeader))
}

func TestRequestLogger_LogsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	var handlerCID string
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCID = r.Header.Get(CorrelationHeader)
		zerolog.Ctx(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusNotFound)
	}))
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(CorrelationHeader, "cid-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var completed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &completed))
	assert.Equal(t, "Request completed", completed["message"])
	assert.Equal(t, "warn", completed["level"])
	assert.Equal(t, "cid-1", completed["correlation_id"])
	assert.Equal(t, float64(http.StatusNotFound), completed["status"])
	assert.Equal(t, "/missing", completed["path"])
	assert.Equal(t, "cid-1", handlerCID)

	var inside map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &inside))
	assert.Equal(t, "inside handler", inside["message"])
	assert.Equal(t, "cid-1", inside["correlation_id"])
}

func TestRequestLogger_DefaultsToOK(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var completed map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &completed))
	assert.Equal(t, "info", completed["level"])
	assert.Equal(t, float64(http.StatusOK), completed["status"])
	assert.NotEmpty(t, completed["correlation_id"])
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	collector := metrics.NewCollector(zerolog.New(&buf))

	r := chi.NewRouter()
	r.Use(Metrics(collector))
	r.Get("/episodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/episodes/42", nil))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "api_request", line["metric"])
	assert.Equal(t, "/episodes/{id}", line["endpoint"])
	assert.Equal(t, float64(http.StatusTeapot), line["status_code"])
}
