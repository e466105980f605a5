package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	logger, hook := test.NewNullLogger()

	var seen logrus.FieldLogger
	handler := RequestID(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = LoggerFromContext(r.Context(), nil)
		w.WriteHeader(http.StatusConflict)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("PUT", "/api/orders/1/status", nil))

	id := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	require.NotNil(t, seen)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "request completed", entry.Message)
	assert.Equal(t, id, entry.Data["request_id"])
	assert.Equal(t, http.StatusConflict, entry.Data["status"])
	assert.Equal(t, "/api/orders/1/status", entry.Data["path"])
}

func TestRequestID_KeepsIncomingID(t *testing.T) {
	logger, _ := test.NewNullLogger()
	handler := RequestID(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	incoming := uuid.NewString()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, incoming)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, incoming, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, "not a uuid\nforged")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.NotEqual(t, "not a uuid\nforged", w.Header().Get(RequestIDHeader))
}

func TestLoggerFromContext_Fallback(t *testing.T) {
	logger, _ := test.NewNullLogger()
	req := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, logrus.FieldLogger(logger), LoggerFromContext(req.Context(), logger))
}
