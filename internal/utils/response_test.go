package utils

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-tickets/internal/logger"
)

func TestWriteJSONEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusCreated, SuccessResponse("ok", map[string]int{"n": 1})))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "ok", body.Message)
	assert.Empty(t, body.Error)
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse("Order not found", "no such order")
	assert.False(t, resp.Success)
	assert.Equal(t, "no such order", resp.Error)
	assert.WithinDuration(t, time.Now(), resp.Timestamp, time.Second)
}

func TestUnixTimeToTime(t *testing.T) {
	assert.Equal(t, int64(1719835200), UnixTimeToTime(1719835200).Unix())
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var console bytes.Buffer
	log, err := logger.New(logger.Options{Console: &console})
	require.NoError(t, err)

	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders/ORD-1", nil))

	assert.Contains(t, console.String(), "GET /api/orders/ORD-1 - 418")
}
