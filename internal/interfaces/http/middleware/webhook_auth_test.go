package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cti/scanhub/internal/infrastructure/auth"
	"github.com/cti/scanhub/internal/infrastructure/telemetry"
	"github.com/cti/scanhub/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const webhookSecret = "dev_secret_change_me"

func webhookRouter(t *testing.T, maxBytes int64, metrics *telemetry.IngestMetrics) (*gin.Engine, *[]byte) {
	t.Helper()
	var seen []byte
	router := gin.New()
	router.Use(WebhookAuth(WebhookAuthConfig{
		Verifier:     auth.NewHMACVerifier(webhookSecret, 300*time.Second),
		MaxBodyBytes: maxBytes,
		Metrics:      metrics,
	}))
	router.POST("/ingest/webhook", func(c *gin.Context) {
		seen = GetRawBody(c)
		again, _ := io.ReadAll(c.Request.Body)
		assert.Equal(t, seen, again, "body is readable again after verification")
		c.Status(http.StatusOK)
	})
	return router, &seen
}

func signedRequest(body string, ts time.Time) *http.Request {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/ingest/webhook", strings.NewReader(body))
	req.Header.Set(auth.HeaderTimestamp, stamp)
	req.Header.Set(auth.HeaderSignature, auth.NewHMACVerifier(webhookSecret, 0).Sign(stamp, []byte(body)))
	return req
}

func decodeWebhookError(t *testing.T, w *httptest.ResponseRecorder) dto.WebhookError {
	t.Helper()
	var resp dto.WebhookError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWebhookAuth_AcceptsSignedBody(t *testing.T) {
	router, seen := webhookRouter(t, 0, nil)
	body := `{"bucket":"scans"}`

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(body, time.Now()))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, string(*seen))
}

func TestWebhookAuth_Rejections(t *testing.T) {
	body := `{"bucket":"scans"}`

	tests := []struct {
		name    string
		request func() *http.Request
		status  int
		message string
	}{
		{
			name: "missing headers",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/ingest/webhook", strings.NewReader(body))
			},
			status:  http.StatusUnauthorized,
			message: "Missing HMAC headers",
		},
		{
			name: "stale timestamp",
			request: func() *http.Request {
				return signedRequest(body, time.Now().Add(-600*time.Second))
			},
			status:  http.StatusForbidden,
			message: "Invalid signature or timestamp",
		},
		{
			name: "tampered body",
			request: func() *http.Request {
				req := signedRequest(body, time.Now())
				req.Body = io.NopCloser(strings.NewReader(`{"bucket":"other"}`))
				return req
			},
			status:  http.StatusForbidden,
			message: "Invalid signature or timestamp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, seen := webhookRouter(t, 0, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, tt.request())

			assert.Equal(t, tt.status, w.Code)
			resp := decodeWebhookError(t, w)
			assert.Equal(t, dto.WebhookStatusError, resp.Status)
			assert.Equal(t, tt.message, resp.Message)
			assert.Nil(t, *seen, "handler must not run")
		})
	}
}

func TestWebhookAuth_PayloadTooLarge(t *testing.T) {
	router, _ := webhookRouter(t, 16, nil)

	t.Run("declared length", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, signedRequest(strings.Repeat("x", 17), time.Now()))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("streamed body", func(t *testing.T) {
		req := signedRequest(strings.Repeat("x", 64), time.Now())
		req.ContentLength = -1
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestWebhookAuth_RecordsRejectionReason(t *testing.T) {
	mp, reader := setupTestMeter(t)
	metrics, err := telemetry.NewIngestMetrics(mp.Meter("test"))
	require.NoError(t, err)
	router, _ := webhookRouter(t, 0, metrics)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ingest/webhook", strings.NewReader(`{}`)))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(`{}`, time.Now().Add(time.Hour)))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	rejected := findMetricByName(rm, "scanhub_webhook_rejected_total")
	require.NotNil(t, rejected)
	sum, ok := rejected.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	reasons := map[string]int64{}
	for _, dp := range sum.DataPoints {
		reason, _ := dp.Attributes.Value("reason")
		reasons[reason.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{
		auth.ReasonMissingHeaders: 1,
		auth.ReasonStaleTimestamp: 1,
	}, reasons)
}
