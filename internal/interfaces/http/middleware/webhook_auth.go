package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/cti/scanhub/internal/infrastructure/auth"
	"github.com/cti/scanhub/internal/infrastructure/telemetry"
	"github.com/cti/scanhub/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RawBodyKey holds the verified webhook body on the gin context
const RawBodyKey = "webhook_raw_body"

// Rejection reasons raised before signature verification
const (
	ReasonPayloadTooLarge = "payload_too_large"
	ReasonUnreadableBody  = "unreadable_body"
)

// DefaultWebhookMaxBytes applies when no payload limit is configured
const DefaultWebhookMaxBytes int64 = 1 << 20

// WebhookAuthConfig configures the signed-webhook gate
type WebhookAuthConfig struct {
	Verifier     *auth.HMACVerifier
	MaxBodyBytes int64
	// Metrics is optional
	Metrics *telemetry.IngestMetrics
	Logger  *zap.Logger
}

// WebhookAuth reads the raw body and verifies its HMAC signature before any
// handler interprets it. The verified bytes are stored under RawBodyKey.
func WebhookAuth(cfg WebhookAuthConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultWebhookMaxBytes
	}

	return func(c *gin.Context) {
		if c.Request.ContentLength > cfg.MaxBodyBytes {
			rejectWebhook(c, cfg, ReasonPayloadTooLarge, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, cfg.MaxBodyBytes+1))
		if err != nil {
			rejectWebhook(c, cfg, ReasonUnreadableBody, http.StatusBadRequest, "Unable to read request body")
			return
		}
		if int64(len(body)) > cfg.MaxBodyBytes {
			rejectWebhook(c, cfg, ReasonPayloadTooLarge, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}

		err = cfg.Verifier.Verify(c.GetHeader(auth.HeaderTimestamp), c.GetHeader(auth.HeaderSignature), body)
		if err != nil {
			reason := auth.RejectionReason(err)
			var domainErr *shared.DomainError
			message := "Invalid signature or timestamp"
			if errors.As(err, &domainErr) {
				message = domainErr.Message
			}
			status := http.StatusForbidden
			if errors.Is(err, shared.ErrUnauthenticated) {
				status = http.StatusUnauthorized
			}
			rejectWebhook(c, cfg, reason, status, message)
			return
		}

		c.Set(RawBodyKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

func rejectWebhook(c *gin.Context, cfg WebhookAuthConfig, reason string, status int, message string) {
	// the body is untrusted here, so only request metadata is logged
	cfg.Logger.Warn("Webhook rejected",
		zap.String("reason", reason),
		zap.Int("status", status),
		zap.String("client_ip", c.ClientIP()),
		zap.Int64("content_length", c.Request.ContentLength),
		zap.String("request_id", c.GetString(RequestIDContextKey)),
	)
	if cfg.Metrics != nil {
		cfg.Metrics.RecordWebhookRejected(c.Request.Context(), reason)
	}
	c.AbortWithStatusJSON(status, dto.NewWebhookError(message))
}

// GetRawBody returns the body verified by WebhookAuth
func GetRawBody(c *gin.Context) []byte {
	if v, ok := c.Get(RawBodyKey); ok {
		if body, ok := v.([]byte); ok {
			return body
		}
	}
	return nil
}
