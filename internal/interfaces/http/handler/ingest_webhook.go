package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cti/scanhub/internal/application/ingest"
	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/infrastructure/logger"
	"github.com/cti/scanhub/internal/interfaces/http/dto"
	"github.com/cti/scanhub/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Webhook error messages devices match on
const (
	MessageInvalidJSON   = "Invalid JSON"
	MessageMissingFields = "Missing required fields"
)

// CaptureSubmitter ingests one raw capture
type CaptureSubmitter interface {
	Submit(ctx context.Context, sub ingest.Submission) (*ingest.Result, error)
}

// IngestWebhookHandler receives the signed notification a device sends after
// uploading a capture. It must be mounted behind middleware.WebhookAuth.
type IngestWebhookHandler struct {
	ingest   CaptureSubmitter
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewIngestWebhookHandler creates a new IngestWebhookHandler
func NewIngestWebhookHandler(svc CaptureSubmitter, logger *zap.Logger) *IngestWebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestWebhookHandler{
		ingest:   svc,
		validate: middleware.NewValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

// Receive handles POST /ingest/webhook
func (h *IngestWebhookHandler) Receive(c *gin.Context) {
	started := h.now()
	body := middleware.GetRawBody(c)

	req, err := decodeWebhookRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewWebhookError(MessageInvalidJSON))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		requestLogger(c, h.logger).Info("Webhook rejected",
			zap.Strings("missing_fields", middleware.MissingFields(err)))
		c.JSON(http.StatusBadRequest, dto.NewWebhookError(MessageMissingFields))
		return
	}

	ctx := logger.WithIngestKey(c.Request.Context(), req.IngestKey)
	result, err := h.ingest.Submit(ctx, ingest.Submission{
		Bucket:     req.Bucket,
		IngestKey:  req.IngestKey,
		DeviceCode: req.DeviceCode,
		Objects:    req.Objects,
		Meta:       req.MetaJSON,
		Source:     ingest.SourceWebhook,
		BytesIn:    int64(len(body)),
		StartedAt:  started,
	})
	if err != nil {
		h.fail(c, req.IngestKey, err)
		return
	}

	c.JSON(http.StatusOK, dto.WebhookResponse{
		Status:    result.Status,
		ScanID:    result.ScanID.String(),
		CaptureID: result.CaptureID,
		Message:   result.Message,
	})
}

// decodeWebhookRequest keeps meta_json numbers as json.Number so large
// integers and long decimals reach the normalizer unrounded.
func decodeWebhookRequest(body []byte) (dto.WebhookRequest, error) {
	var req dto.WebhookRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, err
	}
	if dec.More() {
		return req, errors.New("unexpected data after webhook body")
	}
	return req, nil
}

func (h *IngestWebhookHandler) fail(c *gin.Context, ingestKey string, err error) {
	_ = c.Error(err)

	var schemaErr *scanning.SchemaValidationError
	if errors.As(err, &schemaErr) {
		c.JSON(http.StatusBadRequest, dto.WebhookError{
			Status:  dto.WebhookStatusError,
			Message: "Schema validation failed: " + schemaErr.Error(),
			Path:    schemaErr.Path,
		})
		return
	}

	domainErr, ok := dto.AsDomainError(err)
	if !ok {
		requestLogger(c, h.logger).Error("Webhook ingestion failed",
			zap.String("ingest_key", ingestKey), zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.NewWebhookError("An unexpected error occurred"))
		return
	}
	status := dto.GetHTTPStatus(dto.NormalizeErrorCode(domainErr.Code))
	if status >= http.StatusInternalServerError {
		requestLogger(c, h.logger).Error("Webhook ingestion failed",
			zap.String("ingest_key", ingestKey), zap.Error(err))
	}
	c.JSON(status, dto.NewWebhookError(domainErr.Message))
}
