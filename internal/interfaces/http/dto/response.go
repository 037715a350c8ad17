package dto

import "time"

// Response is the envelope used by the admin API
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewErrorResponseWithRequestID creates an error response carrying the request id
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	resp := NewErrorResponse(code, message)
	resp.RequestID = requestID
	return resp
}

// IDRequest represents a request with an ID path parameter
type IDRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// Webhook statuses
const (
	WebhookStatusError = "error"
)

// WebhookRequest is the signed body devices post after uploading a capture
type WebhookRequest struct {
	Bucket     string         `json:"bucket" validate:"required"`
	IngestKey  string         `json:"ingest_key" validate:"required"`
	DeviceCode string         `json:"device_code" validate:"required,max=128"`
	Objects    []string       `json:"objects"`
	MetaJSON   map[string]any `json:"meta_json" validate:"required,min=1"`
}

// WebhookResponse answers an accepted webhook
type WebhookResponse struct {
	Status    string `json:"status"`
	ScanID    string `json:"scan_id"`
	CaptureID string `json:"capture_id"`
	Message   string `json:"message"`
}

// WebhookError is the flat error body devices understand. Path is set for
// schema violations.
type WebhookError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// NewWebhookError creates a webhook error body
func NewWebhookError(message string) WebhookError {
	return WebhookError{Status: WebhookStatusError, Message: message}
}

// SyncScansRequest triggers a bucket reconciliation
type SyncScansRequest struct {
	Mode   string `json:"mode" binding:"required"`
	Prefix string `json:"prefix"`
	Bucket string `json:"bucket"`
}

// AssetURL is a presigned download link for one scan asset
type AssetURL struct {
	Role      string    `json:"role"`
	AssetID   string    `json:"asset_id"`
	Bucket    string    `json:"bucket"`
	ObjectKey string    `json:"object_key"`
	MimeType  string    `json:"mime_type"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ScanAssetsResponse lists a scan's downloadable assets
type ScanAssetsResponse struct {
	ScanID string     `json:"scan_id"`
	Assets []AssetURL `json:"assets"`
}

// HealthResponse reports service liveness
type HealthResponse struct {
	Status      string          `json:"status"`
	Database    string          `json:"database"`
	Uptime      string          `json:"uptime"`
	Connections *ConnectionPool `json:"connections,omitempty"`
}

// ConnectionPool is a snapshot of the database connection pool
type ConnectionPool struct {
	MaxOpen   int   `json:"max_open"`
	Open      int   `json:"open"`
	InUse     int   `json:"in_use"`
	Idle      int   `json:"idle"`
	WaitCount int64 `json:"wait_count"`
}
