package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/cti/scanhub/internal/domain/shared"
)

// Webhook signature headers
const (
	HeaderTimestamp = "X-CTI-Timestamp"
	HeaderSignature = "X-CTI-Signature"
)

// DefaultSignatureWindow is the accepted clock skew in either direction
const DefaultSignatureWindow = 300 * time.Second

const signaturePrefix = "sha256="

// Rejection reasons, used as metric and log labels
const (
	ReasonMissingHeaders   = "missing_headers"
	ReasonMalformedHeaders = "malformed_headers"
	ReasonStaleTimestamp   = "stale_timestamp"
	ReasonBadSignature     = "bad_signature"
)

// SignatureError describes why a request failed verification. It unwraps to
// shared.ErrUnauthenticated for missing headers and shared.ErrInvalidSignature
// otherwise; callers see no finer distinction.
type SignatureError struct {
	Reason string
	err    error
}

func (e *SignatureError) Error() string {
	return e.err.Error() + " (" + e.Reason + ")"
}

func (e *SignatureError) Unwrap() error {
	return e.err
}

func rejected(reason string) error {
	if reason == ReasonMissingHeaders {
		return &SignatureError{Reason: reason, err: shared.ErrUnauthenticated}
	}
	return &SignatureError{Reason: reason, err: shared.ErrInvalidSignature}
}

// RejectionReason extracts the reason label from a verification error.
func RejectionReason(err error) string {
	var sigErr *SignatureError
	if errors.As(err, &sigErr) {
		return sigErr.Reason
	}
	return ReasonBadSignature
}

// HMACVerifier checks HMAC-SHA256 signatures over "{timestamp}.{body}".
type HMACVerifier struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

// NewHMACVerifier creates a verifier. A non-positive window uses
// DefaultSignatureWindow.
func NewHMACVerifier(secret string, window time.Duration) *HMACVerifier {
	if window <= 0 {
		window = DefaultSignatureWindow
	}
	return &HMACVerifier{
		secret: []byte(secret),
		window: window,
		now:    time.Now,
	}
}

// Sign returns the signature header value for a timestamp and body.
func (v *HMACVerifier) Sign(timestamp string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(v.mac(timestamp, body))
}

// Verify accepts the request only when both headers are present, the
// timestamp lies inside the window and the signature matches the body.
func (v *HMACVerifier) Verify(timestamp, signature string, body []byte) error {
	if timestamp == "" || signature == "" {
		return rejected(ReasonMissingHeaders)
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return rejected(ReasonMalformedHeaders)
	}
	// Whole seconds; time.Duration arithmetic saturates for far-off timestamps
	window := int64(v.window / time.Second)
	if skew := v.now().Unix() - ts; skew > window || skew < -window {
		return rejected(ReasonStaleTimestamp)
	}

	hexDigest, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return rejected(ReasonMalformedHeaders)
	}
	got, err := hex.DecodeString(hexDigest)
	if err != nil {
		return rejected(ReasonMalformedHeaders)
	}
	if !hmac.Equal(got, v.mac(timestamp, body)) {
		return rejected(ReasonBadSignature)
	}
	return nil
}

func (v *HMACVerifier) mac(timestamp string, body []byte) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(timestamp))
	h.Write([]byte{'.'})
	h.Write(body)
	return h.Sum(nil)
}
