package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
)

// Defaults applied to legacy or partial capture metadata
const (
	CurrentMetaVersion     = "1.0.0"
	UnknownDevice          = "unknown-device"
	UnknownProbe           = "unknown-probe"
	DefaultFirmwareVersion = "0.0.0"
	FallbackImageName      = "image.jpg"
	capturedAtLayout       = "2006-01-02T15:04:05Z"
)

// UnverifiedHash stands in for a missing or malformed image hash.
var UnverifiedHash = strings.Repeat("0", 64)

// imageExtensions are the extensions considered when guessing the primary image.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// legacyAliases maps camelCase keys sent by older firmware to their current names.
var legacyAliases = []struct{ from, to string }{
	{"captureId", "capture_id"},
	{"capturedAtIso", "captured_at"},
	{"deviceId", "device_code"},
}

// measurementKeys are the numeric fields defaulted to zero when absent.
var measurementKeys = []string{"IMF", "backfat_thickness", "animal_weight", "ribeye_area"}

// Keys that may carry the herd external ID, in order of preference. The
// cattle_* names come from devices deployed before the group rename.
var (
	groupIDKeys   = []string{"group_id", "group_external_id", "cattle_ID", "cattle_id"}
	groupNameKeys = []string{"group_name", "cattle_name"}
	rfidKeys      = []string{"Animal_RFID", "animal_rfid"}
)

var (
	captureIDPattern = regexp.MustCompile(`^cap_\d+$`)
	sha256Pattern    = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	nonDigits        = regexp.MustCompile(`\D+`)
)

// CaptureFiles lists a capture's files relative to its ingest key.
type CaptureFiles struct {
	ImageRelPath       string
	MaskRelPath        string
	BackfatLineRelPath string
}

// NormalizedCapture is capture metadata after defaulting and schema validation.
type NormalizedCapture struct {
	MetaVersion       string
	CaptureID         string
	CapturedAt        time.Time
	DeviceCode        string
	ImageSHA256       string
	MaskSHA256        string
	BackfatLineSHA256 string
	Files             CaptureFiles
	Probe             map[string]any
	Firmware          map[string]any
	GPS               *orb.Point

	IMF              decimal.Decimal
	BackfatThickness decimal.Decimal
	AnimalWeight     decimal.Decimal
	RibeyeArea       decimal.Decimal
	Clarity          scanning.Quality
	Usability        scanning.Quality
	Label            *string
	Grading          *string

	GroupExternalID string
	GroupNameHint   string
	AnimalRFID      string

	// Document is the normalized metadata as validated, kept for audit and replay.
	Document map[string]any
}

// NormalizeInput is one capture's raw metadata and storage context.
type NormalizeInput struct {
	Meta      map[string]any
	Objects   []string
	IngestKey string
	// DeviceCode is used when the metadata names no device.
	DeviceCode string
}

// Normalizer repairs capture metadata and validates it against the meta schema.
type Normalizer struct {
	validator *Validator
	now       func() time.Time
}

// NormalizerOption configures a Normalizer
type NormalizerOption func(*Normalizer)

// WithClock replaces the clock used for time-derived defaults.
func WithClock(now func() time.Time) NormalizerOption {
	return func(n *Normalizer) {
		n.now = now
	}
}

// NewNormalizer creates a normalizer validating with v.
func NewNormalizer(v *Validator, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{validator: v, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize fills defaults, validates and decodes capture metadata. The input
// map is not modified. Normalizing an already normalized Document yields the
// same Document. Failures are *scanning.SchemaValidationError.
func (n *Normalizer) Normalize(in NormalizeInput) (*NormalizedCapture, error) {
	doc, err := canonicalize(in.Meta)
	if err != nil {
		return nil, &scanning.SchemaValidationError{Path: "/", Message: err.Error()}
	}

	applyDefaults(doc, in, n.now().UTC())

	if err := n.validator.Validate(doc); err != nil {
		return nil, err
	}
	return decode(doc)
}

// canonicalize deep-copies meta into plain JSON types with json.Number numbers.
func canonicalize(meta map[string]any) (map[string]any, error) {
	if meta == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("metadata is not JSON-encodable: %w", err)
	}
	return DecodeJSONObject(raw)
}

// DecodeJSONObject decodes a JSON object keeping numbers as json.Number, the
// form the schema validator and decimal parsing expect.
func DecodeJSONObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func applyDefaults(doc map[string]any, in NormalizeInput, now time.Time) {
	for _, alias := range legacyAliases {
		if v, ok := doc[alias.from]; ok {
			if isBlank(doc[alias.to]) {
				doc[alias.to] = v
			}
			delete(doc, alias.from)
		}
	}

	if s, _ := doc["meta_version"].(string); s != CurrentMetaVersion {
		doc["meta_version"] = CurrentMetaVersion
	}

	doc["capture_id"] = repairCaptureID(stringValue(doc["capture_id"]), in.IngestKey, now)

	if isBlank(doc["captured_at"]) {
		doc["captured_at"] = now.Format(capturedAtLayout)
	}

	if isBlank(doc["device_code"]) {
		code := strings.TrimSpace(in.DeviceCode)
		if code == "" {
			code = UnknownDevice
		}
		doc["device_code"] = code
	}

	if s, ok := doc["image_sha256"].(string); !ok || !sha256Pattern.MatchString(s) {
		doc["image_sha256"] = UnverifiedHash
	}
	for _, key := range []string{"mask_sha256", "backfat_line_sha256"} {
		if v, ok := doc[key]; ok {
			if s, isStr := v.(string); !isStr || !sha256Pattern.MatchString(s) {
				delete(doc, key)
			}
		}
	}

	files, ok := doc["files"].(map[string]any)
	if !ok {
		files = map[string]any{}
		doc["files"] = files
	}
	if isBlank(files["image_relpath"]) {
		files["image_relpath"] = pickImage(in.Objects, stringValue(files["mask_relpath"]), stringValue(files["backfat_line_relpath"]))
	}

	fillSubObject(doc, "probe", "model", UnknownProbe)
	fillSubObject(doc, "firmware", "app_version", DefaultFirmwareVersion)

	if v, ok := doc["imf"]; ok {
		if _, has := doc["IMF"]; !has {
			doc["IMF"] = v
		}
		delete(doc, "imf")
	}
	for _, key := range measurementKeys {
		doc[key] = defaultMeasurement(doc[key])
	}

	for _, key := range []string{"clarity", "usability"} {
		doc[key] = string(scanning.ParseQuality(stringValue(doc[key])))
	}

	if v, ok := doc["gps"]; ok && v == nil {
		delete(doc, "gps")
	}
}

// repairCaptureID keeps a well-formed ID, otherwise rebuilds one from the
// digits in the given value, then from the ingest key's last segment, then
// from the clock.
func repairCaptureID(current, ingestKey string, now time.Time) string {
	current = strings.TrimSpace(current)
	if captureIDPattern.MatchString(current) {
		return current
	}
	if digits := nonDigits.ReplaceAllString(current, ""); digits != "" {
		return "cap_" + digits
	}
	if digits := nonDigits.ReplaceAllString(lastSegment(ingestKey), ""); digits != "" {
		return "cap_" + digits
	}
	return fmt.Sprintf("cap_%d", now.Unix())
}

func lastSegment(key string) string {
	key = strings.Trim(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// pickImage chooses the primary image among the capture's objects, ignoring
// files already declared as overlays.
func pickImage(objects []string, overlays ...string) string {
	skip := make(map[string]bool, len(overlays))
	for _, o := range overlays {
		if o != "" {
			skip[o] = true
		}
	}
	for _, obj := range objects {
		if !skip[obj] && imageExtensions[strings.ToLower(path.Ext(obj))] {
			return obj
		}
	}
	if len(objects) > 0 && objects[0] != "" {
		return objects[0]
	}
	return FallbackImageName
}

func fillSubObject(doc map[string]any, key, field, fallback string) {
	sub, ok := doc[key].(map[string]any)
	if !ok {
		sub = map[string]any{}
		doc[key] = sub
	}
	if isBlank(sub[field]) {
		sub[field] = fallback
	}
}

// defaultMeasurement maps absent and empty values to zero and numeric strings
// to numbers. Other values are left for the schema to reject.
func defaultMeasurement(v any) any {
	switch t := v.(type) {
	case nil:
		return json.Number("0")
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return json.Number("0")
		}
		if _, err := decimal.NewFromString(s); err == nil {
			return json.Number(s)
		}
		return t
	default:
		return v
	}
}

func decode(doc map[string]any) (*NormalizedCapture, error) {
	capturedAt, err := parseCapturedAt(doc["captured_at"].(string))
	if err != nil {
		return nil, &scanning.SchemaValidationError{Path: "/captured_at", Message: err.Error()}
	}

	files := doc["files"].(map[string]any)
	nc := &NormalizedCapture{
		MetaVersion:       doc["meta_version"].(string),
		CaptureID:         doc["capture_id"].(string),
		CapturedAt:        capturedAt,
		DeviceCode:        doc["device_code"].(string),
		ImageSHA256:       doc["image_sha256"].(string),
		MaskSHA256:        stringValue(doc["mask_sha256"]),
		BackfatLineSHA256: stringValue(doc["backfat_line_sha256"]),
		Files: CaptureFiles{
			ImageRelPath:       files["image_relpath"].(string),
			MaskRelPath:        stringValue(files["mask_relpath"]),
			BackfatLineRelPath: stringValue(files["backfat_line_relpath"]),
		},
		Probe:           doc["probe"].(map[string]any),
		Firmware:        doc["firmware"].(map[string]any),
		Clarity:         scanning.Quality(doc["clarity"].(string)),
		Usability:       scanning.Quality(doc["usability"].(string)),
		Label:           optionalString(doc["label"]),
		Grading:         optionalString(doc["grading"]),
		GroupExternalID: firstNonBlank(doc, groupIDKeys),
		GroupNameHint:   firstNonBlank(doc, groupNameKeys),
		AnimalRFID:      firstNonBlank(doc, rfidKeys),
		Document:        doc,
	}

	measurements := []*decimal.Decimal{&nc.IMF, &nc.BackfatThickness, &nc.AnimalWeight, &nc.RibeyeArea}
	for i, key := range measurementKeys {
		d, err := decimal.NewFromString(stringValue(doc[key]))
		if err != nil {
			return nil, &scanning.SchemaValidationError{Path: "/" + key, Message: "is not a decimal number"}
		}
		*measurements[i] = d
	}

	if gps, ok := doc["gps"].(map[string]any); ok {
		lat, latErr := gps["lat"].(json.Number).Float64()
		lon, lonErr := gps["lon"].(json.Number).Float64()
		if latErr != nil || lonErr != nil {
			return nil, &scanning.SchemaValidationError{Path: "/gps", Message: "coordinates are not numbers"}
		}
		p := scanning.NewPoint(lat, lon)
		nc.GPS = &p
	}

	return nc, nil
}

// parseCapturedAt accepts RFC 3339 and treats timestamps without a zone as UTC.
func parseCapturedAt(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 timestamp", s)
}

// stringValue renders strings and JSON numbers as text; anything else is "".
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

func optionalString(v any) *string {
	s := strings.TrimSpace(stringValue(v))
	if s == "" {
		return nil
	}
	return &s
}

func firstNonBlank(doc map[string]any, keys []string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(stringValue(doc[k])); s != "" {
			return s
		}
	}
	return ""
}

// CaptureIDHint extracts a capture ID from raw metadata for audit logging, or "unknown".
func CaptureIDHint(meta map[string]any) string {
	for _, key := range []string{"capture_id", "captureId"} {
		if s := strings.TrimSpace(stringValue(meta[key])); s != "" {
			return s
		}
	}
	return "unknown"
}
