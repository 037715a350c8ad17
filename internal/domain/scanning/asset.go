package scanning

import (
	"path"
	"strings"

	"github.com/cti/scanhub/internal/domain/shared"
)

// MIME types assigned to stored capture files
const (
	MimeJPEG        = "image/jpeg"
	MimePNG         = "image/png"
	MimeWebP        = "image/webp"
	MimeOctetStream = "application/octet-stream"
)

// Asset is one physical stored file. (Bucket, ObjectKey) is unique and assets
// are immutable once created.
type Asset struct {
	shared.BaseEntity
	Bucket    string
	ObjectKey string
	SHA256    string
	SizeBytes *int64
	MimeType  string
}

// NewAsset creates an asset row for a stored object.
func NewAsset(bucket, objectKey, sha256 string) *Asset {
	return &Asset{
		BaseEntity: shared.NewBaseEntity(),
		Bucket:     bucket,
		ObjectKey:  objectKey,
		SHA256:     sha256,
		MimeType:   MimeTypeFor(objectKey),
	}
}

// MimeTypeFor infers a content type from the file extension.
func MimeTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return MimeJPEG
	case ".png":
		return MimePNG
	case ".webp":
		return MimeWebP
	default:
		return MimeOctetStream
	}
}
