package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"agency-chat/internal/models"
)

var ErrUnsupportedType = errors.New("unsupported content type")

// Upload is a presigned PUT target plus the URL to store in the message.
type Upload struct {
	UploadURL string           `json:"upload_url"`
	PublicURL string           `json:"public_url"`
	ObjectKey string           `json:"object_key"`
	Kind      models.MediaType `json:"kind"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Signer issues upload targets for chat attachments.
type Signer interface {
	NewUpload(ctx context.Context, ownerID, fileName, contentType string) (Upload, error)
}

type presigner interface {
	PresignedPutObject(ctx context.Context, bucketName, objectName string, expires time.Duration) (*url.URL, error)
}

// Uploads signs direct-to-bucket uploads.
type Uploads struct {
	client    presigner
	bucket    string
	publicURL string
	ttl       time.Duration
	now       func() time.Time
}

// NewClient builds a minio client for endpoint.
func NewClient(endpoint, accessKey, secretKey string, secure bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

// EnsureBucket creates bucket when missing and makes its objects publicly readable.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}

	policy := fmt.Sprintf(`{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": "*",
			"Action": ["s3:GetObject"],
			"Resource": ["arn:aws:s3:::%s/*"]
		}]
	}`, bucket)
	if err := client.SetBucketPolicy(ctx, bucket, policy); err != nil {
		return fmt.Errorf("set bucket policy: %w", err)
	}
	return nil
}

// NewUploads signs uploads into bucket. publicURL is the externally reachable
// base of the object store.
func NewUploads(client *minio.Client, bucket, publicURL string, ttl time.Duration) *Uploads {
	return &Uploads{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (u *Uploads) NewUpload(ctx context.Context, ownerID, fileName, contentType string) (Upload, error) {
	kind, err := KindFor(contentType)
	if err != nil {
		return Upload{}, err
	}
	key := ObjectKey(ownerID, fileName, uuid.NewString())

	signed, err := u.client.PresignedPutObject(ctx, u.bucket, key, u.ttl)
	if err != nil {
		return Upload{}, fmt.Errorf("presign upload: %w", err)
	}

	return Upload{
		UploadURL: signed.String(),
		PublicURL: u.publicURL + "/" + u.bucket + "/" + key,
		ObjectKey: key,
		Kind:      kind,
		ExpiresAt: u.now().Add(u.ttl),
	}, nil
}

// KindFor maps a MIME type to a message media type.
func KindFor(contentType string) (models.MediaType, error) {
	major, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), "/")
	switch {
	case contentType == "":
		return "", ErrUnsupportedType
	case strings.EqualFold(contentType, "image/gif"):
		return models.MediaGIF, nil
	case major == "image":
		return models.MediaImage, nil
	case major == "video":
		return models.MediaVideo, nil
	case major == "application", major == "text", major == "audio":
		return models.MediaFile, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
}

// ObjectKey namespaces an upload under its owner and keeps the file extension.
func ObjectKey(ownerID, fileName, id string) string {
	ext := strings.ToLower(path.Ext(path.Base(fileName)))
	if len(ext) > 10 {
		ext = ""
	}
	return ownerID + "/" + id + ext
}
