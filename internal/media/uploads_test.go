package media

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agency-chat/internal/models"
)

type stubPresigner struct {
	bucket string
	object string
	err    error
}

func (s *stubPresigner) PresignedPutObject(_ context.Context, bucket, object string, _ time.Duration) (*url.URL, error) {
	s.bucket, s.object = bucket, object
	if s.err != nil {
		return nil, s.err
	}
	return url.Parse("https://minio.local/" + bucket + "/" + object + "?X-Amz-Signature=abc")
}

func TestNewUpload(t *testing.T) {
	r := require.New(t)
	stub := &stubPresigner{}
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	u := &Uploads{client: stub, bucket: "chat-media", publicURL: "https://cdn.agency.test", ttl: 15 * time.Minute, now: func() time.Time { return now }}

	up, err := u.NewUpload(context.Background(), "p1", "Licence Scan.PNG", "image/png")
	r.NoError(err)
	r.Equal("chat-media", stub.bucket)
	r.True(strings.HasPrefix(up.ObjectKey, "p1/"))
	r.True(strings.HasSuffix(up.ObjectKey, ".png"))
	r.Equal("https://cdn.agency.test/chat-media/"+up.ObjectKey, up.PublicURL)
	r.Contains(up.UploadURL, "X-Amz-Signature")
	r.Equal(models.MediaImage, up.Kind)
	r.Equal(now.Add(15*time.Minute), up.ExpiresAt)
}

func TestNewUploadErrors(t *testing.T) {
	u := &Uploads{client: &stubPresigner{err: errors.New("down")}, bucket: "b", now: time.Now}

	_, err := u.NewUpload(context.Background(), "p1", "x.exe", "")
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = u.NewUpload(context.Background(), "p1", "x.pdf", "application/pdf")
	require.Error(t, err)
}

func TestKindFor(t *testing.T) {
	tests := map[string]models.MediaType{
		"image/jpeg":      models.MediaImage,
		"image/gif":       models.MediaGIF,
		"video/mp4":       models.MediaVideo,
		"application/pdf": models.MediaFile,
		"text/plain":      models.MediaFile,
	}
	for contentType, want := range tests {
		got, err := KindFor(contentType)
		require.NoError(t, err, contentType)
		require.Equal(t, want, got, contentType)
	}

	_, err := KindFor("font/woff2")
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestObjectKey(t *testing.T) {
	require.Equal(t, "p1/id.jpg", ObjectKey("p1", "../../photo.JPG", "id"))
	require.Equal(t, "p1/id", ObjectKey("p1", "README", "id"))
	require.Equal(t, "p1/id", ObjectKey("p1", "x.averyveryverylongext", "id"))
}
