// Package attachment reads mail attachments from S3 or from inline data and
// issues short-lived download URLs.
package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/mywed360/mail-service/internal/mail"
	"github.com/mywed360/mail-service/internal/mailerr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSignedURLTTL is how long a signed URL stays valid.
const DefaultSignedURLTTL = 15 * time.Minute

var (
	ErrAttachmentNotFound = mailerr.NotFound("attachment-not-found", "attachment not found")
	ErrNotSignable        = mailerr.BadRequest("attachment-not-signable", "attachment is stored inline")
)

// ObjectGetter abstracts S3 object downloads.
type ObjectGetter interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Presigner abstracts S3 presigned GET generation.
type Presigner interface {
	PresignGetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Content is an opened attachment. The caller closes Body.
type Content struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// S3Store serves attachments from a bucket.
type S3Store struct {
	objects   ObjectGetter
	presigner Presigner
	bucket    string
	ttl       time.Duration
}

// NewS3Store creates a new S3Store. A non-positive ttl uses
// DefaultSignedURLTTL.
func NewS3Store(objects ObjectGetter, presigner Presigner, bucket string, ttl time.Duration) *S3Store {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &S3Store{
		objects:   objects,
		presigner: presigner,
		bucket:    bucket,
		ttl:       ttl,
	}
}

// Open returns the attachment's bytes, preferring inline data.
func (s *S3Store) Open(ctx context.Context, att mail.StoredAttachment) (Content, error) {
	tracer := tracing.Tracer("mail-attachment")
	ctx, span := tracer.Start(ctx, "attachment.Open", trace.WithAttributes(
		attribute.String("attachment.id", att.ID),
		attribute.Bool("attachment.inline", att.Data != ""),
	))
	defer span.End()

	content := Content{
		Filename:    att.Filename,
		ContentType: att.ContentType,
		Size:        att.Size,
	}

	if att.Data != "" {
		data, err := decodeInline(att.Data)
		if err != nil {
			tracing.RecordError(span, err)
			return Content{}, err
		}
		content.Size = int64(len(data))
		content.Body = io.NopCloser(bytes.NewReader(data))
		return content, nil
	}

	key := objectKey(att.Path)
	if key == "" {
		return Content{}, ErrAttachmentNotFound
	}

	output, err := s.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return Content{}, ErrAttachmentNotFound
		}
		tracing.RecordError(span, err)
		return Content{}, mailerr.StoreUnavailable("attachment-read-failed", fmt.Errorf("get object %s: %w", key, err))
	}

	if content.ContentType == "" {
		content.ContentType = aws.ToString(output.ContentType)
	}
	if output.ContentLength != nil {
		content.Size = *output.ContentLength
	}
	content.Body = output.Body
	return content, nil
}

// SignedURL returns a presigned GET URL for an object-backed attachment.
func (s *S3Store) SignedURL(ctx context.Context, att mail.StoredAttachment) (string, time.Time, error) {
	tracer := tracing.Tracer("mail-attachment")
	ctx, span := tracer.Start(ctx, "attachment.SignedURL", trace.WithAttributes(
		attribute.String("attachment.id", att.ID),
	))
	defer span.End()

	key := objectKey(att.Path)
	if key == "" {
		if att.Data != "" {
			return "", time.Time{}, ErrNotSignable
		}
		return "", time.Time{}, ErrAttachmentNotFound
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if att.Filename != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", att.Filename))
	}
	if att.ContentType != "" {
		input.ResponseContentType = aws.String(att.ContentType)
	}

	req, err := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(s.ttl))
	if err != nil {
		tracing.RecordError(span, err)
		return "", time.Time{}, mailerr.StoreUnavailable("attachment-sign-failed", fmt.Errorf("presign %s: %w", key, err))
	}
	return req.URL, time.Now().Add(s.ttl), nil
}

// objectKey accepts a bare key or an s3://bucket/key URI.
func objectKey(path string) string {
	path = strings.TrimSpace(path)
	if rest, ok := strings.CutPrefix(path, "s3://"); ok {
		_, key, found := strings.Cut(rest, "/")
		if !found {
			return ""
		}
		return key
	}
	return strings.TrimPrefix(path, "/")
}

// decodeInline accepts standard or URL-safe base64, padded or not, and
// data: URIs.
func decodeInline(data string) ([]byte, error) {
	if strings.HasPrefix(data, "data:") {
		if _, payload, ok := strings.Cut(data, ","); ok {
			data = payload
		}
	}
	data = strings.TrimSpace(data)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(data); err == nil {
			return b, nil
		}
	}
	return nil, mailerr.StoreUnavailable("attachment-corrupt", errors.New("inline attachment is not valid base64"))
}
