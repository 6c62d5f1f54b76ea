package services

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const uploadURLExpiry = 5 * time.Minute

var allowedContentTypePrefixes = []string{"image/", "video/", "audio/"}

// AttachmentService issues pre-signed upload URLs for chat attachments
type AttachmentService struct {
	presigner *s3.PresignClient
	s3Bucket  string
	region    string
	endpoint  string
}

// NewAttachmentService creates a new attachment service. Static credentials
// are used when accessKey is set, otherwise the default AWS chain applies.
// A custom endpoint switches to path-style addressing for S3-compatible storage.
func NewAttachmentService(ctx context.Context, region, s3Bucket, accessKey, secretKey, endpoint string) (*AttachmentService, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &AttachmentService{
		presigner: s3.NewPresignClient(s3Client),
		s3Bucket:  s3Bucket,
		region:    region,
		endpoint:  strings.TrimRight(endpoint, "/"),
	}, nil
}

// UploadRequest represents a request to get a pre-signed URL
type UploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// UploadResponse represents the response with pre-signed URL
type UploadResponse struct {
	UploadURL     string `json:"upload_url"`
	AttachmentURL string `json:"attachment_url"`
	Key           string `json:"key"`
	ExpiresIn     int    `json:"expires_in"`
}

// PresignUpload generates a pre-signed URL for uploading an attachment.
// AttachmentURL is the value to send with the message once the upload finished.
func (s *AttachmentService) PresignUpload(ctx context.Context, userID, filename, contentType string) (*UploadResponse, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	if !allowedContentType(contentType) {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrInvalidInput, contentType)
	}

	// Key: attachments/{user_id}/{uuid}{ext}
	key := fmt.Sprintf("attachments/%s/%s%s", userID, uuid.New().String(), strings.ToLower(path.Ext(filename)))

	request, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.s3Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = uploadURLExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate pre-signed URL: %w", err)
	}

	return &UploadResponse{
		UploadURL:     request.URL,
		AttachmentURL: s.objectURL(key),
		Key:           key,
		ExpiresIn:     int(uploadURLExpiry.Seconds()),
	}, nil
}

func (s *AttachmentService) objectURL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.s3Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.s3Bucket, s.region, key)
}

func allowedContentType(contentType string) bool {
	for _, prefix := range allowedContentTypePrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}
