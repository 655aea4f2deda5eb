package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxImageSize is the largest image accepted for club logos and post images (5MB).
const MaxImageSize = 5 * 1024 * 1024

// FolderClubs is the S3 prefix for club objects.
const FolderClubs = "clubs"

// ImageKind selects the folder an image is stored under.
type ImageKind string

const (
	KindLogo         ImageKind = "logo"
	KindEvent        ImageKind = "events"
	KindAnnouncement ImageKind = "announcements"
)

// Valid reports whether k is a known image kind.
func (k ImageKind) Valid() bool {
	switch k {
	case KindLogo, KindEvent, KindAnnouncement:
		return true
	}
	return false
}

// Allowed image MIME types and extensions.
var (
	AllowedImageTypes = map[string]string{
		"image/jpeg": ".jpg",
		"image/jpg":  ".jpg",
		"image/png":  ".png",
		"image/webp": ".webp",
		"image/gif":  ".gif",
	}
	AllowedImageExtensions = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".webp": "image/webp",
		".gif":  "image/gif",
	}
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Bucket               string
	PresignExpireMinutes int
}

// S3 stores club images and signs direct uploads.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		if logger != nil {
			logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("bucket", cfg.Bucket))
		}
	} else if logger != nil {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
	})
	return &S3{client: client, uploader: uploader, cfg: cfg, logger: logger}, nil
}

// ImageExtension returns the canonical extension for an allowed image, judged by
// content type first and file name second. A generic or missing content type
// falls back to the file name. ok is false for anything else.
func ImageExtension(contentType, filename string) (ext string, ok bool) {
	contentType = strings.ToLower(contentType)
	if ext, ok := AllowedImageTypes[contentType]; ok {
		return ext, true
	}
	if contentType != "" && contentType != "application/octet-stream" {
		return "", false
	}
	ext = strings.ToLower(path.Ext(filename))
	if _, ok := AllowedImageExtensions[ext]; ok {
		if ext == ".jpeg" {
			ext = ".jpg"
		}
		return ext, true
	}
	return "", false
}

// ContentTypeForExtension returns the MIME type of an allowed image extension.
func ContentTypeForExtension(ext string) string {
	if ct, ok := AllowedImageExtensions[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ImageKey returns the object key clubs/{club_id}/{kind}/{random}{ext}.
func ImageKey(clubID uuid.UUID, kind ImageKind, ext string) string {
	return path.Join(FolderClubs, clubID.String(), string(kind), uuid.NewString()+ext)
}

// PresignUpload returns a pre-signed PUT URL for a direct browser upload to key.
func (s *S3) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return req.URL, nil
}

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// PublicObjectURL returns the public URL for an object (no signing; the image bucket is public-read).
func (s *S3) PublicObjectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}

// Upload streams body to key and returns its public URL.
func (s *S3) Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error) {
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLengthPtr,
	})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return s.PublicObjectURL(key), nil
}

// DeletePrefix removes every object under prefix. Used when a club is deleted.
func (s *S3) DeletePrefix(ctx context.Context, prefix string) error {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.cfg.Bucket),
				Key:    obj.Key,
			}); err != nil {
				return fmt.Errorf("delete object: %w", err)
			}
		}
	}
	return nil
}

// ClubPrefix returns the key prefix holding all images of a club.
func ClubPrefix(clubID uuid.UUID) string {
	return path.Join(FolderClubs, clubID.String()) + "/"
}
