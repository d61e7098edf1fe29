package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
)

const (
	CertificateFolder      = "certificates"
	CertificateContentType = "application/pdf"
	defaultPresignExpiry   = 15 * time.Minute
)

// CertificateKey is the object key a certificate document is stored under.
func CertificateKey(storeCode, certID string) string {
	return fmt.Sprintf("%s/%s/%s.pdf", CertificateFolder, storeCode, certID)
}

type S3Storage struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	baseURL string
	expiry  time.Duration
}

type PresignedURLResponse struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	FileURL   string    `json:"file_url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewS3Storage(region, bucket, accessKeyID, secretAccessKey, baseURL string, expiry time.Duration) *S3Storage {
	var cfg aws.Config
	var err error

	// If credentials are provided, use them. Otherwise, use default credential chain
	if accessKeyID != "" && secretAccessKey != "" {
		cfg = aws.Config{
			Region: region,
			Credentials: credentials.NewStaticCredentialsProvider(
				accessKeyID,
				secretAccessKey,
				"",
			),
		}
	} else {
		cfg, err = config.LoadDefaultConfig(context.TODO(),
			config.WithRegion(region),
		)
		if err != nil {
			cfg = aws.Config{
				Region: region,
			}
		}
	}

	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}

	client := s3.NewFromConfig(cfg)
	return &S3Storage{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		expiry:  expiry,
	}
}

// PresignDownload returns a short-lived GET URL for key.
func (s *S3Storage) PresignDownload(ctx context.Context, key string) (*PresignedURLResponse, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign download for %s: %w", key, err)
	}

	return &PresignedURLResponse{
		URL:       req.URL,
		Method:    req.Method,
		FileURL:   s.FileURL(key),
		Key:       key,
		ExpiresAt: time.Now().Add(s.expiry),
	}, nil
}

// PresignUpload returns a short-lived PUT URL the document renderer uses to
// store a certificate PDF under key.
func (s *S3Storage) PresignUpload(ctx context.Context, key, contentType string) (*PresignedURLResponse, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload for %s: %w", key, err)
	}

	return &PresignedURLResponse{
		URL:       req.URL,
		Method:    req.Method,
		FileURL:   s.FileURL(key),
		Key:       key,
		ExpiresAt: time.Now().Add(s.expiry),
	}, nil
}

// FileURL is the public location of key, through the CDN when one is configured.
func (s *S3Storage) FileURL(key string) string {
	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s", s.baseURL, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.client.Options().Region, key)
}

// ValidateFileSize validates the file size
func ValidateFileSize(size int64, maxSize int64) error {
	if maxSize > 0 && size > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds the maximum of %d bytes", ErrFileTooLarge, size, maxSize)
	}
	return nil
}

// ValidateExtension checks filename against an allow-list such as ".csv,.xlsx".
func ValidateExtension(filename string, allowed []string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, a := range allowed {
		if ext != "" && ext == strings.ToLower(a) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (allowed: %s)", ErrExtensionNotAllowed, ext, strings.Join(allowed, ", "))
}
