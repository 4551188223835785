// Package archive stores submitted voice clips in S3-compatible storage,
// keyed by the ticket they belong to.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
)

// ErrNotConfigured is returned when the archive has no bucket or credentials.
var ErrNotConfigured = errors.New("S3 archive is not configured")

// uploadTimeout bounds a single clip upload.
const uploadTimeout = 5 * time.Minute

// unsafeKeyChars matches characters that are not kept in object keys.
var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Config contains the S3 connection settings.
type Config struct {
	Endpoint        string // Empty for AWS, otherwise an S3-compatible endpoint URL
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string // Prepended to every key, e.g. "voice-requests/"
}

// IsConfigured reports whether the bucket and credentials are set.
func (c *Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// objectAPI is the subset of the S3 client the archiver uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Archiver uploads clips to a bucket.
type S3Archiver struct {
	cfg    Config
	client objectAPI
}

// NewS3Archiver creates an archiver for cfg.
func NewS3Archiver(cfg Config) (*S3Archiver, error) {
	if !cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}
	return &S3Archiver{cfg: cfg, client: createS3Client(&cfg)}, nil
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Key returns the object key for a ticket's clip:
// <prefix>YYYY/MM/DD/<ticket>.<ext>, with the date in UTC.
func (a *S3Archiver) Key(ticketID, ext string, at time.Time) string {
	id := strings.Trim(unsafeKeyChars.ReplaceAllString(ticketID, "-"), "-.")
	if id == "" {
		id = "ticket"
	}
	return a.cfg.Prefix + path.Join(at.UTC().Format("2006/01/02"), id+"."+ext)
}

// Store uploads clip under the ticket's key and returns that key.
func (a *S3Archiver) Store(ctx context.Context, ticketID string, clip *encoder.Clip) (string, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, uploadTimeout, errors.New("s3 upload timeout"))
	defer cancel()

	key := a.Key(ticketID, clip.Extension(), clip.CreatedAt())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          clip.Reader(),
		ContentLength: aws.Int64(int64(clip.Size())),
		ContentType:   aws.String(clip.MimeType()),
		Metadata:      map[string]string{"ticket-id": ticketID},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	slog.Info("clip archived", "ticket_id", ticketID, "s3_key", key, "size_bytes", clip.Size())
	return key, nil
}

// TestConnection uploads and deletes a small object to verify access.
func (a *S3Archiver) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30000*time.Millisecond)
	defer cancel()

	testKey := fmt.Sprintf("%stest-connection-%d.txt", a.cfg.Prefix, time.Now().UnixNano())
	testContent := []byte("ZuidWest Voice Desk connection test")

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}

	return nil
}
