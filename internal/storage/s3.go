package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store stores snapshots in an S3 bucket.
type S3Store struct {
	uploader *manager.Uploader
	cfg      S3Config
	log      zerolog.Logger
}

// NewS3Store creates an S3-backed snapshot store. Falls back to the
// default AWS credential chain when no static keys are configured.
func NewS3Store(ctx context.Context, cfg S3Config, log zerolog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
	})

	log = log.With().Str("component", "s3_store").Logger()
	log.Info().Str("region", cfg.Region).Str("bucket", cfg.Bucket).Msg("S3 snapshot store ready")

	return &S3Store{uploader: uploader, cfg: cfg, log: log}, nil
}

// Save uploads the snapshot and returns its public object URL.
func (s *S3Store) Save(ctx context.Context, responseID uuid.UUID, data []byte, capturedAt time.Time) (string, error) {
	key := snapshotKey(responseID, capturedAt)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key), nil
}
