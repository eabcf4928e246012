package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the S3 (or minio-compatible) backend.
type S3Config struct {
	Bucket        string
	KeyPrefix     string
	Endpoint      string // leave empty for AWS
	Region        string
	PublicBaseURL string
}

// S3Store saves media to an S3 bucket under sha256-derived keys.
type S3Store struct {
	client        *s3.Client
	bucket        string
	keyPrefix     string
	publicBaseURL string
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:        client,
		bucket:        cfg.Bucket,
		keyPrefix:     strings.Trim(cfg.KeyPrefix, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func (s *S3Store) Save(ctx context.Context, data []byte, mimeType string) (string, error) {
	key := s.keyFor(data, mimeType)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	return s.publicBaseURL + "/" + key, nil
}

func (s *S3Store) keyFor(data []byte, mimeType string) string {
	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:]) + extensionFor(mimeType)
	if s.keyPrefix == "" {
		return name
	}
	return path.Join(s.keyPrefix, name)
}
