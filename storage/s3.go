package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
)

type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string // MinIO, LocalStack, ...
	Prefix        string
	PublicBaseURL string
	PresignTTL    time.Duration
}

// S3Backend stores images as objects keyed {prefix}{cardID}/{fileName}.
type S3Backend struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     S3Config
}

func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3BackendWithClient(client, cfg), nil
}

func NewS3BackendWithClient(client *s3.Client, cfg S3Config) *S3Backend {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 10 * time.Minute
	}
	return &S3Backend{
		client:  client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
	}
}

func (s *S3Backend) Save(ctx context.Context, data []byte, fileName, cardID string) (string, error) {
	rel, err := RelativePath(cardID, fileName)
	if err != nil {
		return "", err
	}
	// a PutObject either lands completely or not at all
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(s.key(rel)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(mimetype.Detect(data).String()),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", rel, err)
	}
	return rel, nil
}

// Delete checks for the object first because S3 deletes of missing keys
// succeed silently.
func (s *S3Backend) Delete(ctx context.Context, relPath string) (bool, error) {
	ok, err := s.Exists(ctx, relPath)
	if err != nil || !ok {
		return false, err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(relPath)),
	})
	if err != nil {
		return false, fmt.Errorf("s3 delete %s: %w", relPath, err)
	}
	return true, nil
}

func (s *S3Backend) Exists(ctx context.Context, relPath string) (bool, error) {
	if _, _, err := SplitPath(relPath); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(relPath)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head %s: %w", relPath, err)
}

func (s *S3Backend) URLFor(relPath string) string {
	key := s.key(relPath)
	switch {
	case s.cfg.PublicBaseURL != "":
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
	case s.cfg.Endpoint != "":
		return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
	}
}

func (s *S3Backend) PresignURL(ctx context.Context, relPath string) (string, error) {
	if _, _, err := SplitPath(relPath); err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(relPath)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.cfg.PresignTTL
	})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", relPath, err)
	}
	return req.URL, nil
}

func (s *S3Backend) key(relPath string) string {
	return s.cfg.Prefix + relPath
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
