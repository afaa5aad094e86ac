// Package archive stores purchase receipts and credit notes in S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("archive")

// S3Config selects the bucket and, for non-AWS endpoints, the endpoint and credentials.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// objectPutter is the slice of the S3 API the archiver uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver implements port.ReceiptArchiver.
type S3Archiver struct {
	client objectPutter
	bucket string
	logger *zap.Logger
}

// NewS3Archiver loads the AWS config and builds the client. Static credentials are used
// when both keys are set; otherwise the default chain applies.
func NewS3Archiver(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Archiver, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Archiver(client, cfg.Bucket, logger), nil
}

func newS3Archiver(client objectPutter, bucket string, logger *zap.Logger) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, logger: logger}
}

func (a *S3Archiver) Archive(ctx context.Context, key string, body io.Reader) error {
	ctx, span := tracer.Start(ctx, "S3Archiver.Archive")
	defer span.End()
	span.SetAttributes(attribute.String("s3.key", key))

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	a.logger.Debug("archive: stored", zap.String("bucket", a.bucket), zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}
