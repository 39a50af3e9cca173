package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"llm_relay/internal/logging"
)

// S3Writer archives event batches to S3 as JSON Lines objects, one object
// per batch, keyed by date and node name.
type S3Writer struct {
	client   *s3.Client
	bucket   string
	prefix   string
	nodeName string
	logger   *logging.Logger
}

// NewS3Writer loads the default AWS config for the region and returns a
// writer targeting the given bucket.
func NewS3Writer(ctx context.Context, bucket, region, prefix, nodeName string) (*S3Writer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Writer{
		client:   s3.NewFromConfig(cfg),
		bucket:   bucket,
		prefix:   prefix,
		nodeName: nodeName,
		logger:   logging.NewLogger("s3-writer"),
	}, nil
}

// WriteBatch uploads one batch and returns the object key.
// Key layout: stats/2026/08/23/relay-0-20260823-143022-123456789.jsonl
func (w *S3Writer) WriteBatch(ctx context.Context, events []Event) (string, error) {
	if len(events) == 0 {
		return "", nil
	}

	now := time.Now()
	key := fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		w.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		w.nodeName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := encoder.Encode(ev); err != nil {
			w.logger.Error("failed to encode event", "error", err)
			continue
		}
	}

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	w.logger.Info("wrote batch to S3", "key", key, "count", len(events), "bytes", buf.Len())
	return key, nil
}
