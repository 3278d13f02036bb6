package dlq

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/datagen24/cowrieprocessor/internal/canonical"
	"github.com/datagen24/cowrieprocessor/internal/model"
)

// Archiver uploads a resolved or abandoned dead-letter payload to object
// storage, giving operators an off-box forensic copy before the row ages
// out of the relational table. Optional: cmd/dlq-replay only constructs one
// when DLQ_ARCHIVE_S3_BUCKET is configured.
type Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewArchiver builds an S3-backed archiver. Region and credentials are
// picked up from the environment the same way the AWS SDK always does
// (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET, ...).
func NewArchiver(ctx context.Context, bucket, prefix string) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("dlq: archiver bucket required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("dlq: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Archiver{bucket: bucket, prefix: prefix, uploader: manager.NewUploader(client)}, nil
}

// Archive uploads a dead-letter event's payload and resolution metadata to
// s3://<bucket>/<prefix>/dlq/YYYY/MM/DD/<id>.json, keyed by the event's
// creation date so a whole day's archive can be located without a manifest.
func (a *Archiver) Archive(ctx context.Context, e *model.DeadLetterEvent) error {
	if e == nil {
		return fmt.Errorf("dlq: nil event")
	}

	envelope := map[string]interface{}{
		"id":                e.ID,
		"ingest_id":         e.IngestID,
		"source":            e.Source,
		"source_offset":     e.SourceOffset,
		"reason":            string(e.Reason),
		"payload":           string(e.Payload),
		"payload_checksum":  e.PayloadChecksum,
		"retry_count":       e.RetryCount,
		"resolution_method": e.ResolutionMethod,
		"priority":          e.Priority,
		"classification":    e.Classification,
	}
	canon, err := canonical.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("dlq: canonicalize archive envelope: %w", err)
	}

	ts := e.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	year, month, day := ts.Date()
	key := path.Join(a.prefix, "dlq",
		fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", int(month)), fmt.Sprintf("%02d", day),
		fmt.Sprintf("%d.json", e.ID))

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(canon),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("dlq: s3 upload %s: %w", key, err)
	}
	return nil
}
