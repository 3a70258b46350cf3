// Package bundles3 copies finished bundle archives to an S3 bucket.
package bundles3

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/k11v/airgap/internal/bundle"
)

var _ bundle.Publisher = (*Publisher)(nil)

type Publisher struct {
	client *s3.Client // required
	bucket string     // required

	// uploadPartSize should be greater than or equal 5MB.
	// See github.com/aws/aws-sdk-go-v2/feature/s3/manager.
	uploadPartSize int
}

func NewPublisher(client *s3.Client, bucket string) *Publisher {
	return &Publisher{
		client:         client,
		bucket:         bucket,
		uploadPartSize: 10 * 1024 * 1024, // 10MB
	}
}

func Key(jobID uuid.UUID) string {
	return "bundles/" + bundle.ArchiveName(jobID)
}

// Publish implements bundle.Publisher.
func (p *Publisher) Publish(ctx context.Context, jobID uuid.UUID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	defer f.Close()

	uploader := manager.NewUploader(p.client, func(u *manager.Uploader) {
		u.PartSize = int64(p.uploadPartSize)
	})

	key := Key(jobID)
	contentType := "application/zip"
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &p.bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	err = s3.NewObjectExistsWaiter(p.client).Wait(ctx, &s3.HeadObjectInput{
		Bucket: &p.bucket,
		Key:    &key,
	}, time.Minute)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}
