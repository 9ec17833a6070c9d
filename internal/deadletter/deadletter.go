// Package deadletter archives the unshipped tail of a failed flush to
// object storage.
//
// The pipeline is at-most-once: a failed batch is never retried into the
// database. The archive preserves what would otherwise be silent loss so
// an operator can reconcile later. Writes are best-effort — an archive
// failure is logged and the data is gone, same as with no archive at all.
//
// Usage:
//
//	ar, err := deadletter.New(ctx, cfg.DeadLetter, sourceID, log)
//	if err != nil { ... }
//	acc.SetArchiver(ar)
package deadletter

import (
	"bytes"
	"context"
	"fmt"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/koustreak/hydrant/internal/config"
	"github.com/koustreak/hydrant/internal/errs"
	"github.com/koustreak/hydrant/internal/logger"
)

// Archive is a MinIO-backed dead-letter store. It is safe for concurrent
// use by multiple goroutines.
type Archive struct {
	client *miniogo.Client
	bucket string
	source string
	log    *logger.Logger
	now    func() time.Time
}

// New connects to the object store, ensures the bucket exists, and
// returns the Archive.
func New(ctx context.Context, cfg *config.DeadLetter, sourceID string, log *logger.Logger) (*Archive, error) {
	if log == nil {
		log = logger.Default()
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindStorage, "failed to create object store client", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindStorage, "failed to check dead-letter bucket", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, miniogo.MakeBucketOptions{}); err != nil {
			return nil, errs.Wrap(errs.ErrKindStorage, "failed to create dead-letter bucket", err)
		}
	}

	return &Archive{
		client: client,
		bucket: cfg.Bucket,
		source: sourceID,
		log:    log,
		now:    time.Now,
	}, nil
}

// Archive stores one unshipped tail under a key scoped to this process's
// source identity. The data is never fed back into the pipeline.
func (a *Archive) Archive(ctx context.Context, seq uint64, data []byte) error {
	key := objectKey(a.source, seq, a.now())

	_, err := a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return errs.Wrap(errs.ErrKindStorage, "failed to archive batch tail", err)
	}

	a.log.Debugf("Dead-letter object written: %s (%d bytes)", key, len(data))
	return nil
}

// objectKey is <source>/<seq>-<unix>.bin; the sequence keeps keys unique
// within one second.
func objectKey(source string, seq uint64, now time.Time) string {
	return fmt.Sprintf("%s/%06d-%d.bin", source, seq, now.Unix())
}
