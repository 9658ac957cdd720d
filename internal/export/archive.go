package export

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArchiveConfig configures the object store holding exported transcripts.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Archived describes a stored transcript.
type Archived struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	ExpiresAt time.Time `json:"urlExpiresAt"`
}

// Archive writes transcripts to S3-compatible storage.
type Archive struct {
	client    *minio.Client
	bucket    string
	linkValid time.Duration
}

func NewArchive(cfg ArchiveConfig) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Archive{client: client, bucket: cfg.Bucket, linkValid: 24 * time.Hour}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Put uploads the export under rooms/<roomID>/ and returns a presigned link.
func (a *Archive) Put(ctx context.Context, roomID string, result *Result, now time.Time) (Archived, error) {
	key := objectKey(roomID, result.Filename, now)
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(result.Data), int64(len(result.Data)), minio.PutObjectOptions{
		ContentType: result.MimeType,
	})
	if err != nil {
		return Archived{}, fmt.Errorf("put transcript: %w", err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	link, err := a.client.PresignedGetObject(ctx, a.bucket, key, a.linkValid, params)
	if err != nil {
		return Archived{}, fmt.Errorf("presign transcript: %w", err)
	}

	return Archived{
		Key:       key,
		URL:       link.String(),
		Size:      info.Size,
		ExpiresAt: now.Add(a.linkValid),
	}, nil
}

func objectKey(roomID, filename string, now time.Time) string {
	return fmt.Sprintf("rooms/%s/%s-%s", roomID, now.UTC().Format("20060102T150405Z"), filename)
}
