// Package storage implements the object-storage broker: one
// physical MinIO bucket per project, logical buckets expressed as key
// prefixes, and presigned upload/download URLs.
//
// Grounded in redbco-redb-open/services/anchor/internal/database/minio
// (client.go's minio.New/MakeBucket/RemoveBucket wrapping), generalized
// from "bucket = database" to "bucket = project, prefix = logical bucket"
// so every project gets exactly one physical bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/store"
)

// Config describes how to reach the MinIO (or S3-compatible) endpoint.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string

	MaxUploadSizeBytes int64         // default 100 MiB
	PresignExpiry      time.Duration // default 15 minutes
}

func (c Config) maxUploadSize() int64 {
	if c.MaxUploadSizeBytes <= 0 {
		return 100 * 1024 * 1024
	}
	return c.MaxUploadSizeBytes
}

func (c Config) presignExpiry() time.Duration {
	if c.PresignExpiry <= 0 {
		return 15 * time.Minute
	}
	return c.PresignExpiry
}

// objectKeyPattern restricts object key characters at the validation layer.
var objectKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// containsTraversal reports whether any "." or ".." path segment is
// present, which the character class alone does not exclude.
func containsTraversal(key string) bool {
	for _, segment := range strings.Split(key, "/") {
		if segment == "." || segment == ".." {
			return true
		}
	}
	return false
}

// Broker is the process-wide object-storage broker.
type Broker struct {
	client *minio.Client
	cfg    Config
	store  *store.Store
}

// New constructs a Broker from a MinIO endpoint config.
func New(cfg Config, st *store.Store) (*Broker, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Broker{client: client, cfg: cfg, store: st}, nil
}

func physicalBucket(projectID string) string {
	return "proj-" + projectID
}

func objectKey(logical, path string) string {
	return logical + "/" + path
}

// CreateProjectNamespace creates the physical bucket backing a project.
func (b *Broker) CreateProjectNamespace(ctx context.Context, projectID string) error {
	bucket := physicalBucket(projectID)
	exists, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return apperr.UpstreamStore(err, "check bucket existence")
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: b.cfg.Region}); err != nil {
		return apperr.UpstreamStore(err, "create bucket for project %s", projectID)
	}
	return nil
}

// DestroyProjectNamespace paginates through and deletes every object in
// the project's bucket, then removes the bucket itself.
func (b *Broker) DestroyProjectNamespace(ctx context.Context, projectID string) error {
	bucket := physicalBucket(projectID)

	exists, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return apperr.UpstreamStore(err, "check bucket existence")
	}
	if !exists {
		return nil
	}

	objectsCh := b.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true})
	removeCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(removeCh)
		for obj := range objectsCh {
			if obj.Err != nil {
				continue
			}
			removeCh <- obj
		}
	}()
	for result := range b.client.RemoveObjects(ctx, bucket, removeCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return apperr.UpstreamStore(result.Err, "remove object %s during namespace teardown", result.ObjectName)
		}
	}

	if err := b.client.RemoveBucket(ctx, bucket); err != nil {
		return apperr.UpstreamStore(err, "remove bucket for project %s", projectID)
	}
	return nil
}

// PresignUploadResult is the response to a presigned-upload request.
type PresignUploadResult struct {
	ObjectKey string `json:"objectKey"`
	URL       string `json:"uploadUrl"`
	ExpiresIn int    `json:"expiresIn"`
}

// PresignUpload validates the logical bucket exists, enforces the size
// cap, upserts file metadata, and returns a time-limited upload URL.
func (b *Broker) PresignUpload(ctx context.Context, projectID, logical, path, contentType string, maxSize int64) (*PresignUploadResult, error) {
	if !objectKeyPattern.MatchString(path) || containsTraversal(path) {
		return nil, apperr.BadRequest("object path contains disallowed characters")
	}
	if maxSize > b.cfg.maxUploadSize() {
		return nil, apperr.BadRequest("requested max size exceeds the configured upload cap")
	}

	if _, err := b.store.GetLogicalBucket(ctx, b.store.Q(), projectID, logical); err != nil {
		return nil, err
	}

	key := objectKey(logical, path)
	expiry := b.cfg.presignExpiry()

	url, err := b.client.PresignedPutObject(ctx, physicalBucket(projectID), key, expiry)
	if err != nil {
		return nil, apperr.UpstreamStore(err, "presign upload")
	}

	if err := b.store.UpsertFileMetadata(ctx, b.store.Q(), &models.FileMetadata{
		ID: uuid.NewString(), ProjectID: projectID, LogicalBucket: logical, ObjectKey: key,
		ContentType: contentType, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	return &PresignUploadResult{ObjectKey: key, URL: url.String(), ExpiresIn: int(expiry.Seconds())}, nil
}

// PresignDownload returns a time-limited download URL (and the expiry it
// was signed for) for an existing object key, without listing the bucket.
func (b *Broker) PresignDownload(ctx context.Context, projectID, logical, objectKey string) (string, int, error) {
	if !objectKeyPattern.MatchString(objectKey) || containsTraversal(objectKey) {
		return "", 0, apperr.BadRequest("object key contains disallowed characters")
	}
	expiry := b.cfg.presignExpiry()
	url, err := b.client.PresignedGetObject(ctx, physicalBucket(projectID), objectKey, expiry, nil)
	if err != nil {
		return "", 0, apperr.UpstreamStore(err, "presign download")
	}
	return url.String(), int(expiry.Seconds()), nil
}

// ListedObject is one entry in a List response.
type ListedObject struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// List enumerates objects under a logical bucket prefix. Callers must
// already hold secret-tier authorization — this package does not itself
// enforce that; it is enforced by the HTTP layer.
func (b *Broker) List(ctx context.Context, projectID, logical, prefix string, limit int) ([]ListedObject, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	fullPrefix := logical + "/"
	if prefix != "" {
		fullPrefix += prefix
	}

	var out []ListedObject
	for obj := range b.client.ListObjects(ctx, physicalBucket(projectID), minio.ListObjectsOptions{Prefix: fullPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, apperr.UpstreamStore(obj.Err, "list objects")
		}
		out = append(out, ListedObject{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Delete removes an object and its metadata row.
func (b *Broker) Delete(ctx context.Context, projectID, objectKey string) error {
	if err := b.client.RemoveObject(ctx, physicalBucket(projectID), objectKey, minio.RemoveObjectOptions{}); err != nil {
		return apperr.UpstreamStore(err, "delete object %s", objectKey)
	}
	return b.store.DeleteFileMetadata(ctx, b.store.Q(), projectID, objectKey)
}

// Ping checks connectivity to the object store, used by pkg/health.
func (b *Broker) Ping(ctx context.Context) error {
	_, err := b.client.ListBuckets(ctx)
	if err != nil {
		return apperr.UpstreamStore(err, "ping object store")
	}
	return nil
}

// BackupBucket is the fixed bucket name for backup artifacts.
const BackupBucket = "platform-backups"

// EnsureBucket creates a bucket if it does not already exist. Used for
// the fixed backup bucket, which is not a per-project namespace.
func (b *Broker) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return apperr.UpstreamStore(err, "check bucket existence")
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: b.cfg.Region}); err != nil {
		return apperr.UpstreamStore(err, "create bucket %s", bucket)
	}
	return nil
}

// PutBytes uploads a byte slice to an arbitrary bucket/key, used by the
// backup engine to store dump/export artifacts.
func (b *Broker) PutBytes(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	reader := bytes.NewReader(data)
	if _, err := b.client.PutObject(ctx, bucket, key, reader, int64(len(data)), minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return apperr.UpstreamStore(err, "upload object %s/%s", bucket, key)
	}
	return nil
}

// GetBytes downloads an arbitrary bucket/key's full contents, used by
// the backup engine's restore path.
func (b *Broker) GetBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.UpstreamStore(err, "download object %s/%s", bucket, key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, apperr.UpstreamStore(err, "read object %s/%s", bucket, key)
	}
	return data, nil
}

// DeleteObjectFromBucket removes a single object from an arbitrary
// bucket, without touching file_metadata (used for backup artifacts,
// which have no corresponding metadata row).
func (b *Broker) DeleteObjectFromBucket(ctx context.Context, bucket, key string) error {
	if err := b.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return apperr.UpstreamStore(err, "delete object %s/%s", bucket, key)
	}
	return nil
}
