package store

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultBucket is the object store bucket used when none is configured.
const DefaultBucket = "motionguard"

const (
	recordPrefix   = "detections/"
	artifactPrefix = "artifacts/"
)

// ObjectConfig configures the S3-compatible mirror.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// UploadArtifacts also copies the captured image next to the record.
	UploadArtifacts bool
}

// objectClient is the subset of the S3 API the mirror uses.
type objectClient interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	PutFile(ctx context.Context, bucket, key, path, contentType string) error
	Keys(ctx context.Context, bucket, prefix string) ([]string, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// objectRecord is the mirrored JSON document. Its shape is fixed per
// schema_version.
type objectRecord struct {
	SchemaVersion int    `json:"schema_version"`
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
	ImagePath     string `json:"image_path"`
}

// ObjectMirror stores one JSON object per record. Keys are derived from the
// record itself so replays overwrite rather than duplicate.
type ObjectMirror struct {
	client objectClient
	cfg    ObjectConfig
}

var _ Mirror = (*ObjectMirror)(nil)

// OpenObjectStore connects to the endpoint and creates the bucket if needed.
func OpenObjectStore(ctx context.Context, cfg ObjectConfig) (*ObjectMirror, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	return newObjectMirror(ctx, minioClient{client}, cfg)
}

func newObjectMirror(ctx context.Context, client objectClient, cfg ObjectConfig) (*ObjectMirror, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		cfg.Bucket = DefaultBucket
	}
	if err := client.EnsureBucket(ctx, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}
	return &ObjectMirror{client: client, cfg: cfg}, nil
}

// Name returns the backend name.
func (m *ObjectMirror) Name() string { return "s3" }

// Close is a no-op; the HTTP client holds no resources that need release.
func (m *ObjectMirror) Close() error { return nil }

// Insert writes the record document and, if enabled, the artifact image.
func (m *ObjectMirror) Insert(ctx context.Context, r Record) error {
	if r.Status == StatusNone {
		return fmt.Errorf("write detection: status %s is not persisted", r.Status)
	}
	body, err := json.Marshal(objectRecord{
		SchemaVersion: SchemaVersion,
		Timestamp:     r.Timestamp.Format(TimeLayout),
		Status:        string(r.Status),
		ImagePath:     r.Artifact,
	})
	if err != nil {
		return fmt.Errorf("write detection: %w", err)
	}
	if err := m.client.Put(ctx, m.cfg.Bucket, ObjectKey(r), body, "application/json"); err != nil {
		return fmt.Errorf("write detection: %w", err)
	}
	if m.cfg.UploadArtifacts && r.Artifact != "" {
		key := artifactPrefix + filepath.Base(r.Artifact)
		if err := m.client.PutFile(ctx, m.cfg.Bucket, key, r.Artifact, "image/jpeg"); err != nil {
			return fmt.Errorf("upload artifact: %w", err)
		}
	}
	return nil
}

// Recent returns up to limit records, newest first by key order.
func (m *ObjectMirror) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	keys, err := m.client.Keys(ctx, m.cfg.Bucket, recordPrefix)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		data, err := m.client.Get(ctx, m.cfg.Bucket, key)
		if err != nil {
			return nil, fmt.Errorf("get detection %s: %w", key, err)
		}
		var doc objectRecord
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode detection %s: %w", key, err)
		}
		r, err := scanRecord(doc.Timestamp, doc.Status, doc.ImagePath)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ObjectKey returns the deterministic key of a record:
// detections/YYYY/MM/DD/<YYYYMMDDTHHMMSS>_<STATUS>_<hash>.json.
func ObjectKey(r Record) string {
	sum := sha1.Sum([]byte(r.Artifact))
	return fmt.Sprintf("%s%s/%s_%s_%s.json",
		recordPrefix,
		r.Timestamp.Format("2006/01/02"),
		r.Timestamp.Format("20060102T150405"),
		r.Status,
		hex.EncodeToString(sum[:])[:8],
	)
}

// minioClient adapts *minio.Client to objectClient.
type minioClient struct {
	c *minio.Client
}

func (m minioClient) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.c.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.c.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

func (m minioClient) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := m.c.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (m minioClient) PutFile(ctx context.Context, bucket, key, path, contentType string) error {
	_, err := m.c.FPutObject(ctx, bucket, key, path, minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (m minioClient) Keys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.c.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (m minioClient) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.c.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}
