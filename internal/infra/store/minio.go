package store

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	zlog "github.com/rs/zerolog/log"
)

// MinIOConfig holds settings for the object storage backend.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// MinIO stores values as objects named "<collection>/<key>".
// It is meant for the audioFiles collection, whose values are large.
type MinIO struct {
	client *minio.Client
	bucket string
}

var _ Store = (*MinIO)(nil)

// NewMinIO connects to the endpoint and creates the bucket if it is missing.
func NewMinIO(ctx context.Context, cfg MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio: endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, failure(err, "open", "", "")
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, failure(err, "open", "", "")
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, failure(err, "open", "", "")
		}
		zlog.Info().Msgf("store: created bucket %s", cfg.Bucket)
	}

	return &MinIO{client: client, bucket: cfg.Bucket}, nil
}

func objectName(coll Collection, key string) string {
	return string(coll) + "/" + key
}

// Put uploads value as a single object.
func (m *MinIO) Put(ctx context.Context, coll Collection, key string, value []byte) error {
	if err := checkCollection(coll); err != nil {
		return err
	}
	_, err := m.client.PutObject(ctx, m.bucket, objectName(coll, key), bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return failure(err, "put", coll, key)
	}
	return nil
}

// Get downloads the object for key.
func (m *MinIO) Get(ctx context.Context, coll Collection, key string) ([]byte, error) {
	if err := checkCollection(coll); err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, objectName(coll, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, failure(err, "get", coll, key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, notFound(coll, key)
		}
		return nil, failure(err, "get", coll, key)
	}
	return data, nil
}

// GetAll lists the collection prefix and downloads every object.
func (m *MinIO) GetAll(ctx context.Context, coll Collection) ([]Entry, error) {
	if err := checkCollection(coll); err != nil {
		return nil, err
	}

	prefix := string(coll) + "/"
	var entries []Entry
	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if info.Err != nil {
			return nil, failure(info.Err, "get_all", coll, "")
		}
		key := strings.TrimPrefix(info.Key, prefix)
		value, err := m.Get(ctx, coll, key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: key, Value: value})
	}
	return entries, nil
}

// Close is a no-op; the minio client holds no persistent connection.
func (m *MinIO) Close() error {
	return nil
}
