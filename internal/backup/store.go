package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// StoreConfig selects the object storage backend. With Endpoint empty the
// AWS SDK is used and credentials come from the named shared-config profile.
// A non-empty Endpoint switches to the S3-compatible client with static
// credentials, for Minio and other non-AWS deployments.
type StoreConfig struct {
	Profile string
	Bucket  string

	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store reads and writes backup archives in an S3 bucket. Clients are
// created lazily on first use and reused afterwards.
type Store struct {
	config      *StoreConfig
	awsClient   *s3.Client
	minioClient *minio.Client
}

// ObjectInfo is a lightweight representation of a stored backup object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

func NewStore(config *StoreConfig) *Store {
	return &Store{config: config}
}

// NewStoreFromEnv builds a StoreConfig from the AWS profile and bucket in
// the main config plus the optional S3_ENDPOINT / S3_ACCESS_KEY /
// S3_SECRET_KEY / S3_USE_SSL environment overrides.
func NewStoreFromEnv(profile, bucket string) *Store {
	return NewStore(&StoreConfig{
		Profile:   profile,
		Bucket:    bucket,
		Endpoint:  os.Getenv("S3_ENDPOINT"),
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
		UseSSL:    os.Getenv("S3_USE_SSL") != "false",
	})
}

func (s *Store) usesEndpoint() bool {
	return s.config.Endpoint != ""
}

func (s *Store) initAWSClient(ctx context.Context) error {
	if s.awsClient != nil {
		return nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithSharedConfigProfile(s.config.Profile),
	)
	if err != nil {
		return fmt.Errorf("failed to load AWS config for profile %q: %w", s.config.Profile, err)
	}

	s.awsClient = s3.NewFromConfig(cfg)
	return nil
}

func (s *Store) initMinioClient() error {
	if s.minioClient != nil {
		return nil
	}

	client, err := minio.New(s.config.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(s.config.AccessKey, s.config.SecretKey, ""),
		Secure: s.config.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create S3 client for endpoint %s: %w", s.config.Endpoint, err)
	}

	s.minioClient = client
	return nil
}

// IsNotFound reports whether err is an S3 "does not exist" condition as
// opposed to a transient or permission failure.
func IsNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

// Upload stores the contents of reader under key.
func (s *Store) Upload(ctx context.Context, key string, reader io.Reader, size int64) error {
	if s.usesEndpoint() {
		if err := s.initMinioClient(); err != nil {
			return err
		}
		_, err := s.minioClient.PutObject(ctx, s.config.Bucket, key, reader, size, minio.PutObjectOptions{
			ContentType: "application/gzip",
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		return nil
	}

	if err := s.initAWSClient(ctx); err != nil {
		return err
	}
	_, err := s.awsClient.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.Bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Download fetches key into a local file at outputPath.
func (s *Store) Download(ctx context.Context, key, outputPath string) error {
	var body io.ReadCloser
	if s.usesEndpoint() {
		if err := s.initMinioClient(); err != nil {
			return err
		}
		obj, err := s.minioClient.GetObject(ctx, s.config.Bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", key, err)
		}
		body = obj
	} else {
		if err := s.initAWSClient(ctx); err != nil {
			return err
		}
		result, err := s.awsClient.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if IsNotFound(err) {
				return fmt.Errorf("object %s does not exist in bucket %s", key, s.config.Bucket)
			}
			return fmt.Errorf("failed to fetch %s: %w", key, err)
		}
		body = result.Body
	}
	defer body.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(outputPath)
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return out.Close()
}

// List returns objects under prefix, most recent first.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	if s.usesEndpoint() {
		if err := s.initMinioClient(); err != nil {
			return nil, err
		}
		ch := s.minioClient.ListObjects(ctx, s.config.Bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		})
		for obj := range ch {
			if obj.Err != nil {
				return nil, fmt.Errorf("error listing objects: %w", obj.Err)
			}
			objects = append(objects, ObjectInfo{
				Key:          obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
			})
		}
	} else {
		if err := s.initAWSClient(ctx); err != nil {
			return nil, err
		}
		input := &s3.ListObjectsV2Input{Bucket: aws.String(s.config.Bucket)}
		if prefix != "" {
			input.Prefix = aws.String(prefix)
		}
		paginator := s3.NewListObjectsV2Paginator(s.awsClient, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list objects: %w", err)
			}
			for _, obj := range page.Contents {
				objects = append(objects, ObjectInfo{
					Key:          aws.ToString(obj.Key),
					Size:         aws.ToInt64(obj.Size),
					LastModified: aws.ToTime(obj.LastModified),
				})
			}
		}
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})
	if limit > 0 && len(objects) > limit {
		objects = objects[:limit]
	}
	return objects, nil
}

// GetLatest returns the key of the most recently modified object under
// prefix.
func (s *Store) GetLatest(ctx context.Context, prefix string) (string, error) {
	objs, err := s.List(ctx, prefix, 1)
	if err != nil {
		return "", err
	}
	if len(objs) == 0 {
		return "", fmt.Errorf("no objects found for prefix %q", prefix)
	}
	return objs[0].Key, nil
}

// Delete removes the given keys. AWS batches up to 1000 keys per call.
func (s *Store) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	if s.usesEndpoint() {
		if err := s.initMinioClient(); err != nil {
			return err
		}
		objectsCh := make(chan minio.ObjectInfo, len(keys))
		go func() {
			defer close(objectsCh)
			for _, k := range keys {
				objectsCh <- minio.ObjectInfo{Key: k}
			}
		}()
		var errs []string
		for e := range s.minioClient.RemoveObjects(ctx, s.config.Bucket, objectsCh, minio.RemoveObjectsOptions{}) {
			errs = append(errs, fmt.Sprintf("%s: %v", e.ObjectName, e.Err))
		}
		if len(errs) > 0 {
			return fmt.Errorf("errors deleting objects: %s", strings.Join(errs, "; "))
		}
		return nil
	}

	if err := s.initAWSClient(ctx); err != nil {
		return err
	}
	for i := 0; i < len(keys); i += 1000 {
		end := i + 1000
		if end > len(keys) {
			end = len(keys)
		}
		var ids []types.ObjectIdentifier
		for _, key := range keys[i:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}
		_, err := s.awsClient.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.config.Bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
	}
	return nil
}

// TestConnection exercises the bucket end to end: existence check, then a
// write/read/delete cycle with a throwaway probe object.
func (s *Store) TestConnection(ctx context.Context) error {
	fmt.Printf("1. Testing bucket existence...\n")
	if err := s.headBucket(ctx); err != nil {
		return fmt.Errorf("failed to access bucket %q: %w", s.config.Bucket, err)
	}
	fmt.Printf("   ✓ Bucket %q exists and is accessible\n\n", s.config.Bucket)

	probeName := fmt.Sprintf(".connection-test-%d.txt", time.Now().Unix())
	probeContent := []byte("connection test object created by pgvault")

	fmt.Printf("2. Testing write operation...\n")
	if err := s.Upload(ctx, probeName, strings.NewReader(string(probeContent)), int64(len(probeContent))); err != nil {
		return fmt.Errorf("failed to write test object: %w", err)
	}
	fmt.Printf("   ✓ Successfully wrote test object %q (%d bytes)\n\n", probeName, len(probeContent))

	fmt.Printf("3. Testing read operation...\n")
	tmp, err := os.CreateTemp("", "pgvault-conn-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := s.Download(ctx, probeName, tmpPath); err != nil {
		return fmt.Errorf("failed to read test object: %w", err)
	}
	readBack, err := os.ReadFile(tmpPath)
	if err != nil {
		return err
	}
	if string(readBack) != string(probeContent) {
		return fmt.Errorf("content mismatch: read content doesn't match written content")
	}
	fmt.Printf("   ✓ Successfully read test object and verified content\n\n")

	fmt.Printf("4. Testing delete operation...\n")
	if err := s.Delete(ctx, []string{probeName}); err != nil {
		return fmt.Errorf("failed to delete test object: %w", err)
	}
	fmt.Printf("   ✓ Successfully deleted test object\n")

	return nil
}

func (s *Store) headBucket(ctx context.Context) error {
	if s.usesEndpoint() {
		if err := s.initMinioClient(); err != nil {
			return err
		}
		exists, err := s.minioClient.BucketExists(ctx, s.config.Bucket)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("bucket %q does not exist", s.config.Bucket)
		}
		return nil
	}

	if err := s.initAWSClient(ctx); err != nil {
		return err
	}
	_, err := s.awsClient.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	})
	return err
}
