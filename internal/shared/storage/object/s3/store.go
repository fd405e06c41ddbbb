package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"k8s.io/utils/clock"

	"meetingapp-backend/internal/shared/storage/object"
	"meetingapp-backend/internal/shared/storage/object/usage"
)

var (
	ErrSubscriptionExpired = errors.New("storage subscription has expired")
	ErrStorageLimit        = errors.New("storage limit exceeded")
)

// Config describes an S3-compatible endpoint.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Root      string
}

type api interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Client is a shared connection to the bucket.
type Client struct {
	api    api
	bucket string
	root   string
}

// NewClient builds a path-style client with static credentials.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, &object.UnconfiguredError{Type: object.TypeObjectStorage, Reason: "bucket is required"}
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, &object.UnconfiguredError{Type: object.TypeObjectStorage, Reason: "credentials are required"}
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})
	return &Client{api: client, bucket: cfg.Bucket, root: object.NormalizeRoot(cfg.Root)}, nil
}

// Store is the provider bound to one account.
type Store struct {
	client  *Client
	account object.Account
	meter   *usage.Meter
	clock   clock.PassiveClock
}

// For binds the client to an account. meter may be nil.
func (c *Client) For(account object.Account, meter *usage.Meter, clk clock.PassiveClock) *Store {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Store{client: c, account: account, meter: meter, clock: clk}
}

// Type implements object.Provider.
func (s *Store) Type() object.Type { return object.TypeObjectStorage }

// Root implements object.Provider.
func (s *Store) Root() string { return s.client.root }

// Download writes the object to localPath.
func (s *Store) Download(ctx context.Context, remotePath, localPath string) error {
	key := objectKey(remotePath)
	out, err := s.client.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.client.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", object.ErrNotFound, remotePath)
		}
		return fmt.Errorf("s3 get object bucket=%s key=%s: %w", s.client.bucket, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write body: %w", err)
	}
	return f.Close()
}

// Upload stores localPath at remotePath after subscription and quota checks.
func (s *Store) Upload(ctx context.Context, localPath, remotePath string) (object.UploadResult, error) {
	if ends := s.account.SubscriptionEndsAt; ends != nil && ends.Before(s.clock.Now()) {
		return object.UploadResult{}, ErrSubscriptionExpired
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return object.UploadResult{}, fmt.Errorf("stat upload: %w", err)
	}
	size := info.Size()
	if s.meter != nil && s.account.LimitBytes > 0 {
		current, err := s.meter.Current(ctx, s.account.ArbitratorID)
		if err != nil {
			return object.UploadResult{}, err
		}
		if current+size > s.account.LimitBytes {
			return object.UploadResult{}, fmt.Errorf("%w: used %d of %d bytes, file %d bytes",
				ErrStorageLimit, current, s.account.LimitBytes, size)
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return object.UploadResult{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	key := objectKey(remotePath)
	if _, err := s.client.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.client.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/pdf"),
	}); err != nil {
		return object.UploadResult{}, fmt.Errorf("s3 put object bucket=%s key=%s: %w", s.client.bucket, key, err)
	}
	if s.meter != nil {
		_ = s.meter.Add(ctx, s.account.ArbitratorID, size)
	}
	return object.UploadResult{Path: remotePath, Size: size}, nil
}

// Delete removes the object, reporting not_found when it is already gone.
func (s *Store) Delete(ctx context.Context, remotePath string) (object.DeleteResult, error) {
	key := objectKey(remotePath)
	head, err := s.client.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.client.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return object.DeleteResult{NotFound: true}, nil
		}
		return object.DeleteResult{}, fmt.Errorf("s3 head object bucket=%s key=%s: %w", s.client.bucket, key, err)
	}
	if _, err := s.client.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.client.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return object.DeleteResult{}, fmt.Errorf("s3 delete object bucket=%s key=%s: %w", s.client.bucket, key, err)
	}
	if s.meter != nil {
		_ = s.meter.Add(ctx, s.account.ArbitratorID, -aws.ToInt64(head.ContentLength))
	}
	return object.DeleteResult{Deleted: true}, nil
}

func objectKey(remotePath string) string {
	return strings.TrimLeft(strings.TrimSpace(remotePath), "/")
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}

var _ object.Provider = (*Store)(nil)
