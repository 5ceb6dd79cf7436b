package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/ethpandaops/testoor/pkg/config"
	"github.com/sirupsen/logrus"
)

const (
	historyContentType = "application/vnd.sqlite3"
	writeTestKey       = ".testoor-write-test"
)

// objectAPI is the subset of the S3 client used for syncing.
type objectAPI interface {
	PutObject(
		ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
	GetObject(
		ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options),
	) (*s3.GetObjectOutput, error)
}

// s3Syncer implements Syncer for S3-compatible storage.
type s3Syncer struct {
	log    logrus.FieldLogger
	cfg    *config.S3SyncConfig
	client objectAPI
}

// Ensure interface compliance.
var _ Syncer = (*s3Syncer)(nil)

// NewS3Syncer creates a new S3 syncer from the given configuration.
func NewS3Syncer(
	log logrus.FieldLogger,
	cfg *config.S3SyncConfig,
) Syncer {
	return &s3Syncer{
		log:    log.WithField("component", "s3-sync"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

func newS3Client(cfg *config.S3SyncConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Syncer) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("testoor write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(u.siblingKey(writeTestKey)),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

// Upload pushes the local history file to S3.
func (u *s3Syncer) Upload(ctx context.Context, localFile string) error {
	f, err := os.Open(localFile)
	if err != nil {
		return fmt.Errorf("opening history file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat history file: %w", err)
	}

	key := u.resolveKey()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(historyContentType),
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	u.log.WithFields(logrus.Fields{
		"bucket": u.cfg.Bucket,
		"key":    key,
		"size":   units.HumanSize(float64(info.Size())),
	}).Info("History pushed")

	return nil
}

// Download fetches the remote history file and atomically replaces
// localFile with it.
func (u *s3Syncer) Download(ctx context.Context, localFile string) (bool, error) {
	key := u.resolveKey()

	out, err := u.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			u.log.WithField("key", key).Info("No remote history yet")

			return false, nil
		}

		return false, fmt.Errorf("getting object %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	dir := filepath.Dir(localFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("creating history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return false, fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := io.Copy(tmp, out.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return false, fmt.Errorf("reading object %q: %w", key, err)
	}

	if err := os.Rename(tmpName, localFile); err != nil {
		return false, fmt.Errorf("replacing history file: %w", err)
	}

	u.log.WithFields(logrus.Fields{
		"bucket": u.cfg.Bucket,
		"key":    key,
		"size":   units.HumanSize(float64(n)),
	}).Info("History pulled")

	return true, nil
}

// resolveKey returns the object key of the shared history file.
func (u *s3Syncer) resolveKey() string {
	key := strings.TrimLeft(u.cfg.Key, "/")
	if key == "" {
		key = config.DefaultSyncKey
	}

	return key
}

// siblingKey returns name placed next to the history object.
func (u *s3Syncer) siblingKey(name string) string {
	key := u.resolveKey()

	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return name
	}

	return key[:idx+1] + name
}

// isS3NotFound returns true if the error indicates the object does not exist.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible implementations return a generic error with
	// "NoSuchKey" in the message rather than the typed error.
	return strings.Contains(err.Error(), "NoSuchKey")
}
