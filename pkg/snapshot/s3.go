package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/harvestoor/pkg/config"
)

const contentType = "application/octet-stream"

// objectAPI is the part of the S3 client used by S3Store.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps snapshots in S3-compatible storage. Names are keys relative
// to the configured prefix.
type S3Store struct {
	log    logrus.FieldLogger
	cfg    *config.S3Config
	client objectAPI
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates an S3Store from the given configuration.
func NewS3Store(log logrus.FieldLogger, cfg *config.S3Config) *S3Store {
	return &S3Store{
		log:    log.WithField("component", "snapshot-s3"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

func newS3Client(cfg *config.S3Config) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = config.DefaultS3Region
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
		},
	}

	return s3.New(s3.Options{}, opts...)
}

func (s *S3Store) Save(ctx context.Context, name string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}

	key := s.resolveKey(name)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("putting snapshot s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}

	s.log.WithFields(logrus.Fields{
		"bucket": s.cfg.Bucket,
		"key":    key,
		"size":   units.HumanSize(float64(len(data))),
	}).Info("Snapshot saved")

	return nil
}

func (s *S3Store) Load(ctx context.Context, name string) (any, error) {
	key := s.resolveKey(name)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.cfg.Bucket, key)
		}

		return nil, fmt.Errorf("getting snapshot s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	v, err := Decode(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}

	s.log.WithField("key", key).Debug("Snapshot loaded")

	return v, nil
}

// resolveKey places name under the configured prefix.
func (s *S3Store) resolveKey(name string) string {
	prefix := strings.Trim(s.cfg.Prefix, "/")
	name = strings.TrimLeft(name, "/")

	if prefix == "" {
		return name
	}

	return prefix + "/" + name
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
