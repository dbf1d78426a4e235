package snapshotstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/daniacca/membranedb/internal/psystem"
)

// S3Config describes an S3 or S3-compatible (MinIO) bucket.
type S3Config struct {
	Bucket          string
	Region          string // default us-east-1
	Endpoint        string // optional custom endpoint
	Prefix          string // key prefix, e.g. "snapshots/"
	PathStyle       bool
	AccessKeyID     string // optional; falls back to the default credential chain
	SecretAccessKey string
	SessionToken    string
	Format          Format
}

// S3Store keeps one object per environment in a single bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	format Format
}

// NewS3Store builds a client from cfg. optFns are applied after the
// config-derived options.
func NewS3Store(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	opts := append([]func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// plain payloads, which S3-compatible servers accept
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	}}, optFns...)

	format := cfg.Format
	if format == "" {
		format = FormatJSON
	}
	return &S3Store{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		format: format,
	}, nil
}

func (s *S3Store) key(id psystem.EnvironmentID) (string, error) {
	name, err := objectName(id, s.format)
	if err != nil {
		return "", err
	}
	return s.prefix + name, nil
}

// Save uploads the snapshot, replacing any previous one.
func (s *S3Store) Save(ctx context.Context, id psystem.EnvironmentID, snap psystem.Snapshot) error {
	key, err := s.key(id)
	if err != nil {
		return err
	}
	data, err := s.format.encode(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(s.format.contentType()),
		Metadata: map[string]string{
			"environment": string(id),
			"system":      snap.System,
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Load downloads the snapshot for id, or returns ErrNotFound.
func (s *S3Store) Load(ctx context.Context, id psystem.EnvironmentID) (psystem.Snapshot, error) {
	key, err := s.key(id)
	if err != nil {
		return psystem.Snapshot{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return psystem.Snapshot{}, fmt.Errorf("environment %s: %w", id, ErrNotFound)
		}
		return psystem.Snapshot{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return psystem.Snapshot{}, fmt.Errorf("read %s: %w", key, err)
	}
	return s.format.decode(data)
}

// Delete removes the snapshot object.
func (s *S3Store) Delete(ctx context.Context, id psystem.EnvironmentID) error {
	key, err := s.key(id)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// List returns the environment ids that have a snapshot under the prefix.
func (s *S3Store) List(ctx context.Context) ([]psystem.EnvironmentID, error) {
	var ids []psystem.EnvironmentID
	var token *string
	ext := s.format.extension()
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.prefix, err)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if !strings.HasSuffix(name, ext) {
				continue
			}
			id, err := url.PathUnescape(strings.TrimSuffix(name, ext))
			if err != nil {
				continue
			}
			ids = append(ids, psystem.EnvironmentID(id))
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		return ids, nil
	}
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
