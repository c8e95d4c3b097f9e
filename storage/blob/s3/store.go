// Package s3 stores the uploads in an S3-compatible bucket (AWS S3, MinIO, Scaleway).
package s3

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
)

const defaultRegion = "eu-west-3"

type Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// Options holds the settings not read from core.BlobConfig.
type Options struct {
	AccessKeyID     string // optional, falls back to the default credentials chain
	SecretAccessKey string
	HTTPClient      aws.HTTPClient // optional
}

// New returns a Store on the bucket of conf. With an endpoint (e.g. MinIO), path-style addressing is used.
func New(ctx context.Context, conf core.BlobConfig, opts Options) (*Store, error) {
	if conf.Bucket == "" {
		return nil, core.NewConfigError("s3: bucket required")
	}
	region := conf.Region
	if region == "" {
		region = defaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(opts.HTTPClient))
	}
	awsConf, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "loading aws config")
	}

	client := s3.NewFromConfig(awsConf, func(o *s3.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Store{client: client, bucket: conf.Bucket, baseURL: publicBase(conf, region)}, nil
}

func publicBase(conf core.BlobConfig, region string) string {
	switch {
	case conf.PublicBaseURL != "":
		return strings.TrimRight(conf.PublicBaseURL, "/")
	case conf.Endpoint != "":
		return strings.TrimRight(conf.Endpoint, "/") + "/" + conf.Bucket
	}
	return "https://" + conf.Bucket + ".s3." + region + ".amazonaws.com"
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return errors.Wrapf(err, "putting %s", key)
	}
	return nil
}

func (s *Store) URL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/")
}
