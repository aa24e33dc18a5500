package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog/log"
)

// SpacesFetcher reads objects from DigitalOcean Spaces (or any S3 endpoint).
type SpacesFetcher struct {
	client *s3.S3
	bucket string
	cdnURL string
}

func NewSpacesFetcher(endpoint, region, bucket, cdnURL, accessKey, secretKey string) (*SpacesFetcher, error) {
	config := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(accessKey, secretKey, ""),
		Endpoint:         aws.String(endpoint),
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(false),
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &SpacesFetcher{
		client: s3.New(sess),
		bucket: bucket,
		cdnURL: strings.TrimSuffix(cdnURL, "/"),
	}, nil
}

// Owns reports whether an http(s) URL points at this bucket's CDN.
func (sf *SpacesFetcher) Owns(rawURL string) bool {
	return sf.cdnURL != "" && strings.HasPrefix(rawURL, sf.cdnURL+"/")
}

// objectFor maps s3://bucket/key or a CDN URL to bucket and key.
func (sf *SpacesFetcher) objectFor(rawURL string) (string, string, error) {
	if sf.Owns(rawURL) {
		key := strings.TrimPrefix(rawURL, sf.cdnURL+"/")
		if i := strings.IndexAny(key, "?#"); i >= 0 {
			key = key[:i]
		}
		return sf.bucket, key, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}
	bucket := u.Host
	if bucket == "" {
		bucket = sf.bucket
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("%w: %s has no object key", ErrUnsupportedURL, rawURL)
	}
	return bucket, key, nil
}

func (sf *SpacesFetcher) Fetch(ctx context.Context, rawURL string) (*Object, error) {
	bucket, key, err := sf.objectFor(rawURL)
	if err != nil {
		return nil, err
	}
	out, err := sf.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("Failed to download file from Spaces")
		return nil, fmt.Errorf("failed to download from Spaces: %w", err)
	}
	return &Object{
		Body:        out.Body,
		ContentType: aws.StringValue(out.ContentType),
		Size:        aws.Int64Value(out.ContentLength),
	}, nil
}
