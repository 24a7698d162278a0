package api

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethpandaops/healoor/pkg/config"
	"github.com/sirupsen/logrus"
)

const defaultPresignExpiry = 15 * time.Minute

// presignCacheEntry holds a cached presigned URL and its expiration time.
type presignCacheEntry struct {
	url       string
	expiresAt time.Time
}

// s3Presigner generates presigned GET URLs for artifacts stored in S3.
type s3Presigner struct {
	log           logrus.FieldLogger
	cfg           *config.S3ArtifactsConfig
	client        *s3.Client
	presignClient *s3.PresignClient
	expiry        time.Duration
	keyPrefix     string
	cacheTTL      time.Duration
	mu            sync.RWMutex
	cache         map[string]presignCacheEntry
}

// newS3Presigner creates a new S3 presigner from the given configuration.
func newS3Presigner(
	log logrus.FieldLogger,
	cfg *config.S3ArtifactsConfig,
) (*s3Presigner, error) {
	expiry := defaultPresignExpiry

	if cfg.PresignedURLs.Expiry != "" {
		parsed, err := time.ParseDuration(cfg.PresignedURLs.Expiry)
		if err != nil {
			return nil, fmt.Errorf("parsing presigned_urls.expiry: %w", err)
		}

		expiry = parsed
	}

	client := newArtifactS3Client(cfg)

	return &s3Presigner{
		log:           log.WithField("component", "s3-presigner"),
		cfg:           cfg,
		client:        client,
		presignClient: s3.NewPresignClient(client),
		expiry:        expiry,
		keyPrefix:     strings.TrimRight(cfg.KeyPrefix, "/"),
		cacheTTL:      expiry / 2,
		cache:         make(map[string]presignCacheEntry),
	}, nil
}

// GeneratePresignedURL returns a presigned GET URL for the given S3 key.
// Results are cached for half the presigned URL expiry duration to avoid
// redundant presigning while ensuring URLs always have sufficient validity.
func (p *s3Presigner) GeneratePresignedURL(
	ctx context.Context,
	key string,
) (string, error) {
	if !p.isAllowedPath(key) {
		return "", fmt.Errorf(
			"path %q is not within the allowed key prefix", key,
		)
	}

	now := time.Now()

	// Fast path: check cache under read lock.
	p.mu.RLock()
	if entry, ok := p.cache[key]; ok && now.Before(entry.expiresAt) {
		p.mu.RUnlock()

		return entry.url, nil
	}
	p.mu.RUnlock()

	// Slow path: acquire write lock and double-check.
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.cache[key]; ok && now.Before(entry.expiresAt) {
		return entry.url, nil
	}

	result, err := p.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(p.objectKey(key)),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", fmt.Errorf("presigning URL for %q: %w", key, err)
	}

	p.cache[key] = presignCacheEntry{
		url:       result.URL,
		expiresAt: now.Add(p.cacheTTL),
	}

	return result.URL, nil
}

// headObjectResult carries the object metadata the API exposes on HEAD.
type headObjectResult struct {
	ContentType   string
	ContentLength int64
}

// HeadObject returns metadata for the given S3 key without fetching the
// object body.
func (p *s3Presigner) HeadObject(
	ctx context.Context,
	key string,
) (*headObjectResult, error) {
	if !p.isAllowedPath(key) {
		return nil, fmt.Errorf(
			"path %q is not within the allowed key prefix", key,
		)
	}

	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(p.objectKey(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("heading object %q: %w", key, err)
	}

	result := &headObjectResult{ContentType: "application/octet-stream"}

	if out.ContentType != nil {
		result.ContentType = *out.ContentType
	}

	if out.ContentLength != nil {
		result.ContentLength = *out.ContentLength
	}

	return result, nil
}

// objectKey prepends the configured key prefix to a request path.
func (p *s3Presigner) objectKey(key string) string {
	if p.keyPrefix == "" {
		return key
	}

	return p.keyPrefix + "/" + key
}

// isAllowedPath rejects empty, unclean, or traversal request paths.
func (p *s3Presigner) isAllowedPath(key string) bool {
	if key == "" {
		return false
	}

	if strings.Contains(key, "..") {
		return false
	}

	return path.Clean(key) == key
}

// newArtifactS3Client constructs an S3 client from the artifacts config.
func newArtifactS3Client(cfg *config.S3ArtifactsConfig) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
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
		},
	}

	return s3.New(s3.Options{}, opts...)
}
