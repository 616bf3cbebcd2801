package aws

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Config controls how the AWS clients are built.
type Config struct {
	Region       string
	MaxAttempts  int
	IncludeRoles bool
}

// Client implements the identity directory, policy store, account identity
// and document store collaborators on top of IAM, STS and S3.
type Client struct {
	iamClient    IAMAPI
	stsClient    STSAPI
	s3Client     S3API
	includeRoles bool
	cache        *Cache
	metrics      *Metrics
}

func NewClient(ctx context.Context, conf Config) (*Client, error) {
	cfg, err := LoadConfig(ctx, conf)
	if err != nil {
		return nil, err
	}

	c := NewFromAPIs(iam.NewFromConfig(cfg), sts.NewFromConfig(cfg), s3.NewFromConfig(cfg))
	c.includeRoles = conf.IncludeRoles
	return c, nil
}

// LoadConfig loads the shared AWS configuration with the standard retryer.
func LoadConfig(ctx context.Context, conf Config) (aws.Config, error) {
	region := resolveRegion(conf.Region)

	opts := []func(*config.LoadOptions) error{
		config.WithRetryMode(aws.RetryModeStandard),
	}
	if conf.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(conf.MaxAttempts))
	}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.Region == "" {
		return aws.Config{}, fmt.Errorf("no AWS region specified. Please set AWS_REGION environment variable or configure region in ~/.aws/config")
	}
	return cfg, nil
}

// NewFromAPIs builds a Client around already constructed service clients.
func NewFromAPIs(iamClient IAMAPI, stsClient STSAPI, s3Client S3API) *Client {
	return &Client{
		iamClient: iamClient,
		stsClient: stsClient,
		s3Client:  s3Client,
		cache:     NewCache(cacheExpiration, maxCacheSize),
		metrics:   NewMetrics(),
	}
}

// resolveRegion prefers the explicit region, then the environment, then the
// region prefix of CLUSTER_NAME (<region>.<cluster>).
func resolveRegion(region string) string {
	if region != "" {
		return region
	}
	if region = os.Getenv("AWS_REGION"); region != "" {
		return region
	}
	if region = os.Getenv("AWS_DEFAULT_REGION"); region != "" {
		return region
	}
	if cluster := os.Getenv("CLUSTER_NAME"); cluster != "" {
		if parts := strings.SplitN(cluster, ".", 2); len(parts) == 2 {
			return parts[0]
		}
	}
	return ""
}

// AccountID returns the account of the caller credentials.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	done := c.track("GetCallerIdentity")
	out, err := c.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	done()
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(out.Account), nil
}

// Put writes body to bucket/key in a single request.
func (c *Client) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	done := c.track("PutObject")
	defer done()

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Stats returns API call and cache counters collected so far.
func (c *Client) Stats() map[string]interface{} {
	stats := c.metrics.GetMetrics()
	for k, v := range c.cache.GetMetrics() {
		stats["cache_"+k] = v
	}
	return stats
}
