package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig selects the AWS region and optional endpoint overrides
// (LocalStack, on-premise S3 gateways).
type ClientConfig struct {
	Region      string
	Endpoint    string
	DDBEndpoint string
	// PathStyle forces path-style addressing, required by most S3
	// compatible gateways.
	PathStyle bool
	// AccessKey and SecretKey override the default credential chain when
	// both are set.
	AccessKey string
	SecretKey string
}

// LoadClients builds S3 and DynamoDB clients from the default AWS credential
// chain.
func LoadClients(ctx context.Context, cfg ClientConfig) (*s3.Client, *dynamodb.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	ddbClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DDBEndpoint)
		}
	})
	return s3Client, ddbClient, nil
}
