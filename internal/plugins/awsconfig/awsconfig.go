// Package awsconfig builds SDK configuration for the AWS control-plane
// plugins from a credential bundle.
package awsconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/internal/httpclient"
)

// Load returns an aws.Config for creds. Static keys win over the shared
// profile; with neither, the SDK default chain applies.
func Load(ctx context.Context, creds *credentials.AWS) (aws.Config, error) {
	if creds == nil {
		return aws.Config{}, fmt.Errorf("no AWS credentials supplied")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(creds.Region),
		config.WithHTTPClient(newHTTPClient(httpclient.DefaultConfig())),
		config.WithAppID(httpclient.DefaultConfig().UserAgent),
	}
	if creds.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(creds.Profile))
	}
	if creds.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// newHTTPClient returns the SDK's buildable client carrying the shared
// transport settings. A plain *http.Client cannot take the root CAs the
// SDK adds for AWS_CA_BUNDLE or a profile's ca_bundle.
func newHTTPClient(c httpclient.Config) *awshttp.BuildableClient {
	return awshttp.NewBuildableClient().
		WithTimeout(c.Timeout).
		WithTransportOptions(httpclient.ConfigureTransport)
}

// Partition maps a region to its ARN partition.
func Partition(region string) string {
	switch {
	case strings.HasPrefix(region, "cn-"):
		return "aws-cn"
	case strings.HasPrefix(region, "us-gov-"):
		return "aws-us-gov"
	default:
		return "aws"
	}
}

// ARN formats a resource ARN in region's partition.
func ARN(service, region, account, resource string) string {
	return arn.ARN{
		Partition: Partition(region),
		Service:   service,
		Region:    region,
		AccountID: account,
		Resource:  resource,
	}.String()
}
