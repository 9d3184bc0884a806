// Package aws is the resource directory backed by EC2 and Route53.
package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/smithy-go"
	"github.com/picklr-io/converge/internal/directory"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// Options configure the AWS clients. Empty keys fall back to the SDK's
// default credential chain.
type Options struct {
	Region    string
	AccessKey string
	SecretKey string
}

type Provider struct {
	ec2Client     *ec2.Client
	route53Client *route53.Client
}

var _ directory.Directory = (*Provider)(nil)

// New loads the SDK configuration and builds the service clients. No
// request is made.
func New(ctx context.Context, opts Options) (*Provider, error) {
	region := opts.Region
	if region == "" {
		region = DefaultRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKey != "" || opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewFromConfig(cfg), nil
}

// NewFromConfig builds the service clients from an existing SDK config.
func NewFromConfig(cfg aws.Config) *Provider {
	return &Provider{
		ec2Client:     ec2.NewFromConfig(cfg),
		route53Client: route53.NewFromConfig(cfg),
	}
}

// ErrorCode returns the service error code carried by err, or "".
func ErrorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

func wrap(op string, err error) error {
	if code := ErrorCode(err); code != "" {
		return fmt.Errorf("%s failed (%s): %w", op, code, err)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
