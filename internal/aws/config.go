package aws

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

const defaultRegion = "us-east-1"

// Options overrides the SDK defaults. Empty fields fall back to AWS_REGION
// and AWS_ENDPOINT_OVERRIDE.
type Options struct {
	Region           string
	EndpointOverride string
}

// LoadAWSConfig loads the shared SDK configuration. An endpoint override
// points every client at a local emulator such as LocalStack.
func LoadAWSConfig(ctx context.Context, opts Options) (sdkaws.Config, error) {
	region := opts.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = defaultRegion
	}

	endpoint := opts.EndpointOverride
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT_OVERRIDE")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if endpoint != "" {
		cfg.BaseEndpoint = sdkaws.String(endpoint)
		slog.InfoContext(ctx, "aws endpoint override enabled", "endpoint", endpoint)
	}

	return cfg, nil
}
