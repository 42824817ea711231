// Package boot holds the startup wiring shared by both binaries: AWS
// clients, credential resolution, and construction of the pipeline.
package boot

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// Clients holds the AWS SDK clients used by the service.
type Clients struct {
	Config aws.Config
	SSM    *ssm.Client
	S3     *s3.Client
}

// LoadAWS reads the default AWS config chain (env, shared config, instance
// role). It makes no network calls.
func LoadAWS(ctx context.Context) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return &Clients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
		S3:     s3.NewFromConfig(cfg),
	}, nil
}
