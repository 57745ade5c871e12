package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// LambdaConfig holds configuration shared by the Lambda handlers.
type LambdaConfig struct {
	Environment    string
	LogLevel       string
	StoreDriver    string
	DatabaseURL    string
	TriggerDriver  string
	BuilderURL     string
	BuilderToken   string
	ParameterPath  string
	HandlerTimeout time.Duration
	Build          BuildConfig
	Tables         TableConfig
	Reconcile      ReconcileConfig
}

// LoadLambdaConfig reads handler configuration from the environment and, when
// PARAMETER_PATH is set, overlays values published in the SSM parameter registry.
func LoadLambdaConfig(ctx context.Context) (LambdaConfig, error) {
	cfg := LambdaConfig{
		Environment:    GetString("APP_ENV", "production"),
		LogLevel:       GetString("LOG_LEVEL", "info"),
		StoreDriver:    GetString("STORE_DRIVER", StoreDynamo),
		DatabaseURL:    GetString("DATABASE_URL", ""),
		TriggerDriver:  GetString("TRIGGER_DRIVER", TriggerCodeBuild),
		BuilderURL:     GetString("BUILDER_URL", ""),
		BuilderToken:   GetString("BUILDER_AUTH_TOKEN", ""),
		ParameterPath:  strings.TrimSpace(GetString("PARAMETER_PATH", "")),
		HandlerTimeout: GetSeconds("HANDLER_TIMEOUT_SECONDS", 5),
		Build:          loadBuildConfig(),
		Tables:         loadTableConfig(),
		Reconcile:      loadReconcileConfig(),
	}
	if cfg.ParameterPath == "" {
		return cfg, nil
	}
	awsCfg, err := LoadAWS(ctx, cfg.Tables.Region)
	if err != nil {
		return cfg, err
	}
	params, err := FetchParameters(ctx, ssm.NewFromConfig(awsCfg), cfg.ParameterPath)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyParameters(params)
	return cfg, nil
}

// LoadAWS resolves the default AWS credential chain, pinning the region when one is configured.
func LoadAWS(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region = strings.TrimSpace(region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// ApplyParameters maps registry entries (keys relative to the parameter path) onto the config.
// Unknown keys are ignored; empty values never clear an env-provided setting.
func (c *LambdaConfig) ApplyParameters(params map[string]string) {
	assign := func(key string, target *string) {
		if value := strings.TrimSpace(params[key]); value != "" {
			*target = value
		}
	}
	assign("tables/projects/name", &c.Tables.Projects)
	assign("tables/projectDeployments/name", &c.Tables.Deployments)
	assign("tables/projectDeployments/buildJobIndex", &c.Tables.BuildJobIndex)
	assign("tables/users/name", &c.Tables.Users)
	assign("codebuild/project/name", &c.Build.JobDefinition)
	assign("builder/authToken", &c.BuilderToken)
}
