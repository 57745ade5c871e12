package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ParameterAPI is the subset of the SSM client used to read the parameter registry.
type ParameterAPI interface {
	GetParametersByPath(
		ctx context.Context,
		params *ssm.GetParametersByPathInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParametersByPathOutput, error)
}

// FetchParameters returns every parameter below path keyed by its name relative to path.
func FetchParameters(ctx context.Context, api ParameterAPI, path string) (map[string]string, error) {
	prefix := "/" + strings.Trim(path, "/")
	input := &ssm.GetParametersByPathInput{
		Path:           aws.String(prefix),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	}
	out := make(map[string]string)
	for {
		page, err := api.GetParametersByPath(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("read parameters under %s: %w", prefix, err)
		}
		for _, p := range page.Parameters {
			name := strings.TrimPrefix(aws.ToString(p.Name), prefix)
			out[strings.TrimPrefix(name, "/")] = aws.ToString(p.Value)
		}
		if aws.ToString(page.NextToken) == "" {
			return out, nil
		}
		input.NextToken = page.NextToken
	}
}
