package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SecretPrefix marks a config value that lives in SSM Parameter Store,
// e.g. "ssm:/hkbot/prod/whatsapp-token".
const SecretPrefix = "ssm:"

// ParamGetter resolves a parameter name to its value.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ssmAPI is the part of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMParams reads decrypted parameters from AWS SSM.
type SSMParams struct {
	api ssmAPI
}

func NewSSMParams(api ssmAPI) (*SSMParams, error) {
	if api == nil {
		return nil, errors.New("ssm: api must not be nil")
	}
	return &SSMParams{api: api}, nil
}

// NewSSMParamsFromEnv builds a client from the default AWS credential chain.
func NewSSMParamsFromEnv(ctx context.Context, region string) (*SSMParams, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSSMParams(ssm.NewFromConfig(awsCfg))
}

func (p *SSMParams) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("ssm: parameter name is required")
	}
	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("ssm: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// secretFields lists the values that may hold ssm: references.
func secretFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"whatsapp.accessToken": &cfg.WhatsApp.AccessToken,
		"whatsapp.verifyToken": &cfg.WhatsApp.VerifyToken,
		"whatsapp.appSecret":   &cfg.WhatsApp.AppSecret,
		"openai.apiKey":        &cfg.OpenAI.APIKey,
		"store.postgresDSN":    &cfg.Store.PostgresDSN,
	}
}

// HasSecretRefs reports whether any secret field still needs resolving.
func HasSecretRefs(cfg *Config) bool {
	for _, v := range secretFields(cfg) {
		if strings.HasPrefix(*v, SecretPrefix) {
			return true
		}
	}
	return false
}

// ResolveSecrets replaces every ssm: reference in cfg with the parameter value.
func ResolveSecrets(ctx context.Context, cfg *Config, params ParamGetter) error {
	var errs []error
	for path, v := range secretFields(cfg) {
		if !strings.HasPrefix(*v, SecretPrefix) {
			continue
		}
		val, err := params.GetParameter(ctx, strings.TrimPrefix(*v, SecretPrefix))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		*v = val
	}
	return errors.Join(errs...)
}
