// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// MasterKeyEnvVar names the environment variable holding the
// base64-encoded 32-byte master key for local deployments.
const MasterKeyEnvVar = "GATEWAY_MASTER_KEY"

// MasterKeyFromEnv loads the master key from GATEWAY_MASTER_KEY.
func MasterKeyFromEnv() ([]byte, error) {
	encoded := os.Getenv(MasterKeyEnvVar)
	if encoded == "" {
		return nil, fmt.Errorf("%s is not set", MasterKeyEnvVar)
	}
	return DecodeMasterKey(encoded)
}

// MasterKeyFromSecretsManager fetches the master key from AWS Secrets
// Manager. The secret string is the base64-encoded key. Production
// deployments use this path so the key never appears in task definitions.
func MasterKeyFromSecretsManager(ctx context.Context, region, secretARN string) ([]byte, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch master key secret: %w", err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("master key secret has no string value")
	}

	return DecodeMasterKey(*out.SecretString)
}

// DecodeMasterKey decodes and validates a base64-encoded master key.
func DecodeMasterKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid base64: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	return key, nil
}
