package creds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Combined represents the combined JSON credential model.
//
// Either a ready token or a login identity (email plus firebase uid) may be
// supplied.
type Combined struct {
	Auth struct {
		Email       string `json:"email"`
		FirebaseUID string `json:"firebase_uid"`
		Token       string `json:"token"`
	} `json:"auth"`
}

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ParseCombined parses JSON bytes into Combined.
func ParseCombined(data []byte) (*Combined, error) {
	var c Combined
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if !c.HasToken() && !c.HasLogin() {
		return nil, errors.New("credentials need auth.token or auth.email and auth.firebase_uid")
	}
	return &c, nil
}

// LoadFromFile loads Combined from a local file path.
func LoadFromFile(path string) (*Combined, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCombined(b)
}

// LoadFromSecret loads Combined from Secrets Manager by name or ARN.
func LoadFromSecret(ctx context.Context, secretID string) (*Combined, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return LoadFromSecretWithClient(ctx, secretsmanager.NewFromConfig(cfg), secretID)
}

// LoadFromSecretWithClient loads Combined using the given client.
func LoadFromSecretWithClient(ctx context.Context, sm SecretsAPI, secretID string) (*Combined, error) {
	out, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretID})
	if err != nil {
		return nil, fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret has no string payload")
	}
	return ParseCombined([]byte(*out.SecretString))
}

// HasToken reports whether a bearer token is present.
func (c *Combined) HasToken() bool {
	return c.Auth.Token != ""
}

// HasLogin reports whether a login identity is present.
func (c *Combined) HasLogin() bool {
	return c.Auth.Email != "" && c.Auth.FirebaseUID != ""
}
