package creds_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stepsync/internal/creds"
)

type fakeSecrets struct {
	values map[string]string
	err    error
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[*in.SecretId]
	if !ok {
		return &secretsmanager.GetSecretValueOutput{}, nil
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: &v}, nil
}

func TestParseCombined(t *testing.T) {
	c, err := creds.ParseCombined([]byte(`{"auth":{"email":"walker@example.com","firebase_uid":"fb-1"}}`))
	require.NoError(t, err)
	assert.True(t, c.HasLogin())
	assert.False(t, c.HasToken())

	c, err = creds.ParseCombined([]byte(`{"auth":{"token":"eyJ..."}}`))
	require.NoError(t, err)
	assert.True(t, c.HasToken())

	_, err = creds.ParseCombined([]byte(`{"auth":{"email":"walker@example.com"}}`))
	assert.Error(t, err)

	_, err = creds.ParseCombined([]byte(`not json`))
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"auth":{"token":"abc"}}`), 0600))

	c, err := creds.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", c.Auth.Token)

	_, err = creds.LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadFromSecretWithClient(t *testing.T) {
	sm := &fakeSecrets{values: map[string]string{
		"stepsync/walker": `{"auth":{"email":"walker@example.com","firebase_uid":"fb-1"}}`,
	}}

	c, err := creds.LoadFromSecretWithClient(context.Background(), sm, "stepsync/walker")
	require.NoError(t, err)
	assert.Equal(t, "fb-1", c.Auth.FirebaseUID)

	_, err = creds.LoadFromSecretWithClient(context.Background(), sm, "stepsync/binary")
	assert.ErrorContains(t, err, "no string payload")

	sm.err = errors.New("access denied")
	_, err = creds.LoadFromSecretWithClient(context.Background(), sm, "stepsync/walker")
	assert.ErrorContains(t, err, "access denied")
}
