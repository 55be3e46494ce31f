package config

import (
	"context"
	"encoding/json/v2"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

func TestSecretRef_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ref     SecretRef
		wantErr bool
	}{
		{"insecure value", SecretRef{InsecureValue: "x"}, false},
		{"env var", SecretRef{EnvVar: "HOME"}, false},
		{"aws with key", SecretRef{AwsSecretArn: "arn:...", Key: "password"}, false},
		{"aws without key", SecretRef{AwsSecretArn: "arn:..."}, true},
		{"empty", SecretRef{}, true},
		{"two sources", SecretRef{InsecureValue: "x", EnvVar: "HOME"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSecretRef_RoundTrip(t *testing.T) {
	ref := SecretRef{AwsSecretArn: "arn:aws:secretsmanager:us-east-1:1:secret:x", Key: "password"}
	data, err := json.Marshal(ref)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded SecretRef
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != ref {
		t.Errorf("expected %+v, got %+v", ref, decoded)
	}
}

type fakeSecretsManager struct {
	values map[string]string
	calls  int
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	value := f.values[*params.SecretId]
	return &secretsmanager.GetSecretValueOutput{SecretString: &value}, nil
}

func TestSecretCache_Get(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]string{
		"arn:secret": `{"password": "pencil", "username": "tom"}`,
	}}
	cache := NewSecretCache(fake)
	ctx := context.Background()

	got, err := cache.Get(ctx, SecretRef{InsecureValue: "plain"})
	if err != nil || got != "plain" {
		t.Errorf("insecure_value: got %q, %v", got, err)
	}

	t.Setenv("PGFRONT_SECRET_TEST", "from-env")
	got, err = cache.Get(ctx, SecretRef{EnvVar: "PGFRONT_SECRET_TEST"})
	if err != nil || got != "from-env" {
		t.Errorf("env_var: got %q, %v", got, err)
	}

	got, err = cache.Get(ctx, SecretRef{AwsSecretArn: "arn:secret", Key: "password"})
	if err != nil || got != "pencil" {
		t.Errorf("aws arn: got %q, %v", got, err)
	}

	// Second fetch for any key of the same secret hits the cache.
	_, err = cache.Get(ctx, SecretRef{AwsSecretArn: "arn:secret", Key: "username"})
	if err != nil {
		t.Fatalf("cached get failed: %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("expected 1 AWS call, got %d", fake.calls)
	}

	_, err = cache.Get(ctx, SecretRef{AwsSecretArn: "arn:secret", Key: "missing"})
	if err == nil {
		t.Error("expected error for missing key")
	}
}
