package config

import (
	"encoding/json"
	"path/filepath"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, "totenbilder", cfg.Qdrant.Collection)
	assert.Equal(t, "totenbilder/", cfg.S3.Prefix)
	assert.Equal(t, "auto", cfg.S3.Region)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("QDRANT_HOST", "qdrant.internal")
	t.Setenv("QDRANT_API_KEY", "sekrit")
	t.Setenv("S3_BUCKET", "images")
	t.Setenv("S3_SECRET_ACCESS_KEY", "shhh")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, "sekrit", cfg.Qdrant.APIKey.Value())
	assert.Equal(t, "images", cfg.S3.Bucket)
	assert.Equal(t, "shhh", cfg.S3.SecretAccessKey.Value())
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 8080
  public_image_base_url: https://img.example.org
s3:
  bucket: totenbilder
  prefix: bilder/
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://img.example.org", cfg.Server.PublicImageBaseURL)
	assert.Equal(t, "totenbilder", cfg.S3.Bucket)
	assert.Equal(t, "bilder/", cfg.S3.Prefix)
}

func TestEnvToKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SERVER_PORT", "server.port"},
		{"QDRANT_API_KEY", "qdrant.api_key"},
		{"S3_SECRET_ACCESS_KEY", "s3.secret_access_key"},
		{"HOME", "home"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envToKey(tt.in), tt.in)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad server port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: "server port",
		},
		{
			name:    "missing collection",
			mutate:  func(c *Config) { c.Qdrant.Collection = "" },
			wantErr: "collection",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("topsecret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "topsecret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "topsecret")

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
