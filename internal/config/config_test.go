package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
remote:
  protocol: sftp
  host: sftp.example.org
  port: 2222
  username: lab
  password: secret
  root: /incoming
  insecure_ignore_host_key: true
storage:
  root: /srv/batches
scratch:
  url: file:///srv/tmp_processing
ingest:
  allowed_extensions: [".fastq.gz", ".xlsx"]
  abort_if_md5_mismatch: true
metadata:
  header_row: 3
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "sftp.example.org", cfg.Remote.Host)
	assert.Equal(t, 2222, cfg.Remote.Port)
	assert.Equal(t, "/srv/batches", cfg.Storage.Root)
	assert.Equal(t, []string{".fastq.gz", ".xlsx"}, cfg.Ingest.AllowedExtensions)
	assert.True(t, cfg.Ingest.AbortIfMD5Mismatch)
	assert.Equal(t, 3, cfg.Metadata.HeaderRow)

	// untouched sections keep their defaults
	assert.Equal(t, "Sample ID given for sequencing", cfg.Metadata.SampleIDColumn)
	assert.Equal(t, []string{"md5sum.txt"}, cfg.Ingest.ChecksumManifestNames)
	assert.Equal(t, 3, cfg.Remote.ConnectAttempts)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("LAB_INGEST_REMOTE_HOST", "override.example.org")
	t.Setenv("LAB_INGEST_INGEST_ABORT_IF_MD5_MISMATCH", "false")
	t.Setenv("LAB_INGEST_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "override.example.org", cfg.Remote.Host)
	assert.False(t, cfg.Ingest.AbortIfMD5Mismatch)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"local protocol", func(c *Config) { c.Remote.Protocol = "local"; c.Remote.Root = "/data" }, true},
		{"sftp without host", func(c *Config) { c.Remote.Protocol = "sftp" }, false},
		{"sftp without host key policy", func(c *Config) {
			c.Remote.Protocol = "sftp"
			c.Remote.Host = "h"
			c.Remote.Username = "u"
		}, false},
		{"unknown protocol", func(c *Config) { c.Remote.Protocol = "ftp" }, false},
		{"bad header row", func(c *Config) {
			c.Remote.Protocol = "local"
			c.Metadata.HeaderRow = 0
		}, false},
		{"checkpoint without dir", func(c *Config) {
			c.Remote.Protocol = "local"
			c.Checkpoint.Enabled = true
			c.Checkpoint.Dir = ""
		}, false},
		{"audit without dir", func(c *Config) {
			c.Remote.Protocol = "local"
			c.Audit.Enabled = true
			c.Audit.Dir = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}
