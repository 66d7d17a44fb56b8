package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix used for environment overrides, e.g.
// LAB_INGEST_REMOTE_HOST or LAB_INGEST_INGEST_ABORT_IF_MD5_MISMATCH.
const EnvPrefix = "LAB_INGEST"

type Config struct {
	Remote     RemoteConfig     `yaml:"remote"`
	Storage    StorageConfig    `yaml:"storage"`
	Scratch    ScratchConfig    `yaml:"scratch"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
}

type RemoteConfig struct {
	Protocol              string `yaml:"protocol" split_words:"true"` // "sftp" | "local"
	Host                  string `yaml:"host" split_words:"true"`
	Port                  int    `yaml:"port" split_words:"true"`
	Username              string `yaml:"username" split_words:"true"`
	Password              string `yaml:"password" split_words:"true"`
	Root                  string `yaml:"root" split_words:"true"`
	KnownHostsFile        string `yaml:"known_hosts_file" split_words:"true"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key" split_words:"true"`
	ConnectAttempts       int    `yaml:"connect_attempts" split_words:"true"`
}

type StorageConfig struct {
	Root string `yaml:"root" split_words:"true"`
}

type ScratchConfig struct {
	URL             string `yaml:"url" split_words:"true"`
	WriteFileLedger bool   `yaml:"write_file_ledger" split_words:"true"`
}

type IngestConfig struct {
	AllowedExtensions     []string `yaml:"allowed_extensions" split_words:"true"`
	AbortIfMD5Mismatch    bool     `yaml:"abort_if_md5_mismatch" split_words:"true"`
	ChecksumManifestNames []string `yaml:"checksum_manifest_names" split_words:"true"`
	CheckGzip             bool     `yaml:"check_gzip" split_words:"true"`
	RemoveRemoteOnAccept  bool     `yaml:"remove_remote_on_accept" split_words:"true"`
}

type MetadataConfig struct {
	Extension      string `yaml:"extension" split_words:"true"`
	Sheet          string `yaml:"sheet" split_words:"true"`
	HeaderRow      int    `yaml:"header_row" split_words:"true"` // 1-based
	SampleIDColumn string `yaml:"sample_id_column" split_words:"true"`
}

type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Dir     string `yaml:"dir" split_words:"true"`
}

// AuditConfig controls the hash-chained record of batch decisions. Events
// are always kept in Dir; Endpoint additionally receives them over HTTP.
type AuditConfig struct {
	Enabled  bool   `yaml:"enabled" split_words:"true"`
	Dir      string `yaml:"dir" split_words:"true"`
	Endpoint string `yaml:"endpoint" split_words:"true"`
}

type LoggingConfig struct {
	Format string `yaml:"format" split_words:"true"`
	Level  string `yaml:"level" split_words:"true"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Address string `yaml:"address" split_words:"true"`
}

type ScheduleConfig struct {
	Cron string `yaml:"cron" split_words:"true"`
}

// Default returns a configuration with every optional field populated.
func Default() Config {
	return Config{
		Remote: RemoteConfig{
			Protocol:        "sftp",
			Port:            22,
			Root:            ".",
			ConnectAttempts: 3,
		},
		Storage: StorageConfig{
			Root: "./data/batches",
		},
		Scratch: ScratchConfig{
			URL: "./data/tmp_processing",
		},
		Ingest: IngestConfig{
			AllowedExtensions:     []string{".fastq.gz", ".fq.gz", ".fastq", ".xlsx", ".md5", ".txt"},
			AbortIfMD5Mismatch:    false,
			ChecksumManifestNames: []string{"md5sum.txt"},
		},
		Metadata: MetadataConfig{
			Extension:      ".xlsx",
			Sheet:          "METADATA_LAB",
			HeaderRow:      4,
			SampleIDColumn: "Sample ID given for sequencing",
		},
		Checkpoint: CheckpointConfig{
			Dir: "./data/checkpoints",
		},
		Audit: AuditConfig{
			Dir: "./data/audit",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		Schedule: ScheduleConfig{
			Cron: "0 * * * *",
		},
	}
}

// Load reads a YAML config file on top of Default and applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		slog.Info("loading config", "component", "config", "path", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks the fields the pipeline cannot run without.
func (c Config) Validate() error {
	switch c.Remote.Protocol {
	case "sftp":
		if c.Remote.Host == "" {
			return fmt.Errorf("%w: remote.host required for sftp", ErrInvalidConfig)
		}
		if c.Remote.Username == "" {
			return fmt.Errorf("%w: remote.username required for sftp", ErrInvalidConfig)
		}
		if c.Remote.KnownHostsFile == "" && !c.Remote.InsecureIgnoreHostKey {
			return fmt.Errorf("%w: remote.known_hosts_file or remote.insecure_ignore_host_key required", ErrInvalidConfig)
		}
	case "local":
		if c.Remote.Root == "" {
			return fmt.Errorf("%w: remote.root required for local protocol", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown remote.protocol %q", ErrInvalidConfig, c.Remote.Protocol)
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("%w: storage.root required", ErrInvalidConfig)
	}
	if c.Scratch.URL == "" {
		return fmt.Errorf("%w: scratch.url required", ErrInvalidConfig)
	}
	if c.Metadata.HeaderRow < 1 {
		return fmt.Errorf("%w: metadata.header_row must be >= 1", ErrInvalidConfig)
	}
	if c.Metadata.SampleIDColumn == "" {
		return fmt.Errorf("%w: metadata.sample_id_column required", ErrInvalidConfig)
	}
	if c.Checkpoint.Enabled && c.Checkpoint.Dir == "" {
		return fmt.Errorf("%w: checkpoint.dir required when checkpoint is enabled", ErrInvalidConfig)
	}
	if c.Audit.Enabled && c.Audit.Dir == "" {
		return fmt.Errorf("%w: audit.dir required when audit is enabled", ErrInvalidConfig)
	}
	return nil
}
