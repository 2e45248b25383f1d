// Package config loads facre settings from defaults, the config file and
// FACRE_* environment variables, in that order of precedence.
package config

import (
	"os"
	"time"
)

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	Jobs        JobsConfig
	Storage     StorageConfig
	AI          AIConfig
	Attachments AttachmentsConfig
	Documents   DocumentsConfig
	Log         LogConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	APIToken    string
	SubmitRate  float64
	SubmitBurst int
	MaxUploadMB int
}

type RedisConfig struct {
	URL          string
	ProbeTimeout time.Duration
}

// JobsConfig controls execution of analysis jobs in both modes.
type JobsConfig struct {
	ResultTTL         time.Duration
	TimeLimit         time.Duration
	SoftTimeLimit     time.Duration
	Concurrency       int
	Queue             string
	TempDir           string
	UploadParallelism int
}

type StorageConfig struct {
	DataDir string
}

type AIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// AttachmentsConfig locates the S3-compatible attachment store. An empty
// Bucket disables uploads.
type AttachmentsConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	Folder          string
	PathStyle       bool
}

type DocumentsConfig struct {
	Patterns     []string
	FetchTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        5000,
			SubmitRate:  2,
			SubmitBurst: 5,
			MaxUploadMB: 25,
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			ProbeTimeout: 2 * time.Second,
		},
		Jobs: JobsConfig{
			ResultTTL:         time.Hour,
			TimeLimit:         10 * time.Minute,
			SoftTimeLimit:     9 * time.Minute,
			Concurrency:       2,
			Queue:             "facre:tasks",
			TempDir:           os.TempDir(),
			UploadParallelism: 4,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		AI: AIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-5",
			Timeout: 120 * time.Second,
		},
		Attachments: AttachmentsConfig{
			Folder: "reinsurance_docs",
		},
		Documents: DocumentsConfig{
			Patterns:     []string{"*.{pdf,xlsx,xlsm,htm,html,txt,csv,doc,xls}"},
			FetchTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the config file at ConfigFilePath and the
// environment. Environment variables override file values; the legacy
// deployment names (REDIS_URL, PORT, OPENAI_API_KEY, ...) are accepted as
// aliases of the FACRE_* variables.
func Load() (Config, error) {
	return loadWith(newFileBackend(ConfigFilePath()))
}

// LoadFile is Load with an explicit config file.
func LoadFile(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
