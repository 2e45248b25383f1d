package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kList
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	case kList:
		return "list"
	default:
		return "string"
	}
}

// keySpec declares one config key. Secrets are read from the environment
// only and never shown or written.
type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "FACRE_SERVER_HOST", aliases: []string{"HOST"},
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "FACRE_SERVER_PORT", aliases: []string{"PORT"},
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "FACRE_API_TOKEN", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "server.submit_rate", typ: kFloat, env: "FACRE_SERVER_SUBMIT_RATE",
		apply:   func(cfg *Config, v any) { cfg.Server.SubmitRate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.SubmitRate },
	},
	{
		key: "server.submit_burst", typ: kInt, env: "FACRE_SERVER_SUBMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.SubmitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.SubmitBurst },
	},
	{
		key: "server.max_upload_mb", typ: kInt, env: "FACRE_SERVER_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxUploadMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxUploadMB },
	},
	{
		key: "redis.url", typ: kString, env: "FACRE_REDIS_URL", aliases: []string{"REDIS_URL"},
		apply:   func(cfg *Config, v any) { cfg.Redis.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.URL },
	},
	{
		key: "redis.probe_timeout", typ: kDuration, env: "FACRE_REDIS_PROBE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Redis.ProbeTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Redis.ProbeTimeout },
	},
	{
		key: "jobs.result_ttl", typ: kDuration, env: "FACRE_JOBS_RESULT_TTL",
		apply:   func(cfg *Config, v any) { cfg.Jobs.ResultTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Jobs.ResultTTL },
	},
	{
		key: "jobs.time_limit", typ: kDuration, env: "FACRE_JOBS_TIME_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Jobs.TimeLimit = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Jobs.TimeLimit },
	},
	{
		key: "jobs.soft_time_limit", typ: kDuration, env: "FACRE_JOBS_SOFT_TIME_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Jobs.SoftTimeLimit = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Jobs.SoftTimeLimit },
	},
	{
		key: "jobs.concurrency", typ: kInt, env: "FACRE_JOBS_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Jobs.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.Concurrency },
	},
	{
		key: "jobs.queue", typ: kString, env: "FACRE_JOBS_QUEUE",
		apply:   func(cfg *Config, v any) { cfg.Jobs.Queue = v.(string) },
		extract: func(cfg Config) any { return cfg.Jobs.Queue },
	},
	{
		key: "jobs.temp_dir", typ: kString, env: "FACRE_JOBS_TEMP_DIR",
		apply:   func(cfg *Config, v any) { cfg.Jobs.TempDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Jobs.TempDir },
	},
	{
		key: "jobs.upload_parallelism", typ: kInt, env: "FACRE_JOBS_UPLOAD_PARALLELISM",
		apply:   func(cfg *Config, v any) { cfg.Jobs.UploadParallelism = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.UploadParallelism },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FACRE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ai.api_key", typ: kString, env: "FACRE_AI_API_KEY", aliases: []string{"OPENAI_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.AI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.APIKey },
	},
	{
		key: "ai.base_url", typ: kString, env: "FACRE_AI_BASE_URL", aliases: []string{"OPENAI_BASE_URL"},
		apply:   func(cfg *Config, v any) { cfg.AI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.BaseURL },
	},
	{
		key: "ai.model", typ: kString, env: "FACRE_AI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.Model },
	},
	{
		key: "ai.timeout", typ: kDuration, env: "FACRE_AI_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.AI.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.AI.Timeout },
	},
	{
		key: "attachments.bucket", typ: kString, env: "FACRE_ATTACHMENTS_BUCKET",
		aliases: []string{"S3_BUCKET", "CLOUDINARY_CLOUD_NAME"},
		apply:   func(cfg *Config, v any) { cfg.Attachments.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Attachments.Bucket },
	},
	{
		key: "attachments.region", typ: kString, env: "FACRE_ATTACHMENTS_REGION", aliases: []string{"AWS_REGION"},
		apply:   func(cfg *Config, v any) { cfg.Attachments.Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Attachments.Region },
	},
	{
		key: "attachments.endpoint", typ: kString, env: "FACRE_ATTACHMENTS_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Attachments.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Attachments.Endpoint },
	},
	{
		key: "attachments.access_key_id", typ: kString, env: "FACRE_ATTACHMENTS_ACCESS_KEY_ID",
		aliases: []string{"AWS_ACCESS_KEY_ID", "CLOUDINARY_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Attachments.AccessKeyID = v.(string) },
		extract: func(cfg Config) any { return cfg.Attachments.AccessKeyID },
	},
	{
		key: "attachments.secret_access_key", typ: kString, env: "FACRE_ATTACHMENTS_SECRET_ACCESS_KEY",
		aliases: []string{"AWS_SECRET_ACCESS_KEY", "CLOUDINARY_API_SECRET"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Attachments.SecretAccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Attachments.SecretAccessKey },
	},
	{
		key: "attachments.public_base_url", typ: kString, env: "FACRE_ATTACHMENTS_PUBLIC_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Attachments.PublicBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Attachments.PublicBaseURL },
	},
	{
		key: "attachments.folder", typ: kString, env: "FACRE_ATTACHMENTS_FOLDER",
		apply:   func(cfg *Config, v any) { cfg.Attachments.Folder = v.(string) },
		extract: func(cfg Config) any { return cfg.Attachments.Folder },
	},
	{
		key: "attachments.path_style", typ: kBool, env: "FACRE_ATTACHMENTS_PATH_STYLE",
		apply:   func(cfg *Config, v any) { cfg.Attachments.PathStyle = v.(bool) },
		extract: func(cfg Config) any { return cfg.Attachments.PathStyle },
	},
	{
		key: "documents.patterns", typ: kList, env: "FACRE_DOCUMENTS_PATTERNS",
		apply:   func(cfg *Config, v any) { cfg.Documents.Patterns = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Documents.Patterns, ",") },
	},
	{
		key: "documents.fetch_timeout", typ: kDuration, env: "FACRE_DOCUMENTS_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Documents.FetchTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Documents.FetchTimeout },
	},
	{
		key: "log.level", typ: kString, env: "FACRE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "FACRE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

// parse converts raw to the Go value for t. Durations accept Go syntax
// ("90s", "1h") or a bare number of seconds.
func parse(t keyType, raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case kBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case kFloat:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case kDuration:
		raw = strings.TrimSpace(raw)
		if secs, err := strconv.Atoi(raw); err == nil {
			if secs < 0 {
				return nil, fmt.Errorf("negative duration %d", secs)
			}
			return time.Duration(secs) * time.Second, nil
		}
		d, err := time.ParseDuration(raw)
		if err == nil && d < 0 {
			return nil, fmt.Errorf("negative duration %s", raw)
		}
		return d, err
	case kList:
		var out []string
		for _, p := range splitList(raw) {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty list")
		}
		return out, nil
	default:
		return raw, nil
	}
}

// splitList splits on commas outside brace groups so "*.{pdf,xlsx}" stays
// one pattern.
func splitList(raw string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range raw {
		switch r {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, raw[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, raw[start:])
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parse(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

// lookupEnv returns the first non-empty value among the key's variable and
// its aliases.
func (s keySpec) lookupEnv() (name, raw string) {
	for _, name := range append([]string{s.env}, s.aliases...) {
		if name == "" {
			continue
		}
		if raw := os.Getenv(name); raw != "" {
			return name, raw
		}
	}
	return "", ""
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := s.lookupEnv()
		if raw == "" {
			continue
		}
		v, err := parse(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
