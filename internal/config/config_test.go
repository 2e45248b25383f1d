package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]string

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapBackend) SetString(key, val string) error {
	m[key] = val
	return nil
}

// clearEnv blanks every variable the loader reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		for _, a := range s.aliases {
			t.Setenv(a, "")
		}
	}
}

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(mapBackend{})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 2*time.Second, cfg.Redis.ProbeTimeout)
	assert.Equal(t, time.Hour, cfg.Jobs.ResultTTL)
	assert.Equal(t, 600*time.Second, cfg.Jobs.TimeLimit)
	assert.Equal(t, 540*time.Second, cfg.Jobs.SoftTimeLimit)
	assert.Equal(t, 2, cfg.Jobs.Concurrency)
	assert.Equal(t, "facre:tasks", cfg.Jobs.Queue)
	assert.Equal(t, 4, cfg.Jobs.UploadParallelism)
	assert.Equal(t, "gpt-5", cfg.AI.Model)
	assert.Equal(t, "reinsurance_docs", cfg.Attachments.Folder)
	assert.Empty(t, cfg.Attachments.Bucket)
	assert.Equal(t, []string{"*.{pdf,xlsx,xlsm,htm,html,txt,csv,doc,xls}"}, cfg.Documents.Patterns)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestYAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.yaml", `
server:
  port: 8080
  submit_rate: 0.5
redis:
  url: redis://cache:6379/2
jobs:
  result_ttl: 7200
  time_limit: 5m
documents:
  patterns:
    - "*.pdf"
    - "*.xlsx"
attachments:
  bucket: placements
  path_style: true
ai:
  api_key: from-file
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 0.5, cfg.Server.SubmitRate, 1e-9)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	assert.Equal(t, 2*time.Hour, cfg.Jobs.ResultTTL)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.TimeLimit)
	assert.Equal(t, []string{"*.pdf", "*.xlsx"}, cfg.Documents.Patterns)
	assert.Equal(t, "placements", cfg.Attachments.Bucket)
	assert.True(t, cfg.Attachments.PathStyle)
	assert.Empty(t, cfg.AI.APIKey, "secrets are read from the environment only")
}

func TestTOMLFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.toml", `
[server]
port = 9000

[log]
level = "debug"
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Server.Port)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACRE_SERVER_PORT", "7000")
	t.Setenv("FACRE_AI_API_KEY", "env-key")

	cfg, err := loadWith(mapBackend{"server.port": "8080"})
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "env-key", cfg.AI.APIKey)
}

func TestEnvAliases(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://legacy:6379/0")
	t.Setenv("PORT", "5050")
	t.Setenv("OPENAI_API_KEY", "sk-legacy")
	t.Setenv("CLOUDINARY_API_KEY", "cld-key")

	cfg, err := loadWith(mapBackend{})
	require.NoError(t, err)
	assert.Equal(t, "redis://legacy:6379/0", cfg.Redis.URL)
	assert.Equal(t, 5050, cfg.Server.Port)
	assert.Equal(t, "sk-legacy", cfg.AI.APIKey)
	assert.Equal(t, "cld-key", cfg.Attachments.AccessKeyID)

	t.Setenv("FACRE_REDIS_URL", "redis://primary:6379/0")
	cfg, err = loadWith(mapBackend{})
	require.NoError(t, err)
	assert.Equal(t, "redis://primary:6379/0", cfg.Redis.URL, "FACRE_ variable wins over alias")
}

func TestUnparseableValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACRE_JOBS_CONCURRENCY", "many")

	cfg, err := loadWith(mapBackend{"jobs.time_limit": "soon", "attachments.path_style": "maybe"})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Jobs.Concurrency)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.TimeLimit)
	assert.False(t, cfg.Attachments.PathStyle)
}

func TestParseList_KeepsBraceGroups(t *testing.T) {
	v, err := parse(kList, "*.{pdf,xlsx}, *.txt ,")
	require.NoError(t, err)
	assert.Equal(t, []string{"*.{pdf,xlsx}", "*.txt"}, v)

	_, err = parse(kList, " , ")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := parse(kDuration, "90")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = parse(kDuration, "1h30m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	_, err = parse(kDuration, "-5")
	assert.Error(t, err)
}

func TestSetKey(t *testing.T) {
	b := mapBackend{}

	require.NoError(t, setKeyWith(b, "server.port", "6000"))
	assert.Equal(t, "6000", b["server.port"])

	assert.ErrorContains(t, setKeyWith(b, "server.port", "abc"), "invalid integer")
	assert.ErrorContains(t, setKeyWith(b, "ai.api_key", "x"), "cannot set secret")
	assert.ErrorContains(t, setKeyWith(b, "nope", "x"), "unknown config key")
}

func TestSetKey_WritesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "facre", "config.yaml")

	require.NoError(t, setKeyWith(newFileBackend(path), "jobs.concurrency", "8"))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Jobs.Concurrency)
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.AI.APIKey = "sk-secret"

	found := map[string]KeyInfo{}
	for _, info := range ShowAll(cfg) {
		found[info.Key] = info
	}
	assert.Equal(t, "********", found["ai.api_key"].Value)
	assert.Equal(t, "(unset)", found["server.api_token"].Value)
	assert.Equal(t, "1h0m0s", found["jobs.result_ttl"].Value)
	assert.Equal(t, "5000", found["server.port"].Value)
}

func TestValidKeys_ExcludesSecrets(t *testing.T) {
	keys := ValidKeys()
	assert.Contains(t, keys, "redis.url")
	assert.NotContains(t, keys, "ai.api_key")
	assert.NotContains(t, keys, "attachments.secret_access_key")
}
