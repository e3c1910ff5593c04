package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, body string) {
	t.Helper()
	path := filepath.Join(dir, "voicerelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

// chdir switches the process working directory for the duration of the
// test, since viper's "." config path is resolved relative to it.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	writeConfigFile(t, dir, "jwt:\n  secret: test-secret\nupstream_ws_base: wss://provider.example.com/voice\n")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "/ws/voice", cfg.PathPrefix)
	assert.Equal(t, 50, cfg.MaxSessionsPerTenant)
	assert.Equal(t, 1_800_000, cfg.MaxSessionDurationMs)
	assert.Equal(t, 30_000, cfg.HeartbeatIntervalMs)
	assert.Equal(t, 120_000, cfg.InactivityTimeoutMs)
	assert.Equal(t, 1_048_576, cfg.MaxAudioBufferBytes)
	assert.Equal(t, "test-secret", cfg.JWT.Secret)
	assert.Equal(t, "wss://provider.example.com/voice", cfg.UpstreamWSBase)
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	writeConfigFile(t, dir, `
listen_addr: ":9090"
max_sessions_per_tenant: 10
upstream_ws_base: wss://provider.example.com/voice
jwt:
  secret: from-file
postgres:
  conn_string: "postgres://localhost/voicerelay"
otel:
  service_name: voicerelay
  otlp_endpoint: "otel-collector:4317"
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.MaxSessionsPerTenant)
	assert.Equal(t, "from-file", cfg.JWT.Secret)
	assert.Equal(t, "postgres://localhost/voicerelay", cfg.Postgres.ConnString)
	assert.Equal(t, "voicerelay", cfg.OTel.ServiceName)
	assert.Equal(t, "otel-collector:4317", cfg.OTel.OTLPEndpoint)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	writeConfigFile(t, dir, "jwt:\n  secret: from-file\nupstream_ws_base: wss://provider.example.com/voice\n")
	t.Setenv("VOICERELAY_JWT_SECRET", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
}

func TestLoad_MissingConfigFileStillSucceedsViaEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	t.Setenv("VOICERELAY_JWT_SECRET", "from-env")
	t.Setenv("VOICERELAY_UPSTREAM_WS_BASE", "wss://provider.example.com/voice")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, "wss://provider.example.com/voice", cfg.UpstreamWSBase)
}

func TestLoad_ExtraPath(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(other, "voicerelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jwt:\n  secret: from-extra-path\nupstream_ws_base: wss://provider.example.com/voice\n"), 0644))

	cfg, err := Load(other)
	require.NoError(t, err)
	assert.Equal(t, "from-extra-path", cfg.JWT.Secret)
}

func TestLoad_ValidationFailure_MissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	// No jwt.secret and no upstream_ws_base: both required.
	writeConfigFile(t, dir, "listen_addr: \":8080\"\n")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_ValidationFailure_InvalidURL(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	writeConfigFile(t, dir, "jwt:\n  secret: s\nupstream_ws_base: \"not a url\"\n")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_ValidationFailure_ZeroQuota(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	writeConfigFile(t, dir, `
jwt:
  secret: s
upstream_ws_base: wss://provider.example.com/voice
max_sessions_per_tenant: 0
`)

	_, err := Load()
	require.Error(t, err)
}

func TestConfigFileUsed_ReturnsResolvedPath(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeConfigFile(t, dir, "jwt:\n  secret: s\nupstream_ws_base: wss://provider.example.com/voice\n")

	path := ConfigFileUsed()
	require.NotEmpty(t, path)
	assert.Equal(t, "voicerelay.yaml", filepath.Base(path))
}

func TestConfigFileUsed_EmptyWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	assert.Empty(t, ConfigFileUsed())
}
