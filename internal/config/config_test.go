package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Service.Host)
	assert.Equal(t, 8421, cfg.Service.Port)
	assert.Equal(t, "su -", cfg.Daemon.SwitchUser)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Sessions)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TETHER_TEST_PASSWORD", "hunter2")

	content := `
service:
  port: 9000
  data_dir: ` + dir + `
daemon:
  read_timeout: 30
  filters: ["password=\\S+"]
sessions:
  - identity: sqlplus
    command: sqlplus -S /nolog
    user: oracle
    error_patterns: ["ORA-\\d+"]
    filters: ["${TETHER_TEST_PASSWORD}"]
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, 30, cfg.Daemon.ReadTimeout)
	assert.Equal(t, []string{`password=\S+`}, cfg.Daemon.Filters)

	s, ok := cfg.Session("sqlplus")
	require.True(t, ok)
	assert.Equal(t, "oracle", s.User)
	assert.Equal(t, []string{`ORA-\d+`}, s.ErrorPatterns)
	assert.Equal(t, []string{"hunter2"}, s.Filters, "environment variables are expanded")

	_, ok = cfg.Session("missing")
	assert.False(t, ok)
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	content := `
[service]
port = 9100

[daemon]
switch_user = "sudo -i -u"

[[sessions]]
identity = "shell"
command = "/bin/sh"
`
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Service.Port)
	assert.Equal(t, "sudo -i -u", cfg.Daemon.SwitchUser)
	require.Len(t, cfg.Sessions, 1)
	assert.Equal(t, "/bin/sh", cfg.Sessions[0].Command)
}

func TestLoad_InvalidSessions(t *testing.T) {
	tests := map[string]string{
		"missing identity": "sessions:\n  - command: sh\n",
		"missing command":  "sessions:\n  - identity: a\n",
		"duplicate":        "sessions:\n  - {identity: a, command: sh}\n  - {identity: a, command: sh}\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service: [unclosed"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.Service.Port = 9999
			cfg.Sessions = []SessionConfig{{Identity: "sh", Command: "/bin/sh"}}
			require.NoError(t, cfg.Save(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 9999, loaded.Service.Port)
			require.Len(t, loaded.Sessions, 1)
			assert.Equal(t, "/bin/sh", loaded.Sessions[0].Command)
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Service.DataDir = t.TempDir()

	assert.Equal(t, "127.0.0.1:8421", cfg.Address())
	assert.Equal(t, filepath.Join(cfg.Service.DataDir, "transcripts"), cfg.TranscriptDir())
	assert.Equal(t, filepath.Join(cfg.Service.DataDir, "tether-service.pid"), cfg.PIDPath())

	require.NoError(t, cfg.EnsureDirectories())
	info, err := os.Stat(cfg.TranscriptDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
