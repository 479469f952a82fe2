package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/friendloc/internal/testutil"
)

func TestParseFlags(t *testing.T) {
	var out bytes.Buffer
	o, err := parseFlags([]string{"-c", "friendloc.yml", "--listen", ":9090", "--db", "x.db", "migrate", "status"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "friendloc.yml", o.configPath)
	assert.Equal(t, ":9090", o.listen)
	assert.Equal(t, "x.db", o.dbPath)
	assert.False(t, o.showVersion)
	assert.Equal(t, []string{"migrate", "status"}, o.args)
}

func TestParseFlags_Unknown(t *testing.T) {
	var out bytes.Buffer
	_, err := parseFlags([]string{"--port", "/dev/tty"}, &out)
	assert.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	cfg, err := loadConfig(&options{listen: ":9999", dbPath: "/tmp/f.db"})
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Listen)
	assert.Equal(t, "/tmp/f.db", cfg.Database.Path)
	assert.Equal(t, "Friends2GIS", cfg.Forward.Source)
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &out))
	assert.True(t, strings.HasPrefix(out.String(), "friendloc "))
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--help"}, &out))
	assert.Contains(t, out.String(), "--config")
}

func TestRun_Migrate(t *testing.T) {
	testutil.QuietLogs(t)
	dbPath := filepath.Join(t.TempDir(), "friendloc.db")

	var out bytes.Buffer
	require.NoError(t, run([]string{"--db", dbPath, "migrate", "up"}, &out))
	assert.Contains(t, out.String(), "All migrations applied")

	out.Reset()
	require.NoError(t, run([]string{"--db", dbPath, "migrate", "status"}, &out))
	assert.Contains(t, out.String(), "Current version: 2")
}

func TestRun_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"frobnicate"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")
}

func TestRun_BadConfig(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run([]string{"--config", "friendloc.toml"}, &out))
}
