package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoaderDefaultsOnly(t *testing.T) {
	cfg, err := NewLoader("").Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.Server.Listen.Address)
	require.Equal(t, 8080, cfg.Server.Listen.Port)
	require.Equal(t, "info", cfg.Server.Logging.Level)
	require.Equal(t, "json", cfg.Server.Logging.Format)
}

func TestLoaderYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pagecache.yaml", `
server:
  listen:
    port: 9090
  cache:
    maxTTL: 5m
basePolicy:
  ttl: 10s
policies:
  Vary30:
    ttl: 30s
    varyQuery: [varyOnThis]
  Tagged20:
    ttl: 20s
    tags: [tag-expire]
routes:
  /public:
    policy: Vary30
`)

	cfg, err := NewLoader("", path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Listen.Port)
	require.Equal(t, "5m", cfg.Server.Cache.MaxTTL)
	require.Equal(t, "10s", cfg.BasePolicy.TTL)
	require.Equal(t, []string{"varyOnThis"}, cfg.Policies["Vary30"].VaryQuery)
	require.Equal(t, []string{"tag-expire"}, cfg.Policies["Tagged20"].Tags)
	require.Equal(t, "Vary30", cfg.Routes["/public"].Policy)
}

func TestLoaderJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pagecache.json", `{
  "server": {"listen": {"port": 9191}},
  "basePolicy": {"ttl": "15s"}
}`)

	cfg, err := NewLoader("", path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Listen.Port)
	require.Equal(t, "15s", cfg.BasePolicy.TTL)
}

func TestLoaderTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pagecache.toml", `
[server.listen]
port = 9292
`)

	cfg, err := NewLoader("", path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 9292, cfg.Server.Listen.Port)
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pagecache.yaml", `
server:
  listen:
    port: 9090
`)
	t.Setenv("PAGECACHE_SERVER__LISTEN__PORT", "7070")
	t.Setenv("PAGECACHE_SERVER__CACHE__MAXTTL", "1m")
	t.Setenv("PAGECACHE_BASEPOLICY__TTL", "20s")

	cfg, err := NewLoader("PAGECACHE", path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Listen.Port)
	require.Equal(t, "1m", cfg.Server.Cache.MaxTTL)
	require.Equal(t, "20s", cfg.BasePolicy.TTL)
}

func TestLoaderEnvOverridesLowercasePolicyName(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pagecache.yaml", `
policies:
  reports:
    ttl: 30s
`)
	t.Setenv("PAGECACHE_POLICIES__REPORTS__TTL", "45s")

	cfg, err := NewLoader("PAGECACHE", path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "45s", cfg.Policies["reports"].TTL)
}

func TestLoaderEnvMixedCasePolicyNameCreatesSeparateBranch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pagecache.yaml", `
policies:
  Reports:
    ttl: 30s
`)
	t.Setenv("PAGECACHE_POLICIES__REPORTS__TTL", "45s")

	cfg, err := NewLoader("PAGECACHE", path).Load(context.Background())
	require.NoError(t, err)
	// Env keys are lowercased wholesale, so the override lands beside the
	// mixed-case declaration rather than on top of it.
	require.Equal(t, "30s", cfg.Policies["Reports"].TTL)
	require.Equal(t, "45s", cfg.Policies["reports"].TTL)
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := NewLoader("", filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestLoaderRejectsInvalidSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pagecache.yaml", `
routes:
  /page:
    policy: NoSuchPolicy
`)
	_, err := NewLoader("", path).Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown policy")
}
