package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/internal/discovery"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		_ = rootCmd.PersistentFlags().Set("format", "text")
	})
	err := rootCmd.Execute()
	return stdout.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "satori.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestPluginsCommandJSON(t *testing.T) {
	t.Setenv("SATORI_HOST_USERNAME", "root")
	t.Setenv("SATORI_HOST_PASSWORD", "secret")

	out, err := execute(t, "plugins", "-F", "json")
	require.NoError(t, err)

	var infos []plugins.Info
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 6)

	ready := map[string]bool{}
	for _, info := range infos {
		ready[info.Name] = info.Ready
	}
	assert.True(t, ready["ohai-solo"])
	assert.False(t, ready["posh-ohai"])
}

func TestDiscoverUsageError(t *testing.T) {
	_, err := execute(t, "-F", "json", "http://")
	require.Error(t, err)
	assert.True(t, discovery.IsUsageError(err))
}

func TestDiscoverRejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "-F", "xml", "example.com")
	assert.ErrorContains(t, err, "unsupported output format")
}

// Config file tests run last: viper keeps the last explicit config path.

func TestInitConfigEnvironment(t *testing.T) {
	t.Setenv("OS_USERNAME", "demo")
	t.Setenv("OS_PASSWORD", "secret")
	t.Setenv("OS_TENANT_NAME", "demo-project")
	t.Setenv("OS_AUTH_URL", "https://keystone.example.com:5000/v3")
	t.Setenv("OS_REGION_NAME", "RegionOne")
	t.Setenv("SATORI_STEP_TIMEOUT", "15s")
	for _, name := range []string{"AWS_REGION", "AWS_DEFAULT_REGION", "AWS_PROFILE", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"} {
		t.Setenv(name, "")
	}

	cfgFile = writeConfig(t, `
whois:
  requests_per_second: 3
host:
  key_dir: /etc/satori/keys
`)
	t.Cleanup(func() { cfgFile = "" })

	require.NoError(t, initConfig())

	assert.Equal(t, "demo", cfg.OpenStack.Username)
	assert.Equal(t, "demo-project", cfg.OpenStack.TenantName)
	assert.Equal(t, "RegionOne", cfg.OpenStack.Region)
	assert.Equal(t, 15*time.Second, cfg.Discovery.StepTimeout)
	assert.Equal(t, 3.0, cfg.Whois.RequestsPerSecond)
	assert.Equal(t, "/etc/satori/keys", cfg.Host.KeyDir)
	assert.Equal(t, 22, cfg.Host.Port, "defaults survive")

	bundle := credentials.FromConfig(cfg)
	require.NotNil(t, bundle.OpenStack)
	assert.NoError(t, bundle.Validate())
	assert.Nil(t, bundle.SSH)
}

func TestInitConfigMissingFile(t *testing.T) {
	cfgFile = filepath.Join(t.TempDir(), "absent.yaml")
	t.Cleanup(func() { cfgFile = "" })

	assert.Error(t, initConfig())
}
