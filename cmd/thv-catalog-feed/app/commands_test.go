package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd(nil)

	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"serve", "generate", "register", "deregister", "status", "migrate", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}

	for _, cmd := range []string{"serve", "generate", "register", "deregister", "status"} {
		sub, _, err := root.Find([]string{cmd})
		require.NoError(t, err)
		assert.NotNil(t, sub.Flags().Lookup("config"), "%s has a --config flag", cmd)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
feed:
  publicBaseURL: https://cdn.example.com/feeds
  markets:
    - key: eu
      currency: EUR
catalog:
  type: file
  file:
    path: ./products.json
`), 0o600))

	cmd := &cobra.Command{Use: "test"}
	addConfigFlag(cmd)
	require.NoError(t, cmd.Flags().Set("config", path))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Len(t, cfg.Feed.Markets, 1)

	require.NoError(t, cmd.Flags().Set("config", filepath.Join(dir, "missing.yaml")))
	_, err = loadConfig(cmd)
	require.Error(t, err)
}

func TestPrintJSONRejectsUnsupportedValues(t *testing.T) {
	t.Parallel()

	require.Error(t, printJSON(func() {}))
}

func TestConfirm_Yes(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().BoolP("yes", "y", false, "")
	require.NoError(t, cmd.Flags().Set("yes", "true"))

	ok, err := confirm(cmd, "Continue?")
	require.NoError(t, err)
	assert.True(t, ok)
}
