package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labkit/modhost/internal/app"
)

func parse(t *testing.T, args ...string) (*app.Config, error) {
	t.Helper()
	var got *app.Config
	cmd := NewRootCommand(&bytes.Buffer{}, func(cmd *cobra.Command, cfg *app.Config) error {
		got = cfg
		return nil
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return got, err
}

func TestParseAllFlags(t *testing.T) {
	cfg, err := parse(t,
		"-c", "lab.yml",
		"-b", "/opt/lab",
		"-s", "/data",
		"-d", "nic1", "-d", "laser1",
		"-m", "logic.counterlogic1",
		"-n",
	)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "lab.yml", cfg.ConfigPath)
	assert.Equal(t, "/opt/lab", cfg.BaseDir)
	assert.Equal(t, "/data", cfg.StorageDir)
	assert.Equal(t, []string{"nic1", "laser1"}, cfg.DisabledDevices)
	assert.Equal(t, []string{"logic.counterlogic1"}, cfg.StartModules)
	assert.True(t, cfg.NoAutoStart)
	assert.False(t, cfg.DisableAllDevices)
}

func TestParseDisableAll(t *testing.T) {
	cfg, err := parse(t, "-c", "lab.yml", "-D")
	require.NoError(t, err)
	assert.True(t, cfg.DisableAllDevices)
}

func TestParseConfigName(t *testing.T) {
	cfg, err := parse(t, "-a", "counting", "-b", "/opt/lab")
	require.NoError(t, err)
	assert.Equal(t, "counting", cfg.ConfigName)
	assert.Empty(t, cfg.ConfigPath)
}

func TestParseRejectsMissingConfig(t *testing.T) {
	cfg, err := parse(t)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestParseRejectsConflictingConfig(t *testing.T) {
	_, err := parse(t, "-c", "lab.yml", "-a", "counting")
	assert.Error(t, err)
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	cfg, err := parse(t, "-c", "lab.yml", "--bogus")
	require.Error(t, err)
	assert.Nil(t, cfg)
}
