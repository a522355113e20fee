package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/cuemby/replcheck/pkg/config"
	"github.com/cuemby/replcheck/pkg/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "replcheck version dev")
	assert.Contains(t, out, "Commit: unknown")
}

func TestFailoverRequiresConfirmation(t *testing.T) {
	noEnv := filepath.Join(t.TempDir(), "missing.env")

	_, err := execute(t, "failover", "--env-file", noEnv, "--config", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestSetupRejectsInvalidConfig(t *testing.T) {
	noEnv := filepath.Join(t.TempDir(), "missing.env")

	_, err := execute(t, "status", "--env-file", noEnv, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestNewControl(t *testing.T) {
	cfg := config.Default()

	ctl, release, err := newControl(cfg)
	require.NoError(t, err)
	defer release()
	assert.IsType(t, &control.CommandControl{}, ctl)

	cfg.Control.Backend = "ssh"
	_, _, err = newControl(cfg)
	assert.EqualError(t, err, `unknown control backend "ssh"`)
}
