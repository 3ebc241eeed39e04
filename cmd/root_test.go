package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetRootCmd(t *testing.T) {
	cmd := GetRootCmd()
	assert.NotNil(t, cmd)
	assert.Equal(t, "agent", cmd.Use)
}

func TestRootCmdHasExpectedSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Use)
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "fleet-sim")
	assert.Contains(t, names, "shell")
	assert.Contains(t, names, "version")
}

func TestBuildLoggerAcceptsDefaults(t *testing.T) {
	oldLevel, oldFormat, oldOutput := logLevel, logFormat, logOutput
	logLevel, logFormat, logOutput = "info", "text", "stdout"
	defer func() { logLevel, logFormat, logOutput = oldLevel, oldFormat, oldOutput }()

	assert.NoError(t, buildLogger())
}

func TestBuildLoggerRejectsBadLevel(t *testing.T) {
	oldLevel, oldFormat, oldOutput := logLevel, logFormat, logOutput
	logLevel, logFormat, logOutput = "not-a-level", "text", "stdout"
	defer func() { logLevel, logFormat, logOutput = oldLevel, oldFormat, oldOutput }()

	assert.Error(t, buildLogger())
}

func TestLoadConfigFailsWithoutRequiredFields(t *testing.T) {
	oldPath := configPath
	configPath = ""
	defer func() { configPath = oldPath }()

	_, err := loadConfig()
	assert.Error(t, err)
}
