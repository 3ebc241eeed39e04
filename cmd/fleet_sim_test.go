package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFleetSimPrintsHistogramWithinBound(t *testing.T) {
	oldPath, oldCount, oldRetry := configPath, fleetCount, fleetRetryCount
	defer func() { configPath, fleetCount, fleetRetryCount = oldPath, oldCount, oldRetry }()

	tmp := t.TempDir() + "/config.yaml"
	writeTestConfig(t, tmp)
	configPath = tmp
	fleetCount = 10000
	fleetRetryCount = 1

	var output bytes.Buffer
	original := cmdOutput
	cmdOutput = &output
	defer func() { cmdOutput = original }()

	err := runFleetSim(fleetSimCmd, nil)
	require.NoError(t, err)
	assert.Contains(t, output.String(), "within_bound=true")
}

func writeTestConfig(t *testing.T, path string) {
	t.Helper()
	content := []byte(`broker_host: broker.example.com
rest_base_url: https://dms.example.com
product_key: test-key
mac_address: aabbccddeeff
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))
}
