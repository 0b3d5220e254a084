package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kg-provider dev")
}

func TestSchemaCommandWithFlags(t *testing.T) {
	out, err := run(t, "schema", "--store-url", "file:TestSchemaCommandWithFlags?mode=memory&cache=shared", "--log-level", "error")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestConfigFileIsRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: neo4j\n"), 0o600))

	// neo4j without a uri fails validation before anything is dialled.
	_, err := run(t, "schema", "--config", path)
	require.Error(t, err)
	assert.True(t, kgerr.IsConfigError(err))
}

func TestUnknownTransport(t *testing.T) {
	_, err := run(t, "serve", "--transport", "carrier-pigeon",
		"--store-url", "file:TestUnknownTransport?mode=memory&cache=shared", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}
