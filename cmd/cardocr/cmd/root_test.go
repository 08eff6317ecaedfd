package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "cardocr", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommandHelp(t *testing.T) {
	output, err := executeCommand(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, output, "Available Commands:")
	assert.Contains(t, output, "Usage:")
	assert.Contains(t, output, "identity cards")
}

func TestRootCommandVersion(t *testing.T) {
	output, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, output, "cardocr version")
}

func TestRootCommandSubcommands(t *testing.T) {
	names := make([]string, 0)
	for _, sub := range rootCmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "process")
	assert.Contains(t, names, "serve")
}

func TestRootCommandInvalidFlag(t *testing.T) {
	output, err := executeCommand(t, "--definitely-not-a-flag")
	require.Error(t, err)
	assert.Contains(t, output, "unknown flag")
}

func TestProcessCommandRequiresInput(t *testing.T) {
	_, err := executeCommand(t, "process")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input file")
}

func TestProcessCommandRejectsBadThreshold(t *testing.T) {
	_, err := executeCommand(t, "process", "photo.jpg", "--crop-conf", "1.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid crop confidence")
}
