//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"analyze", "score", "runs", "cache", "status", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "scout", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestAnalyzeCommand_Flags(t *testing.T) {
	flag := analyzeCmd.Flags().Lookup("roster")
	require.NotNil(t, flag, "analyze command should have --roster flag")

	limit := analyzeCmd.Flags().Lookup("limit")
	require.NotNil(t, limit, "analyze command should have --limit flag")
	assert.Equal(t, "0", limit.DefValue)

	for _, name := range []string{"offline", "no-cache", "output", "dashboard", "notion", "label"} {
		assert.NotNil(t, analyzeCmd.Flags().Lookup(name), "analyze command should have --%s flag", name)
	}
}

func TestScoreCommand_Flags(t *testing.T) {
	flag := scoreCmd.Flags().Lookup("website")
	require.NotNil(t, flag, "score command should have --website flag")

	for _, name := range []string{"name", "description", "sector", "offline"} {
		assert.NotNil(t, scoreCmd.Flags().Lookup(name), "score command should have --%s flag", name)
	}
}

func TestRunsCommand_HasShowSubcommand(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["show"], "runs command should have a show subcommand")
}

func TestCacheCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range cacheCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["stats"], "cache command should have a stats subcommand")
	assert.True(t, names["purge"], "cache command should have a purge subcommand")
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
