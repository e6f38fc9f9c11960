//go:build !integration

package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "geocode", "snapshot", "runs", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "listings-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_RequiredFlags(t *testing.T) {
	for _, name := range []string{"source", "input"} {
		flag := runCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "run command should have --%s flag", name)
		assert.Equal(t, []string{"true"}, flag.Annotations[cobra.BashCompOneRequiredFlag])
	}
	assert.NotNil(t, runCmd.Flags().Lookup("json"))
}

func TestGeocodeCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range geocodeCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"resolve", "refresh", "retry", "seed"} {
		assert.True(t, names[name], "geocode should have subcommand %q", name)
	}
}

func TestGeocodeCommand_Flags(t *testing.T) {
	mode := geocodeResolveCmd.Flags().Lookup("mode")
	require.NotNil(t, mode)
	assert.Equal(t, "full_address", mode.DefValue)

	limit := geocodeRetryCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "100", limit.DefValue)

	assert.NotNil(t, geocodeSeedCmd.Flags().Lookup("dir"))
	assert.NotNil(t, geocodeSeedCmd.Flags().Lookup("pattern"))
}

func TestSnapshotCommand_Flags(t *testing.T) {
	assert.NotNil(t, snapshotShowCmd.Flags().Lookup("active"))
	out := snapshotExportCmd.Flags().Lookup("out")
	require.NotNil(t, out)
	assert.Equal(t, "listings.xlsx", out.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}

	since := runsStatsCmd.Flags().Lookup("since")
	require.NotNil(t, since)
	assert.Equal(t, "24h0m0s", since.DefValue)
	assert.NotNil(t, runsStatsCmd.Flags().Lookup("alert"))
}
