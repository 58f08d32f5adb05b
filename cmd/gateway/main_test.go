package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunWithNoArgsStartsServer(t *testing.T) {
	original := startServer
	defer func() { startServer = original }()
	called := false
	startServer = func() { called = true }

	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway"}, &stdout, &stderr)

	require.Equal(t, 0, code)
	require.True(t, called, "expected startServer to be invoked when no subcommand is given")
}

func TestRunServeStartsServer(t *testing.T) {
	original := startServer
	defer func() { startServer = original }()
	called := false
	startServer = func() { called = true }

	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway", "serve"}, &stdout, &stderr)

	require.Equal(t, 0, code)
	require.True(t, called)
}

func TestRunHelpPrintsUsage(t *testing.T) {
	original := startServer
	defer func() { startServer = original }()
	startServer = func() {}

	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway", "help"}, &stdout, &stderr)

	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "usage: gateway")
}

func TestRunUnknownCommandReturnsExitCodeTwo(t *testing.T) {
	original := startServer
	defer func() { startServer = original }()
	startServer = func() {}

	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway", "bogus"}, &stdout, &stderr)

	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "unknown command: bogus")
}

func TestRunHealthFailsAgainstUnreachableServer(t *testing.T) {
	t.Setenv("GATEWAY_URL", "http://127.0.0.1:1")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway", "health"}, &stdout, &stderr)

	require.Equal(t, 1, code)
}
