package cmd

import (
	"os"
	"testing"

	"github.com/alecthomas/kong"
)

// TestVersionInfo tests the version information setting
func TestVersionInfo(t *testing.T) {
	testVersion := "v1.0.0"
	testCommit := "abc123"
	testDate := "2025-01-01"

	SetVersionInfo(testVersion, testCommit, testDate)

	if appVersion != testVersion {
		t.Errorf("Expected version %s, got %s", testVersion, appVersion)
	}
	if appCommit != testCommit {
		t.Errorf("Expected commit %s, got %s", testCommit, appCommit)
	}
	if appDate != testDate {
		t.Errorf("Expected date %s, got %s", testDate, appDate)
	}
}

// TestVersionCmdRun exercises the version command's Run method directly.
func TestVersionCmdRun(t *testing.T) {
	SetVersionInfo("v9.9.9", "deadbeef", "2026-01-01")
	cli := &CLI{}
	if err := (&VersionCmd{}).Run(cli); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestCLIParsesVersionCommand exercises the Kong grammar for the
// version command; TestCLIParsesMcpCommand below covers mcp.
func TestCLIParsesVersionCommand(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("ghmcp"))
	if err != nil {
		t.Fatalf("failed to build parser: %v", err)
	}

	ctx, err := parser.Parse([]string{"version"})
	if err != nil {
		t.Fatalf("failed to parse args: %v", err)
	}
	if ctx.Command() != "version" {
		t.Fatalf("expected command %q, got %q", "version", ctx.Command())
	}
}

func TestCLIParsesMcpCommand(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("ghmcp"))
	if err != nil {
		t.Fatalf("failed to build parser: %v", err)
	}

	ctx, err := parser.Parse([]string{"mcp", "--addr", ":9090"})
	if err != nil {
		t.Fatalf("failed to parse args: %v", err)
	}
	if ctx.Command() != "mcp" {
		t.Fatalf("expected command %q, got %q", "mcp", ctx.Command())
	}
	if cli.MCP.Addr != ":9090" {
		t.Fatalf("expected addr %q, got %q", ":9090", cli.MCP.Addr)
	}
}

// TestExecuteRunsVersionCommand exercises Execute end to end via os.Args.
func TestExecuteRunsVersionCommand(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"ghmcp", "version"}

	if err := Execute(); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
}

// Note: McpCmd.Run is not exercised here since it blocks on
// http.ListenAndServe; the HTTP surface it wires together has no tests.
