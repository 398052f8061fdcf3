package cmd

import (
	"fmt"
	"net/http"
	"sync"

	"ghmcp/errs"
	"ghmcp/ghcore"
	"ghmcp/mcp"
	"ghmcp/registry"
	"ghmcp/sideeffect"
	"ghmcp/tools"
	"ghmcp/workspace"

	"github.com/alecthomas/kong"
)

var (
	// Version information - set by version.go
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// CLI represents the command line interface structure using Kong
type CLI struct {
	Debug bool `help:"Enable debug mode."`

	Version VersionCmd `cmd:"" help:"Show version information"`
	MCP     McpCmd     `cmd:"" help:"Start the tool-registry MCP server (workspace/GitHub tools)"`

	cfgOnce sync.Once
	cfg     *ghcore.Config
}

// Config returns the core, env-resolved configuration, loading it once per
// process.
func (cli *CLI) Config() *ghcore.Config {
	cli.cfgOnce.Do(func() {
		cli.cfg = ghcore.Load()
	})
	return cli.cfg
}

// VersionCmd represents the version command structure
type VersionCmd struct{}

// Execute is the main entry point for all commands
func Execute() error {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("ghmcp"),
		kong.Description("MCP server exposing a registry of remote-executable GitHub/workspace tools"),
		kong.Vars{
			"version": fmt.Sprintf("%s (%s, built %s)", appVersion, appCommit, appDate),
		},
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	return ctx.Run(&cli)
}

// Run implements the version command execution
func (v *VersionCmd) Run(cli *CLI) error {
	fmt.Printf("ghmcp version %s\n", appVersion)
	fmt.Printf("commit: %s\n", appCommit)
	fmt.Printf("built at: %s\n", appDate)
	return nil
}

// McpCmd starts the tool-registry MCP server: the core of the spec this
// repository implements.
type McpCmd struct {
	Addr string `help:"HTTP listen address for the tool-registry server." default:":8080"`
}

func (m *McpCmd) Run(cli *CLI) error {
	cfg := cli.Config()
	errs.Configure(cfg.ErrorDebugArgs, cfg.ErrorDebugTruncateChars)

	pool := ghcore.NewPool(cfg)
	engine := workspace.NewEngine(cfg.WorkspaceBaseDir, ghcore.OptionalToken)
	gate := sideeffect.NewGate(cfg.WriteAllowed)
	reg := registry.New(gate, cfg.MaxConcurrency)
	tools.RegisterAll(reg, &tools.Deps{Engine: engine, Pool: pool, Config: cfg})

	if cli.Debug {
		fmt.Printf("DEBUG: Starting tool-registry MCP server on %s (write_allowed=%v)\n", m.Addr, cfg.WriteAllowed)
	}

	srv := mcp.NewRegistryServer(reg, cfg, registry.NoopLogger{})
	return http.ListenAndServe(m.Addr, srv.Handler())
}
