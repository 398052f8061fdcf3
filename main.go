// Command ghmcp is a GitHub-wrapping MCP tool server (with a version command).
package main

import (
	"fmt"
	"os"

	"ghmcp/cmd"
)

func main() {
	cmd.SetVersionInfo(Version, Commit, Date)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
