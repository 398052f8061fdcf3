package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ghmcp/registry"
	"ghmcp/sideeffect"
	"ghmcp/workspace"
)

const defaultExecTimeout = 120 * time.Second

func registerExec(reg *registry.Registry, deps *Deps) {
	reg.Register(&registry.Tool{
		Name:        "run_command",
		Description: "Run a shell command inside a workspace checkout's ephemeral virtualenv.",
		SideEffect:  sideeffect.LocalMutation,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name":   schemaProp("string", "owner/repo"),
				"ref":         schemaProp("string", "branch, tag, or commit-ish"),
				"command":     {Type: "array", Description: "argv to execute", Items: &registry.Property{Type: "string"}},
				"timeout_sec": {Type: "integer", Description: "kill the command after this many seconds"},
			},
			Required: []string{"full_name", "command"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			command := optStringSlice(args, "command")
			if len(command) == 0 {
				return nil, fmt.Errorf("command must be a non-empty array of strings")
			}
			ref := optString(args, "ref", "")
			timeout := time.Duration(optInt(args, "timeout_sec", int(defaultExecTimeout/time.Second))) * time.Second

			dir, err := deps.cloneOrGet(ctx, fullName, ref, true)
			if err != nil {
				return nil, err
			}
			return runInVenv(ctx, dir, command, timeout)
		},
	})

	reg.Register(&registry.Tool{
		Name:        "run_tests",
		Description: "Run a repo's test command inside its ephemeral virtualenv.",
		SideEffect:  sideeffect.LocalMutation,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name":   schemaProp("string", "owner/repo"),
				"ref":         schemaProp("string", "branch, tag, or commit-ish"),
				"test_command": {Type: "array", Description: "argv of the test runner, defaults to pytest", Items: &registry.Property{Type: "string"}},
				"timeout_sec": {Type: "integer", Description: "kill the test run after this many seconds"},
			},
			Required: []string{"full_name"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			ref := optString(args, "ref", "")
			testCommand := optStringSlice(args, "test_command")
			if len(testCommand) == 0 {
				testCommand = []string{"pytest", "-q"}
			}
			timeout := time.Duration(optInt(args, "timeout_sec", int(defaultExecTimeout/time.Second))) * time.Second

			dir, err := deps.cloneOrGet(ctx, fullName, ref, true)
			if err != nil {
				return nil, err
			}
			return runInVenv(ctx, dir, testCommand, timeout)
		},
	})
}

func runInVenv(ctx context.Context, dir string, command []string, timeout time.Duration) (map[string]any, error) {
	venv, err := workspace.PrepareVenv(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("preparing virtualenv: %w", err)
	}

	res, err := workspace.Run(ctx, command[0], command[1:], workspace.RunOptions{
		Dir:     dir,
		Env:     appendEnv(venv.EnvEntries...),
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", strings.Join(command, " "), err)
	}

	return map[string]any{
		"exit_code":        res.ExitCode,
		"stdout":           res.Stdout,
		"stderr":           res.Stderr,
		"stdout_truncated": res.StdoutTruncated,
		"stderr_truncated": res.StderrTruncated,
		"timed_out":        res.TimedOut,
	}, nil
}
