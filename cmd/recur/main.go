// Package main provides the CLI for recur.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danblack/recur/internal/version"
	"github.com/danblack/recur/pkg/config"
	"github.com/danblack/recur/pkg/history"
	"github.com/danblack/recur/pkg/server"
)

func main() {
	if len(os.Args) < 2 {
		// No subcommand given: serve, matching the original implementation's
		// default behaviour of starting the HTTP API.
		if err := cmdServe(findProjectRoot(), nil); err != nil {
			fatal("%v", err)
		}
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	root := findProjectRoot()

	if err := runCommand(cmd, root, args); err != nil {
		fatal("%v", err)
	}
}

func runCommand(cmd, root string, args []string) error {
	switch cmd {
	case "serve":
		return cmdServe(root, args)
	case "scan":
		return cmdScan(root, args)
	case "watch":
		return cmdWatch(root, args)
	case "grammar":
		return cmdGrammarDispatcher(root, args)
	case "mcp":
		return cmdMCP(root, args)
	case "help", "-h", "--help":
		printUsage()
		return nil
	case "version", "-v", "--version":
		return cmdVersion(args)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// cmdServe starts the HTTP API: GET /health, POST /parse, and the history
// surface backed by pkg/history.
func cmdServe(root string, args []string) error {
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if portStr := parseFlagSpaced(args, "--port"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid --port value %q: %w", portStr, err)
		}
		cfg.OverridePort(port)
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}
	hist, err := history.Open(cfg.HistoryDir)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer hist.Close()

	loader := newGrammarLoader(cfg, nil)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := server.NewServer(loader, hist, addr)
	return srv.Start()
}

func cmdVersion(args []string) error {
	for _, arg := range args {
		if arg == "--json" {
			fmt.Println(version.JSON())
			return nil
		}
	}
	fmt.Println(version.String())
	return nil
}

func printUsage() {
	fmt.Printf(`recur %s - infers algorithmic recurrence relations from C source

Usage:
  recur <command> [arguments]

Commands:
  serve      Start the HTTP API (GET /health, POST /parse) [default]
  scan       Scan a project's C sources and report recursive functions per file
  watch      Watch a project for changes and re-analyze on save
  grammar    Manage tree-sitter language grammars (list, install, remove, scan)
  mcp        Start the MCP server (stdio) for editor/agent integration
  version    Show version information

Configuration:
  recur reads layered configuration from built-in defaults, then
  <project>/%s, then RECUR_* environment variables, then CLI flags.

Examples:
  recur serve --port 8080
  recur scan ./src
  recur watch
  recur grammar install c
  recur mcp
`, version.Short(), config.DefaultConfigPath)
}

// findProjectRoot finds the git root directory, or falls back to cwd.
func findProjectRoot() string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err == nil {
		return strings.TrimSpace(string(output))
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, ".recur")); err == nil {
			return dir
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd
		}
		dir = parent
	}
}
