package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/danblack/recur/internal/version"
	"github.com/danblack/recur/pkg/config"
	"github.com/danblack/recur/pkg/grammar"
)

// fatal prints an error message and exits with code 1.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// truncate shortens a string to n characters (runes) with ellipsis.
func truncate(s string, n int) string {
	if n < 4 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

// parseFlag extracts a flag value from args (e.g., "--key=value").
func parseFlag(args []string, prefix string) string {
	for _, arg := range args {
		if strings.HasPrefix(arg, prefix) {
			return strings.TrimPrefix(arg, prefix)
		}
	}
	return ""
}

// hasFlag checks if a flag is present in args.
func hasFlag(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

// parseFlagSpaced extracts a flag's value accepting either the
// "--flag=value" form (via parseFlag) or the original binary's
// space-separated "--flag value" form.
func parseFlagSpaced(args []string, flag string) string {
	if v := parseFlag(args, flag+"="); v != "" {
		return v
	}
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// grammarVersion returns the version tag to use when downloading grammar
// assets. For release builds (e.g. Version="0.0.39") it returns the
// release tag "v0.0.39". For snapshot/dev builds it returns "snapshot".
func grammarVersion() string {
	if version.IsRelease() {
		return "v" + version.Version
	}
	return "snapshot"
}

// newGrammarLoader creates a CompositeLoader configured from the project's
// config.Config and environment. Auto-download follows cfg.AutoDownload;
// the grammar CLI subcommands override this explicitly since they manage
// grammars interactively.
//
// If logger is non-nil it is wired into the loader for grammar
// download/staleness logging. Pass nil to suppress all grammar log output.
func newGrammarLoader(cfg *config.Config, logger *log.Logger) *grammar.CompositeLoader {
	opts := []grammar.CompositeLoaderOption{
		grammar.WithGrammarDir(cfg.GrammarDir),
		grammar.WithVersion(grammarVersion()),
		grammar.WithAutoDownload(cfg.AutoDownload),
	}
	if logger != nil {
		opts = append(opts, grammar.WithLogger(logger))
	}
	if cfg.GrammarURL != "" {
		opts = append(opts, grammar.WithBaseURL(cfg.GrammarURL))
	}
	return grammar.NewCompositeLoader(opts...)
}

// newGrammarLoaderNoAuto creates a CompositeLoader with auto-download
// disabled, regardless of cfg.AutoDownload. Used by grammar CLI
// subcommands that manage grammars explicitly.
func newGrammarLoaderNoAuto(cfg *config.Config, logger *log.Logger) *grammar.CompositeLoader {
	opts := []grammar.CompositeLoaderOption{
		grammar.WithGrammarDir(cfg.GrammarDir),
		grammar.WithAutoDownload(false),
		grammar.WithVersion(grammarVersion()),
	}
	if logger != nil {
		opts = append(opts, grammar.WithLogger(logger))
	}
	if cfg.GrammarURL != "" {
		opts = append(opts, grammar.WithBaseURL(cfg.GrammarURL))
	}
	return grammar.NewCompositeLoader(opts...)
}
