package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/danblack/recur/pkg/analyzer"
	"github.com/danblack/recur/pkg/code"
	"github.com/danblack/recur/pkg/config"
	"github.com/danblack/recur/pkg/history"
)

var watchLog = log.New(os.Stderr, "[recur:watch] ", log.Ltime)

// cmdWatch watches a project for changes to C source files and re-runs the
// recurrence analysis on each change, recording results to the project's
// history store.
func cmdWatch(root string, args []string) error {
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
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
	a := analyzer.New(loader)

	debounce := parseWatchDelay(args)
	watchPaths := watchPathsFromArgs(args)

	watcherConfig := code.WatcherConfig{
		Enabled:       true,
		Paths:         watchPaths,
		DebounceDelay: debounce,
	}

	analyzeFn := func(path string) (int, error) {
		content, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		lang := code.DetectLanguage(path, content)
		if lang != "c" {
			return 0, nil
		}
		result, err := a.Analyze(context.Background(), lang, content)
		if err != nil {
			return 0, err
		}
		if _, err := hist.Record(lang, content, result); err != nil {
			watchLog.Printf("failed to record history for %s: %v", path, err)
		}
		recursive := 0
		for _, fn := range result.Summary.Functions {
			if fn.IsRecursive {
				recursive++
			}
		}
		return recursive, nil
	}

	removeFn := func(path string) error {
		return nil
	}

	watcher, err := code.WatchAndAnalyze(watcherConfig, analyzeFn, removeFn)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Stop()

	if len(watchPaths) > 0 {
		watchLog.Printf("watching %s (debounce: %v)", strings.Join(watchPaths, ", "), debounce)
	} else {
		watchLog.Printf("watching current directory (debounce: %v)", debounce)
	}

	select {}
}

// parseWatchDelay extracts the --delay= flag as a time.Duration, falling
// back to code.DefaultDebounceDelay when absent or unparseable.
func parseWatchDelay(args []string) time.Duration {
	delayStr := parseFlag(args, "--delay=")
	if delayStr == "" {
		return code.DefaultDebounceDelay
	}
	d, err := time.ParseDuration(delayStr)
	if err != nil {
		return code.DefaultDebounceDelay
	}
	return d
}

// watchPathsFromArgs returns the positional (non-flag) arguments, the
// paths to watch.
func watchPathsFromArgs(args []string) []string {
	var paths []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			paths = append(paths, arg)
		}
	}
	return paths
}
