package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danblack/recur/pkg/analyzer"
	"github.com/danblack/recur/pkg/code"
	"github.com/danblack/recur/pkg/config"
	"github.com/danblack/recur/pkg/ignorefile"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/olekukonko/tablewriter"
)

// scanRow is one file's analysis result for the scan report.
type scanRow struct {
	Path        string
	Functions   int
	Recursive   int
	Recurrences int
}

// cmdScan analyzes every C source file in a project (git-tracked files when
// the project is a git repository, or every file discovered by an
// ignore-aware filesystem walk otherwise) and reports a per-file summary of
// recursive functions and inferred recurrences.
func cmdScan(root string, args []string) error {
	target := root
	jsonOutput := hasFlag(args, "--json")
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			target = arg
			break
		}
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	loader := newGrammarLoaderNoAuto(cfg, nil)
	a := analyzer.New(loader)

	files, err := listCSourceFiles(target)
	if err != nil {
		return fmt.Errorf("enumerating source files: %w", err)
	}

	ctx := context.Background()
	var rows []scanRow
	for _, rel := range files {
		path := filepath.Join(target, rel)
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if code.DetectLanguage(path, content) != "c" {
			continue
		}
		result, err := a.Analyze(ctx, "c", content)
		if err != nil {
			continue
		}
		rows = append(rows, scanRow{
			Path:        rel,
			Functions:   len(result.Summary.Functions),
			Recursive:   countRecursive(result),
			Recurrences: len(result.Summary.Recurrences),
		})
	}

	if len(rows) == 0 {
		fmt.Println("No C source files found.")
		return nil
	}

	if jsonOutput {
		return scanReportJSON(rows)
	}
	return scanReportTable(rows)
}

func countRecursive(result analyzer.ParseResult) int {
	n := 0
	for _, fn := range result.Summary.Functions {
		if fn.IsRecursive {
			n++
		}
	}
	return n
}

// listCSourceFiles returns file paths relative to root. When root is a git
// repository it lists files tracked at HEAD (so build artefacts and
// .gitignore'd generated sources are skipped without a second ignore
// pass); otherwise it falls back to a filesystem walk governed by
// pkg/ignorefile.
func listCSourceFiles(root string) ([]string, error) {
	if files, err := listGitTrackedFiles(root); err == nil {
		return files, nil
	}

	ignore, err := ignorefile.New(root)
	if err != nil {
		ignore = ignorefile.NewFromDefaults()
	}

	var files []string
	shouldSkip := ignore.WalkFunc(root)
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		skip, skipDir := shouldSkip(path, info)
		if skipDir {
			return filepath.SkipDir
		}
		if skip || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}

func listGitTrackedFiles(root string) ([]string, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, err
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}

	var files []string
	err = tree.Files().ForEach(func(f *object.File) error {
		files = append(files, f.Name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func scanReportTable(rows []scanRow) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"FILE", "FUNCTIONS", "RECURSIVE", "RECURRENCES"})
	for _, r := range rows {
		table.Append([]string{
			r.Path,
			fmt.Sprintf("%d", r.Functions),
			fmt.Sprintf("%d", r.Recursive),
			fmt.Sprintf("%d", r.Recurrences),
		})
	}
	table.Render()
	return nil
}

func scanReportJSON(rows []scanRow) error {
	fmt.Print("[")
	for i, r := range rows {
		if i > 0 {
			fmt.Print(",")
		}
		fmt.Printf(`{"path":%q,"functions":%d,"recursive":%d,"recurrences":%d}`,
			r.Path, r.Functions, r.Recursive, r.Recurrences)
	}
	fmt.Println("]")
	return nil
}
