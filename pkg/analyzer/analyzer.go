package analyzer

import (
	"context"
	"fmt"

	"github.com/danblack/recur/pkg/grammar"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// LangC is the only language this analyzer classifies recurrences
// for. Any other language is not parsed at all and yields an empty
// result with no function records — analysis beyond C is a stated
// non-goal.
const LangC = "c"

// Analyzer wraps a grammar.Loader to turn source bytes into a
// ParseResult. It holds no per-request state: a fresh tree_sitter.Parser
// is created for every call, matching the upstream binding's
// single-threaded-per-parser contract (see the concurrency model in
// SPEC_FULL.md).
type Analyzer struct {
	loader grammar.Loader
}

// New creates an Analyzer backed by the given grammar loader.
func New(loader grammar.Loader) *Analyzer {
	return &Analyzer{loader: loader}
}

// Analyze parses content as the given language and, for C, walks the
// resulting tree to infer per-function recurrences. Unsupported
// languages and empty input produce an empty, non-error ParseResult.
func (a *Analyzer) Analyze(ctx context.Context, language string, content []byte) (ParseResult, error) {
	if language == "" || len(content) == 0 {
		return emptyResult(language), nil
	}
	if language != LangC {
		return emptyResult(language), nil
	}

	lang, err := a.loader.Load(ctx, language)
	if err != nil {
		return ParseResult{}, fmt.Errorf("analyzer: load grammar %q: %w", language, err)
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(lang); err != nil {
		return ParseResult{}, fmt.Errorf("analyzer: set language %q: %w", language, err)
	}

	tree := parser.Parse(content, nil)
	if tree == nil {
		return emptyResult(language), nil
	}
	defer tree.Close()

	root := tree.RootNode()
	result := ParseResult{
		AST: ASTInfo{Language: language, RootType: root.Kind()},
	}

	state := &walkState{
		content:     content,
		loops:       []LoopEntry{},
		calls:       []string{},
		functions:   []FunctionRecord{},
		recurrences: []RecurrenceTopEntry{},
	}
	state.walk(root)

	result.Summary = Summary{
		Loops:       state.loops,
		Calls:       state.calls,
		Functions:   state.functions,
		Recurrences: state.recurrences,
	}
	result.Summary.Recurrence = convenienceRecurrence(state.recurrences)

	return result, nil
}

// convenienceRecurrence mirrors parse_code's summary.recurrence: set
// only when exactly one top-level recurrence is a divide recurrence
// with b > 1, copied from that entry.
func convenienceRecurrence(entries []RecurrenceTopEntry) *RecurrenceBrief {
	var found *RecurrenceBrief
	for _, e := range entries {
		if e.Model == "divide" && e.B > 1 {
			if found != nil {
				return nil
			}
			found = &RecurrenceBrief{A: e.A, B: e.B, F: e.F}
		}
	}
	return found
}
