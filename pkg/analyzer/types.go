// Package analyzer walks a C concrete syntax tree and infers, per
// function, whether its body implements a divide-and-conquer or
// decrease-and-conquer recurrence.
package analyzer

// LoopEntry records one for/while loop encountered anywhere in the
// source, in the order it was entered.
type LoopEntry struct {
	Kind  string `json:"kind"`  // "for" | "while"
	Bound string `json:"bound"` // always "n" — no bound expression analysis
	Depth int    `json:"depth"`
}

// RecurrenceEntry describes the inferred recurrence for one recursive
// function. A and F are always present once a function is recursive;
// Model/B/BAmbiguous/C are only set once a self-call argument actually
// classifies against the size parameter.
type RecurrenceEntry struct {
	A          int    `json:"a"`
	F          string `json:"f"`
	Model      string `json:"model,omitempty"` // "divide" | "decrease"
	B          int    `json:"b,omitempty"`
	BAmbiguous bool   `json:"b_ambiguous,omitempty"`
	C          int    `json:"c,omitempty"`
}

// FunctionRecord is the per-function output of the walk.
type FunctionRecord struct {
	Name           string            `json:"name"`
	IsRecursive    bool              `json:"is_recursive"`
	Calls          []string          `json:"calls"`
	LoopCount      int               `json:"loopCount"`
	MaxLoopDepth   int               `json:"maxLoopDepth"`
	SizeParam      string            `json:"sizeParam,omitempty"`
	SizeParamIndex *int              `json:"sizeParamIndex,omitempty"`
	Recurrence     *RecurrenceEntry  `json:"recurrence,omitempty"`
}

// RecurrenceTopEntry mirrors RecurrenceEntry plus the owning function
// name, collected into ParseResult.Summary.Recurrences in source order.
type RecurrenceTopEntry struct {
	Function   string `json:"function"`
	A          int    `json:"a"`
	F          string `json:"f"`
	Model      string `json:"model,omitempty"`
	B          int    `json:"b,omitempty"`
	BAmbiguous bool   `json:"b_ambiguous,omitempty"`
	C          int    `json:"c,omitempty"`
}

// RecurrenceBrief is a convenience field set only when exactly one
// top-level recurrence is a divide recurrence with b > 1.
type RecurrenceBrief struct {
	A int    `json:"a"`
	B int    `json:"b"`
	F string `json:"f"`
}

// ASTInfo carries just enough tree metadata to be useful to a caller
// without exposing the underlying tree-sitter types.
type ASTInfo struct {
	Language string `json:"language"`
	RootType string `json:"rootType"`
}

// Summary aggregates everything found across the whole source file.
type Summary struct {
	Loops       []LoopEntry           `json:"loops"`
	Calls       []string              `json:"calls"`
	Functions   []FunctionRecord      `json:"functions"`
	Recurrences []RecurrenceTopEntry  `json:"recurrences"`
	Recurrence  *RecurrenceBrief      `json:"recurrence,omitempty"`
}

// ParseResult is the full response of analyzing one source file.
type ParseResult struct {
	AST     ASTInfo `json:"ast"`
	Summary Summary `json:"summary"`
}

// emptyResult returns the zero-value result for unknown/empty input —
// not an error, per the service's taxonomy.
func emptyResult(language string) ParseResult {
	if language == "" {
		language = "unknown"
	}
	return ParseResult{
		AST: ASTInfo{Language: language, RootType: "unknown"},
		Summary: Summary{
			Loops:       []LoopEntry{},
			Calls:       []string{},
			Functions:   []FunctionRecord{},
			Recurrences: []RecurrenceTopEntry{},
		},
	}
}
