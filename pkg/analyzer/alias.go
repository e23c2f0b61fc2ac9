package analyzer

// aliasOp identifies which classification produced an alias entry.
// The reference implementation also defines a third kind for bare
// right-shift aliases, but never reaches it in practice: its
// classifier always folds ">>" into an equivalent divisor before an
// alias is recorded, so only two kinds are ever observed here.
type aliasOp int

const (
	aliasDivide aliasOp = iota
	aliasDecrease
)

// aliasEntry is the last-write-wins value recorded for one local
// variable assigned from an expression over the size parameter, e.g.
// "mid = n / 2".
type aliasEntry struct {
	op    aliasOp
	value int
}

// aliasTable is function-scoped: cleared on entering a function frame,
// populated as assignment_expression/init_declarator nodes are walked.
type aliasTable map[string]aliasEntry

// record stores (or overwrites) the alias for name based on how expr
// classifies against param. A non-classifying expression leaves any
// existing entry untouched.
func (t aliasTable) record(name, expr, param string) {
	c := classifyExpr(expr, param)
	switch {
	case c.hasDivide && c.divideB > 1:
		t[name] = aliasEntry{op: aliasDivide, value: c.divideB}
	case c.hasDecr && c.decrC > 0:
		t[name] = aliasEntry{op: aliasDecrease, value: c.decrC}
	}
}
