package analyzer

import (
	"strconv"
	"strings"
)

// classification is the result of matching an expression (or alias
// value) against the size parameter.
type classification struct {
	hasDivide bool
	divideB   int
	hasDecr   bool
	decrC     int
}

// pow2 mirrors pow2_int from the reference implementation: 1<<k for
// 0<=k<30, else 1 (a shift amount outside that range contributes
// nothing useful, so it degenerates to a no-op divisor).
func pow2(k int) int {
	if k >= 0 && k < 30 {
		return 1 << uint(k)
	}
	return 1
}

// classifyExpr matches an expression's source text against a size
// parameter name, in strict precedence order: division, then
// right-shift, then subtraction. First match wins — an expression
// containing more than one operator is classified by whichever
// appears first in this list, not by its leftmost operator.
func classifyExpr(expr, param string) classification {
	var c classification
	if expr == "" || param == "" {
		return c
	}
	text := strings.TrimSpace(expr)
	text = strings.TrimSuffix(text, ";")
	if !strings.Contains(text, param) {
		return c
	}

	if idx := strings.IndexByte(text, '/'); idx >= 0 {
		if k, ok := parsePosInt(text[idx+1:]); ok && k > 1 {
			c.hasDivide = true
			c.divideB = k
		}
		return c
	}
	if idx := strings.Index(text, ">>"); idx >= 0 {
		if k, ok := parsePosInt(text[idx+2:]); ok && k > 0 {
			c.hasDivide = true
			c.divideB = pow2(k)
		}
		return c
	}
	if idx := strings.IndexByte(text, '-'); idx >= 0 {
		if k, ok := parsePosInt(text[idx+1:]); ok && k > 0 {
			c.hasDecr = true
			c.decrC = k
		}
	}
	return c
}

// parsePosInt parses the leading (optionally space-prefixed) positive
// integer from s, stopping at the first non-digit rune.
func parsePosInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t")
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(s[:i])
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
