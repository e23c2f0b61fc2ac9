package analyzer

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// walkState threads the collected summary data and the active
// function frame through the recursive descent. Only one frame is
// ever live at a time: C function definitions do not nest.
type walkState struct {
	content []byte

	loops       []LoopEntry
	calls       []string
	functions   []FunctionRecord
	recurrences []RecurrenceTopEntry

	frame *functionFrame
}

// walk is the recursive descent over the CST, mirroring
// traverse_collect's branch structure: function_definition and the
// loop statements handle their own recursion and return immediately;
// assignment/declaration and call nodes fall through to the generic
// descend-all-children branch at the bottom so nested expressions are
// still visited.
func (s *walkState) walk(node *tree_sitter.Node) {
	if node == nil {
		return
	}

	switch node.Kind() {
	case "function_definition":
		s.enterFunction(node)
		for i := uint(0); i < node.ChildCount(); i++ {
			s.walk(node.Child(i))
		}
		s.leaveFunction()
		return

	case "for_statement", "while_statement":
		kind := "while"
		if node.Kind() == "for_statement" {
			kind = "for"
		}
		depth := 1
		if s.frame != nil {
			depth = s.frame.loopDepth + 1
		}
		s.loops = append(s.loops, LoopEntry{Kind: kind, Bound: "n", Depth: depth})
		if s.frame != nil {
			s.frame.loopCount++
			if depth > s.frame.maxLoopDepth {
				s.frame.maxLoopDepth = depth
			}
			s.frame.loopDepth++
		}
		for i := uint(0); i < node.ChildCount(); i++ {
			s.walk(node.Child(i))
		}
		if s.frame != nil {
			s.frame.loopDepth--
		}
		return

	case "assignment_expression", "init_declarator":
		if s.frame != nil && s.frame.sizeParam != "" {
			s.recordAlias(node)
		}

	case "call_expression":
		name := callName(node, s.content)
		if name != "" {
			s.calls = append(s.calls, name)
			if s.frame != nil {
				s.frame.calls = append(s.frame.calls, name)
				if name == s.frame.name {
					s.frame.isRecursive = true
					s.analyzeSelfCall(node)
				}
			}
		}
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		s.walk(node.Child(i))
	}
}

func (s *walkState) enterFunction(node *tree_sitter.Node) {
	name := functionNameFromDefinition(node, s.content)
	f := newFunctionFrame(name)
	f.sizeParam, f.sizeParamIndex = chooseSizeParam(node, s.content)
	s.frame = f
}

// recordAlias mirrors maybe_record_alias's two recognized shapes:
// "identifier = expr" (assignment_expression) and
// "type name = expr" (init_declarator, field name "value").
func (s *walkState) recordAlias(node *tree_sitter.Node) {
	var lhsIdent, rhs *tree_sitter.Node
	switch node.Kind() {
	case "assignment_expression":
		left := node.ChildByFieldName("left")
		right := node.ChildByFieldName("right")
		if left == nil || right == nil {
			return
		}
		lhsIdent = firstDescendantOfKind(left, "identifier")
		rhs = right
	case "init_declarator":
		lhsIdent = firstDescendantOfKind(node, "identifier")
		rhs = node.ChildByFieldName("value")
	}
	if lhsIdent == nil || rhs == nil {
		return
	}
	name := nodeText(lhsIdent, s.content)
	expr := strings.TrimSpace(nodeText(rhs, s.content))
	if name == "" || expr == "" {
		return
	}
	s.frame.aliases.record(name, expr, s.frame.sizeParam)
}

// analyzeSelfCall mirrors analyze_self_call: count the call, then —
// if a size parameter was identified and the call actually passes an
// argument at that index — inspect it either as a direct expression
// or, for a bare identifier argument, via the alias table. A call that
// passes fewer arguments than the size parameter's index yields no
// classification, matching analyze_self_call's argc > size_param_index
// guard.
func (s *walkState) analyzeSelfCall(call *tree_sitter.Node) {
	f := s.frame
	f.selfCallsA++

	if f.sizeParamIndex < 0 || f.sizeParam == "" {
		return
	}

	args := callArguments(call)
	idx := f.sizeParamIndex
	if idx >= len(args) {
		return
	}
	arg := strings.TrimSpace(nodeText(args[idx], s.content))
	if arg == "" {
		return
	}

	c := classifyExpr(arg, f.sizeParam)
	if c.hasDivide && c.divideB > 1 {
		f.considerDivideB(c.divideB)
		return
	}
	if c.hasDecr && c.decrC > 0 {
		f.considerDecreaseC(c.decrC)
		return
	}

	if !isSimpleIdentifier(arg) {
		return
	}
	if entry, ok := f.aliases[arg]; ok {
		switch entry.op {
		case aliasDivide:
			f.considerDivideB(entry.value)
		case aliasDecrease:
			f.considerDecreaseC(entry.value)
		}
	}
}

// callName returns a call_expression's callee text.
func callName(call *tree_sitter.Node, content []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	return nodeText(fn, content)
}

// callArguments returns the named argument expression nodes of a
// call_expression, in order. Using the grammar's own argument_list
// structure (rather than splitting raw text on commas, as the
// reference C implementation does) sidesteps the reference's known
// blind spot for arguments that themselves contain commas.
func callArguments(call *tree_sitter.Node) []*tree_sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	out := make([]*tree_sitter.Node, 0, args.NamedChildCount())
	for i := uint(0); i < args.NamedChildCount(); i++ {
		out = append(out, args.NamedChild(i))
	}
	return out
}

func isSimpleIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
