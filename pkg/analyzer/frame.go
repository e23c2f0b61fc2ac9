package analyzer

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// functionFrame is the per-function accumulated walk state. A new
// frame is pushed on entering a function_definition and popped (with
// synthesis, see recurrence.go) on leaving it.
type functionFrame struct {
	name  string
	calls []string

	loopDepth    int
	loopCount    int
	maxLoopDepth int

	sizeParam      string
	sizeParamIndex int // -1 if no qualifying parameter was found

	aliases aliasTable

	isRecursive bool
	selfCallsA  int
	hasDivideB  bool
	divideB     int
	bAmbiguous  bool
	hasDecrease bool
	decreaseC   int
}

func newFunctionFrame(name string) *functionFrame {
	return &functionFrame{
		name:           name,
		calls:          []string{},
		sizeParamIndex: -1,
		aliases:        aliasTable{},
	}
}

// considerDivideB folds a newly observed divisor into the frame's
// running divide-b, keeping the smallest value seen and flagging
// ambiguity on any disagreement — mirrors consider_divide_b.
func (f *functionFrame) considerDivideB(b int) {
	if b <= 1 {
		return
	}
	if !f.hasDivideB {
		f.hasDivideB = true
		f.divideB = b
		return
	}
	if f.divideB != b {
		if b < f.divideB {
			f.divideB = b
		}
		f.bAmbiguous = true
	}
}

// considerDecreaseC folds a newly observed decrement into the frame's
// running decrease-c, keeping the smallest value seen.
func (f *functionFrame) considerDecreaseC(c int) {
	if c <= 0 {
		return
	}
	if !f.hasDecrease || c < f.decreaseC {
		f.decreaseC = c
	}
	f.hasDecrease = true
}

// chooseSizeParam implements choose_size_param: prefer a parameter
// literally named "n"; otherwise the rightmost non-pointer parameter.
// Leaves sizeParam empty / sizeParamIndex at -1 if no parameter
// qualifies.
func chooseSizeParam(funcDef *tree_sitter.Node, content []byte) (string, int) {
	paramList := parameterList(funcDef)
	if paramList == nil {
		return "", -1
	}

	decls := parameterDeclarations(paramList)
	candidate := -1
	for i, pd := range decls {
		ident := firstDescendantOfKind(pd, "identifier")
		if ident == nil {
			continue
		}
		name := nodeText(ident, content)
		if name == "" {
			continue
		}
		if name == "n" {
			return name, i
		}
		if !paramIsPointer(pd, content) {
			candidate = i
		}
	}
	if candidate >= 0 {
		ident := firstDescendantOfKind(decls[candidate], "identifier")
		if ident != nil {
			return nodeText(ident, content), candidate
		}
	}
	return "", -1
}

// parameterList finds the parameter_list under a function_definition's
// declarator, matching get_parameter_list's generic descendant search.
func parameterList(funcDef *tree_sitter.Node) *tree_sitter.Node {
	decl := funcDef.ChildByFieldName("declarator")
	if decl == nil {
		return nil
	}
	return firstDescendantOfKind(decl, "parameter_list")
}

// parameterDeclarations returns the parameter_declaration children of
// a parameter_list, in order.
func parameterDeclarations(paramList *tree_sitter.Node) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	for i := uint(0); i < paramList.ChildCount(); i++ {
		c := paramList.Child(i)
		if c != nil && c.Kind() == "parameter_declaration" {
			out = append(out, c)
		}
	}
	return out
}

// paramIsPointer mirrors param_is_pointer: a pointer_declarator
// descendant is authoritative; otherwise fall back to a raw '*' scan
// of the declaration's source text.
func paramIsPointer(paramDecl *tree_sitter.Node, content []byte) bool {
	if firstDescendantOfKind(paramDecl, "pointer_declarator") != nil {
		return true
	}
	return strings.Contains(nodeText(paramDecl, content), "*")
}

// functionNameFromDefinition mirrors extract_function_name_from_definition.
func functionNameFromDefinition(funcDef *tree_sitter.Node, content []byte) string {
	decl := funcDef.ChildByFieldName("declarator")
	if decl == nil {
		return ""
	}
	ident := firstDescendantOfKind(decl, "identifier")
	return nodeText(ident, content)
}
