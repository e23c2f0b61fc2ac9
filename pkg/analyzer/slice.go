package analyzer

import tree_sitter "github.com/tree-sitter/go-tree-sitter"

// nodeText is the one place in this package that turns a node into a
// source substring — every other component goes through this so the
// byte-range convention (StartByte:EndByte against the original
// content) stays in a single place.
func nodeText(node *tree_sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if end > uint(len(content)) || start > end {
		return ""
	}
	return string(content[start:end])
}

// firstDescendantOfKind returns the first node of the given kind found
// via pre-order search rooted at node (node itself included).
func firstDescendantOfKind(node *tree_sitter.Node, kind string) *tree_sitter.Node {
	if node == nil {
		return nil
	}
	if node.Kind() == kind {
		return node
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		if found := firstDescendantOfKind(node.Child(i), kind); found != nil {
			return found
		}
	}
	return nil
}
