package query

import (
	"github.com/aniasusual/blind/internal/domain"
)

// EventLookup resolves a call tree node back to its log event so filters can
// inspect it.
type EventLookup func(eventID int64) (*domain.Event, bool)

// VisibleTree projects the full call tree down to the nodes whose events pass
// the filter set. When a node is hidden its children are reattached to the
// nearest visible ancestor, or promoted to roots if no ancestor is visible.
// The input tree is not modified; visible nodes are cloned.
func VisibleTree(roots []*domain.TreeNode, f *FilterSet, lookup EventLookup, files FileResolver, heat HeatSource) []*domain.TreeNode {
	var out []*domain.TreeNode
	for _, root := range roots {
		project(root, nil, &out, f, lookup, files, heat)
	}
	return out
}

// project walks one subtree. visibleParent is the nearest visible ancestor's
// clone, nil when none exists yet.
func project(node *domain.TreeNode, visibleParent *domain.TreeNode, roots *[]*domain.TreeNode,
	f *FilterSet, lookup EventLookup, files FileResolver, heat HeatSource) {

	visible := true
	if f != nil && !f.IsZero() {
		if ev, ok := lookup(node.EventID); ok {
			visible = f.Visible(ev, files, heat)
		}
	}

	if visible {
		clone := &domain.TreeNode{
			EventID:  node.EventID,
			Function: node.Function,
			Class:    node.Class,
			FileID:   node.FileID,
			Line:     node.Line,
			Depth:    node.Depth,
		}
		if visibleParent != nil {
			visibleParent.Children = append(visibleParent.Children, clone)
		} else {
			*roots = append(*roots, clone)
		}
		for _, child := range node.Children {
			project(child, clone, roots, f, lookup, files, heat)
		}
		return
	}

	// Hidden: children bubble up to the nearest visible ancestor.
	for _, child := range node.Children {
		project(child, visibleParent, roots, f, lookup, files, heat)
	}
}
