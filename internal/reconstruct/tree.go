package reconstruct

import (
	"github.com/aniasusual/blind/internal/domain"
)

// Tree builds the call tree over all call-category events up to and including
// the current cursor. Nodes link by parent event id; an event whose declared
// parent is absent from the log prefix, or is not a call event, becomes a
// root. The build is a pure function of (log, cursor): rebuilding yields an
// identical root set and edge set.
func (e *Engine) Tree() []*domain.TreeNode {
	var roots []*domain.TreeNode
	nodes := make(map[int64]*domain.TreeNode)

	for i := 0; i <= e.pos; i++ {
		ev, ok := e.log.At(i)
		if !ok {
			break
		}
		if !ev.Category.IsCall() {
			continue
		}
		node := &domain.TreeNode{
			EventID:  ev.EventID,
			Function: ev.Function,
			Class:    ev.Class,
			FileID:   ev.FileID,
			Line:     ev.Line,
			Depth:    ev.Depth,
		}
		nodes[ev.EventID] = node

		if parent, ok := nodes[ev.ParentEventID]; ok && ev.ParentEventID != 0 {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	return roots
}
