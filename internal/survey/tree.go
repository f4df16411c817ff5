package survey

// AreaNode is one physical or organizational area. The tree is at most three
// levels deep: main area, sub-area, sub-sub-area. Per-area data never lives
// on the node itself; it is addressed through the path-keyed stores so the
// tree stays small and serializable.
type AreaNode struct {
	Name             string     `json:"name"`
	SubAreas         []AreaNode `json:"subAreas,omitempty"`
	DetailsCompleted bool       `json:"detailsCompleted,omitempty"`
}

// MaxDepth is the deepest level an area tree may have.
const MaxDepth = 3

// NodeAt resolves a path against the tree. The second return is false when
// any index along the path is out of range.
func NodeAt(tree []AreaNode, p AreaPath) (AreaNode, bool) {
	if p.Main < 0 || p.Main >= len(tree) {
		return AreaNode{}, false
	}
	node := tree[p.Main]
	if p.Sub == nil {
		return node, true
	}
	if *p.Sub < 0 || *p.Sub >= len(node.SubAreas) {
		return AreaNode{}, false
	}
	node = node.SubAreas[*p.Sub]
	if p.SS == nil {
		return node, true
	}
	if *p.SS < 0 || *p.SS >= len(node.SubAreas) {
		return AreaNode{}, false
	}
	return node.SubAreas[*p.SS], true
}

// AddArea appends a new area. A nil parent adds a main area; a depth-1 parent
// adds a sub-area; a depth-2 parent adds a sub-sub-area. Adding below a
// sub-sub-area, or below a parent that does not resolve, is a no-op and
// returns the input tree with ok=false.
func AddArea(tree []AreaNode, parent *AreaPath, name string) ([]AreaNode, bool) {
	if parent == nil {
		next := make([]AreaNode, len(tree), len(tree)+1)
		copy(next, tree)
		return append(next, AreaNode{Name: name}), true
	}
	if parent.Depth() >= MaxDepth {
		return tree, false
	}
	if _, ok := NodeAt(tree, *parent); !ok {
		return tree, false
	}
	return rewriteNode(tree, *parent, func(node AreaNode) AreaNode {
		children := make([]AreaNode, len(node.SubAreas), len(node.SubAreas)+1)
		copy(children, node.SubAreas)
		node.SubAreas = append(children, AreaNode{Name: name})
		return node
	}), true
}

// RenameArea renames the node at p. No-op with ok=false when p does not
// resolve.
func RenameArea(tree []AreaNode, p AreaPath, name string) ([]AreaNode, bool) {
	if _, ok := NodeAt(tree, p); !ok {
		return tree, false
	}
	return rewriteNode(tree, p, func(node AreaNode) AreaNode {
		node.Name = name
		return node
	}), true
}

// RemoveArea deletes the node at p together with all of its descendants.
// Store entries addressed through the removed node become dangling and are
// cleaned up by the next Reconcile pass.
func RemoveArea(tree []AreaNode, p AreaPath) ([]AreaNode, bool) {
	if _, ok := NodeAt(tree, p); !ok {
		return tree, false
	}
	switch p.Depth() {
	case 1:
		return removeAt(tree, p.Main), true
	case 2:
		return rewriteNode(tree, MainPath(p.Main), func(node AreaNode) AreaNode {
			node.SubAreas = removeAt(node.SubAreas, *p.Sub)
			return node
		}), true
	default:
		return rewriteNode(tree, SubPath(p.Main, *p.Sub), func(node AreaNode) AreaNode {
			node.SubAreas = removeAt(node.SubAreas, *p.SS)
			return node
		}), true
	}
}

// MoveArea moves the node at p to position newIndex among its siblings,
// shifting the nodes in between. No-op with ok=false when p does not resolve
// or newIndex is out of range.
func MoveArea(tree []AreaNode, p AreaPath, newIndex int) ([]AreaNode, bool) {
	if _, ok := NodeAt(tree, p); !ok {
		return tree, false
	}
	switch p.Depth() {
	case 1:
		next, ok := moveAt(tree, p.Main, newIndex)
		return orSame(tree, next, ok), ok
	case 2:
		ok := true
		next := rewriteNode(tree, MainPath(p.Main), func(node AreaNode) AreaNode {
			node.SubAreas, ok = moveAt(node.SubAreas, *p.Sub, newIndex)
			return node
		})
		return orSame(tree, next, ok), ok
	default:
		ok := true
		next := rewriteNode(tree, SubPath(p.Main, *p.Sub), func(node AreaNode) AreaNode {
			node.SubAreas, ok = moveAt(node.SubAreas, *p.SS, newIndex)
			return node
		})
		return orSame(tree, next, ok), ok
	}
}

// MarkCompleted marks the node at p details-completed. Only the node and the
// ancestor chain leading to it are fresh values; every sibling subtree keeps
// reference identity with the input so shallow-equality change detection
// works. An unresolvable path returns the input tree unchanged — the area may
// have been deleted while the completion action was in flight.
func MarkCompleted(tree []AreaNode, p AreaPath) []AreaNode {
	if _, ok := NodeAt(tree, p); !ok {
		return tree
	}
	return rewriteNode(tree, p, func(node AreaNode) AreaNode {
		node.DetailsCompleted = true
		return node
	})
}

// ValidPaths enumerates the canonical path strings of every node currently in
// the tree, depth first. This is the key set the Reconciler checks store
// entries against.
func ValidPaths(tree []AreaNode) map[string]struct{} {
	valid := make(map[string]struct{})
	for mainIdx, main := range tree {
		valid[Canonical(MainPath(mainIdx))] = struct{}{}
		for subIdx, sub := range main.SubAreas {
			valid[Canonical(SubPath(mainIdx, subIdx))] = struct{}{}
			for ssIdx := range sub.SubAreas {
				valid[Canonical(SubSubPath(mainIdx, subIdx, ssIdx))] = struct{}{}
			}
		}
	}
	return valid
}

// rewriteNode replaces the node at p with fn(node), copying only the slices
// along the path. Callers must have resolved p first.
func rewriteNode(tree []AreaNode, p AreaPath, fn func(AreaNode) AreaNode) []AreaNode {
	next := make([]AreaNode, len(tree))
	copy(next, tree)
	if p.Sub == nil {
		next[p.Main] = fn(next[p.Main])
		return next
	}
	main := next[p.Main]
	subs := make([]AreaNode, len(main.SubAreas))
	copy(subs, main.SubAreas)
	main.SubAreas = subs
	if p.SS == nil {
		subs[*p.Sub] = fn(subs[*p.Sub])
		next[p.Main] = main
		return next
	}
	sub := subs[*p.Sub]
	ssubs := make([]AreaNode, len(sub.SubAreas))
	copy(ssubs, sub.SubAreas)
	ssubs[*p.SS] = fn(ssubs[*p.SS])
	sub.SubAreas = ssubs
	subs[*p.Sub] = sub
	next[p.Main] = main
	return next
}

func removeAt(nodes []AreaNode, index int) []AreaNode {
	next := make([]AreaNode, 0, len(nodes)-1)
	next = append(next, nodes[:index]...)
	return append(next, nodes[index+1:]...)
}

func moveAt(nodes []AreaNode, from, to int) ([]AreaNode, bool) {
	if to < 0 || to >= len(nodes) {
		return nodes, false
	}
	if from == to {
		return nodes, true
	}
	next := make([]AreaNode, 0, len(nodes))
	next = append(next, nodes...)
	moved := next[from]
	next = append(next[:from], next[from+1:]...)
	next = append(next[:to], append([]AreaNode{moved}, next[to:]...)...)
	return next, true
}

func orSame(original, next []AreaNode, ok bool) []AreaNode {
	if !ok {
		return original
	}
	return next
}
