package compiler

// ---------------------------------------------------------------------------
// Link pass: inline alias references
// ---------------------------------------------------------------------------

// linker rewrites patterns so that they contain no LeftAlias nodes. Each
// alias body is linked once and then shared by every use site.
type linker struct {
	c        *Compiler
	resolved map[string]NodeID
	visiting map[string]bool
	memo     map[NodeID]NodeID
}

func newLinker(c *Compiler) *linker {
	return &linker{
		c:        c,
		resolved: make(map[string]NodeID),
		visiting: make(map[string]bool),
		memo:     make(map[NodeID]NodeID),
	}
}

// resolveAlias returns the linked body of the named alias. pos is the
// position of the reference, used for diagnostics.
func (l *linker) resolveAlias(name string, pos Position) (NodeID, error) {
	if id, ok := l.resolved[name]; ok {
		return id, nil
	}
	a, ok := l.c.aliases[name]
	if !ok {
		return NoNode, errorAt(ErrUndefinedAlias, pos, "alias {%s} is not declared", name)
	}
	if l.visiting[name] {
		return NoNode, errorAt(ErrCyclicAlias, pos, "alias {%s} refers to itself", name)
	}
	l.visiting[name] = true
	id, err := l.link(a.node)
	delete(l.visiting, name)
	if err != nil {
		return NoNode, err
	}
	l.resolved[name] = id
	return id, nil
}

// link returns an alias-free equivalent of id. Nodes without aliases below
// them are returned unchanged.
func (l *linker) link(id NodeID) (NodeID, error) {
	if out, ok := l.memo[id]; ok {
		return out, nil
	}
	n := l.c.arena.Node(id)
	out := id
	switch n.Kind {
	case LeftAlias:
		target, err := l.resolveAlias(n.Name, n.Pos)
		if err != nil {
			return NoNode, err
		}
		out = target
	case LeftSequence, LeftOr, LeftNot, LeftBounded:
		items := n.Items
		var copied []NodeID
		for i, item := range items {
			linked, err := l.link(item)
			if err != nil {
				return NoNode, err
			}
			if linked != item && copied == nil {
				copied = append(make([]NodeID, 0, len(items)), items[:i]...)
			}
			if copied != nil {
				copied = append(copied, linked)
			}
		}
		if copied != nil {
			// n may be invalidated by Add.
			clone := *l.c.arena.Node(id)
			clone.Items = copied
			out = l.c.arena.Add(clone)
		}
	}
	l.memo[id] = out
	return out, nil
}
