package compiler

import "github.com/chazu/ocp/vm"

// ---------------------------------------------------------------------------
// AST: patterns, rules and output expressions
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// ---------------------------------------------------------------------------
// Left patterns
// ---------------------------------------------------------------------------

// NodeID addresses a Left node in an Arena.
type NodeID int32

// NoNode is the zero value for an absent node.
const NoNode NodeID = -1

// Unbounded is the upper bound of an open repetition <n,>.
const Unbounded = -1

// LeftKind tags the variant of a Left node.
type LeftKind uint8

const (
	LeftPoint    LeftKind = iota // .
	LeftRange                    // lo-hi
	LeftConstant                 // single unit
	LeftAlias                    // {name}
	LeftSequence                 // a b c
	LeftOr                       // (a | b)
	LeftNot                      // ^(a | b)
	LeftBounded                  // p<from,to>
)

var leftKindNames = [...]string{
	LeftPoint:    "point",
	LeftRange:    "range",
	LeftConstant: "constant",
	LeftAlias:    "alias",
	LeftSequence: "sequence",
	LeftOr:       "or",
	LeftNot:      "not",
	LeftBounded:  "bounded",
}

func (k LeftKind) String() string {
	if int(k) < len(leftKindNames) {
		return leftKindNames[k]
	}
	return "left?"
}

// Left is one pattern node. Which fields are meaningful depends on Kind:
// Lo/Hi for ranges (Lo alone for constants), Name for aliases, Items for
// sequences and alternatives, Items[0] with From/To for repetition and
// Items[0] for negation.
type Left struct {
	Kind     LeftKind
	Lo, Hi   int
	Name     string
	Items    []NodeID
	From, To int
	Pos      Position
}

// Arena owns every Left node of one compilation unit.
type Arena struct {
	nodes []Left
}

// Add stores n and returns its id.
func (a *Arena) Add(n Left) NodeID {
	a.nodes = append(a.nodes, n)
	return NodeID(len(a.nodes) - 1)
}

// Node returns the node with the given id.
func (a *Arena) Node(id NodeID) *Left {
	return &a.nodes[id]
}

// Len returns the number of nodes.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// Point adds a wildcard node.
func (a *Arena) Point(pos Position) NodeID {
	return a.Add(Left{Kind: LeftPoint, Pos: pos})
}

// Constant adds a single-unit node.
func (a *Arena) Constant(v int, pos Position) NodeID {
	return a.Add(Left{Kind: LeftConstant, Lo: v, Hi: v, Pos: pos})
}

// Range adds an inclusive range node. The caller checks lo <= hi.
func (a *Arena) Range(lo, hi int, pos Position) NodeID {
	return a.Add(Left{Kind: LeftRange, Lo: lo, Hi: hi, Pos: pos})
}

// Alias adds a reference to a named alias.
func (a *Arena) Alias(name string, pos Position) NodeID {
	return a.Add(Left{Kind: LeftAlias, Name: name, Pos: pos})
}

// Sequence adds a concatenation of items.
func (a *Arena) Sequence(items []NodeID, pos Position) NodeID {
	return a.Add(Left{Kind: LeftSequence, Items: items, Pos: pos})
}

// Or adds a choice between alternatives, tried in order.
func (a *Arena) Or(alts []NodeID, pos Position) NodeID {
	return a.Add(Left{Kind: LeftOr, Items: alts, Pos: pos})
}

// Not adds the negation of a set of single units.
func (a *Arena) Not(body NodeID, pos Position) NodeID {
	return a.Add(Left{Kind: LeftNot, Items: []NodeID{body}, Pos: pos})
}

// Bounded adds a repetition of body between from and to times.
func (a *Arena) Bounded(body NodeID, from, to int, pos Position) NodeID {
	return a.Add(Left{Kind: LeftBounded, Items: []NodeID{body}, From: from, To: to, Pos: pos})
}

// ---------------------------------------------------------------------------
// Right side
// ---------------------------------------------------------------------------

// RightKind tags an output item.
type RightKind uint8

const (
	RightConst   RightKind = iota // literal unit
	RightCapture                  // \N
	RightLast                     // \$
	RightSlice                    // \(*+front-back)
	RightExpr                     // #(arith)
)

// Right is one item of a rule's output or trailing context.
type Right struct {
	Kind        RightKind
	Value       int // RightConst value, RightCapture index
	Front, Back int // RightSlice
	Expr        *Arith
	Pos         Position
}

// ArithKind tags an arithmetic node.
type ArithKind uint8

const (
	ArithConst ArithKind = iota
	ArithCapture
	ArithLast
	ArithLookup
	ArithBinary
)

// Arith is a node of an output arithmetic expression.
type Arith struct {
	Kind  ArithKind
	Value int           // ArithConst value, ArithCapture index
	Table string        // ArithLookup
	Op    vm.ExprOpcode // ArithBinary
	L, R  *Arith        // ArithBinary operands; L is the index of a lookup
	Pos   Position
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

// StateOpKind says what a rule does to the current state after firing.
type StateOpKind uint8

const (
	StateNone StateOpKind = iota
	StateSwitch
	StatePush
	StatePop
)

// StateOp is a rule's state change. Name is empty for StateNone and
// StatePop.
type StateOp struct {
	Kind StateOpKind
	Name string
	Pos  Position
}

// Rule is one translation rule. State names the state the rule belongs
// to; the empty string means INITIAL.
type Rule struct {
	State    string
	Begin    bool // beg: only at the start of the stream
	End      bool // end: only at the end of the stream
	Left     NodeID
	Output   []Right
	Pushback []Right // trailing context, rescanned before further input
	Next     StateOp
	Pos      Position
}
