package compiler

import (
	"os"
	"slices"

	"github.com/chazu/ocp/vm"
	"github.com/cockroachdb/errors"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("ocp.compiler")

// InitialState is the name of state 0, which always exists.
const InitialState = "INITIAL"

// ---------------------------------------------------------------------------
// Compiler: symbol tables and rules of one translation unit
// ---------------------------------------------------------------------------

type table struct {
	name   string
	values []int
}

type alias struct {
	node NodeID
	pos  Position
}

// Compiler collects the declarations and rules of one OTP unit and
// compiles them into a vm.Program. A Compiler compiles exactly once and is
// not safe for concurrent use.
type Compiler struct {
	arena Arena

	inputArity  int
	outputArity int

	stateIDs   map[string]int
	stateNames []string

	tables    []table
	tableSlot map[string]int

	aliases    map[string]alias
	aliasOrder []string

	rules []Rule

	compiled bool
}

// New creates a compiler with only the INITIAL state and 1-byte arities.
func New() *Compiler {
	c := &Compiler{
		inputArity:  1,
		outputArity: 1,
		stateIDs:    make(map[string]int),
		tableSlot:   make(map[string]int),
		aliases:     make(map[string]alias),
	}
	c.stateIDs[InitialState] = 0
	c.stateNames = []string{InitialState}
	return c
}

// Arena returns the node arena patterns are built in.
func (c *Compiler) Arena() *Arena {
	return &c.arena
}

// SetInputArity sets the input unit width in bytes.
func (c *Compiler) SetInputArity(n int) error {
	if err := checkArity("input", n); err != nil {
		return err
	}
	c.inputArity = n
	return nil
}

// SetOutputArity sets the output unit width in bytes.
func (c *Compiler) SetOutputArity(n int) error {
	if err := checkArity("output", n); err != nil {
		return err
	}
	c.outputArity = n
	return nil
}

func checkArity(what string, n int) error {
	switch {
	case n > 2:
		return errorAt(ErrArgumentTooBig, Position{}, "%s arity %d; at most 2 is supported", what, n)
	case n < 1:
		return errorAt(ErrSyntax, Position{}, "%s arity must be 1 or 2, got %d", what, n)
	}
	return nil
}

// InputArity returns the declared input width.
func (c *Compiler) InputArity() int { return c.inputArity }

// OutputArity returns the declared output width.
func (c *Compiler) OutputArity() int { return c.outputArity }

// DeclareState returns the id of the named state, declaring it if needed.
func (c *Compiler) DeclareState(name string) (int, error) {
	if id, ok := c.stateIDs[name]; ok {
		return id, nil
	}
	if c.compiled {
		return 0, errorAt(ErrAlreadyCompiled, Position{}, "cannot declare state %s", name)
	}
	id := len(c.stateNames)
	c.stateIDs[name] = id
	c.stateNames = append(c.stateNames, name)
	return id, nil
}

// StateID looks up a declared state.
func (c *Compiler) StateID(name string) (int, bool) {
	if name == "" {
		return 0, true
	}
	id, ok := c.stateIDs[name]
	return id, ok
}

// States returns the declared state names in id order.
func (c *Compiler) States() []string {
	return slices.Clone(c.stateNames)
}

// DeclareTable adds a named constant table.
func (c *Compiler) DeclareTable(name string, values []int) error {
	if c.compiled {
		return errorAt(ErrAlreadyCompiled, Position{}, "cannot declare table %s", name)
	}
	if _, dup := c.tableSlot[name]; dup {
		return errorAt(ErrDuplicateTable, Position{}, "table %s declared twice", name)
	}
	c.tableSlot[name] = len(c.tables)
	c.tables = append(c.tables, table{name: name, values: slices.Clone(values)})
	return nil
}

// Table returns the values of a declared table.
func (c *Compiler) Table(name string) ([]int, bool) {
	slot, ok := c.tableSlot[name]
	if !ok {
		return nil, false
	}
	return c.tables[slot].values, true
}

// Tables returns the declared table names in slot order.
func (c *Compiler) Tables() []string {
	names := make([]string, len(c.tables))
	for i, t := range c.tables {
		names[i] = t.name
	}
	return names
}

// DeclareAlias names a pattern. Aliases may be referenced before they are
// declared; references are resolved by Compile.
func (c *Compiler) DeclareAlias(name string, pattern NodeID) error {
	if c.compiled {
		return errorAt(ErrAlreadyCompiled, Position{}, "cannot declare alias %s", name)
	}
	if _, dup := c.aliases[name]; dup {
		return errorAt(ErrDuplicateAlias, Position{}, "alias %s declared twice", name)
	}
	c.aliases[name] = alias{node: pattern, pos: c.arena.Node(pattern).Pos}
	c.aliasOrder = append(c.aliasOrder, name)
	return nil
}

// Aliases returns the declared alias names in declaration order.
func (c *Compiler) Aliases() []string {
	return slices.Clone(c.aliasOrder)
}

// AddRule appends a rule. Within a state, rules are tried in the order they
// were added and the first that matches wins.
func (c *Compiler) AddRule(r Rule) error {
	if c.compiled {
		return errorAt(ErrAlreadyCompiled, r.Pos, "cannot add rule")
	}
	c.rules = append(c.rules, r)
	return nil
}

// Rules returns the number of rules added so far.
func (c *Compiler) Rules() int {
	return len(c.rules)
}

// ---------------------------------------------------------------------------
// Compile
// ---------------------------------------------------------------------------

// Compile links, checks and generates code for everything declared so far.
// It either returns a complete, validated program or an error; it may be
// called only once.
func (c *Compiler) Compile() (*vm.Program, error) {
	if c.compiled {
		return nil, errorAt(ErrAlreadyCompiled, Position{}, "Compile called twice")
	}
	c.compiled = true

	l := newLinker(c)
	for _, name := range c.aliasOrder {
		if _, err := l.resolveAlias(name, c.aliases[name].pos); err != nil {
			return nil, err
		}
	}

	g := newGenerator(c)
	linked := make([]Rule, len(c.rules))
	byState := make([][]int, len(c.stateNames))
	for i, r := range c.rules {
		left, err := l.link(r.Left)
		if err != nil {
			return nil, err
		}
		r.Left = left
		if err := g.checkRule(&r); err != nil {
			return nil, err
		}
		linked[i] = r
		id, _ := c.StateID(r.State)
		byState[id] = append(byState[id], i)
	}

	p := &vm.Program{InputArity: c.inputArity, OutputArity: c.outputArity}
	for _, t := range c.tables {
		p.Tables = append(p.Tables, append(make([]int, 0, len(t.values)), t.values...))
	}
	p.States = make([][]vm.Instruction, len(c.stateNames))
	for s, ruleIdx := range byState {
		b := vm.NewInstructionBuilder()
		for _, i := range ruleIdx {
			g.genRule(b, &linked[i])
		}
		b.EmitOp(vm.OpCopyVerbatim)
		p.States[s] = b.Instructions()
	}

	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "generated program is invalid")
	}
	log.Debugf("compiled %d rules into %d states, %d instructions", len(c.rules), len(p.States), p.InstructionCount())
	return p, nil
}

// Compile parses and compiles OTP source.
func Compile(src string) (*vm.Program, error) {
	c, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return c.Compile()
}

// CompileFile reads and compiles an OTP file.
func CompileFile(path string) (*vm.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return Compile(string(src))
}
