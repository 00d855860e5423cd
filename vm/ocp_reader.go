package vm

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// ---------------------------------------------------------------------------
// cellReader: bounds-checked cursor over cells
// ---------------------------------------------------------------------------

type cellReader struct {
	cells  []uint32
	offset int
	end    int // read limit; narrowed while decoding a state
}

func newCellReader(data []byte) (*cellReader, error) {
	if len(data)%CellSize != 0 {
		return nil, corruptf("length %d is not a multiple of %d", len(data), CellSize)
	}
	cells := make([]uint32, len(data)/CellSize)
	for i := range cells {
		cells[i] = binary.BigEndian.Uint32(data[i*CellSize:])
	}
	return &cellReader{cells: cells, end: len(cells)}, nil
}

func (r *cellReader) remaining() int {
	return r.end - r.offset
}

func (r *cellReader) next() (uint32, error) {
	if r.offset >= r.end {
		return 0, corruptf("unexpected end of data at cell %d", r.offset)
	}
	v := r.cells[r.offset]
	r.offset++
	return v, nil
}

func (r *cellReader) nextInt() (int, error) {
	v, err := r.next()
	return int(v), err
}

// count reads a length cell and checks that at least width*n cells follow.
func (r *cellReader) count(what string, width int) (int, error) {
	n, err := r.nextInt()
	if err != nil {
		return 0, err
	}
	if width > 0 && n > r.remaining()/width {
		return 0, corruptf("%s count %d exceeds remaining data", what, n)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// UnmarshalBinary decodes a native OCP. Anything malformed, including
// trailing data, fails with ErrCorruptProgram.
func (p *Program) UnmarshalBinary(data []byte) error {
	loaded, err := LoadBytes(data)
	if err != nil {
		return err
	}
	*p = *loaded
	return nil
}

// Load reads a native OCP from in.
func Load(in io.Reader) (*Program, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, ioError(err, "read program")
	}
	return LoadBytes(data)
}

// LoadFile reads a native OCP from path.
func LoadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioError(err, "read "+path)
	}
	return LoadBytes(data)
}

// LoadBytes decodes a native OCP held in memory.
func LoadBytes(data []byte) (*Program, error) {
	r, err := newCellReader(data)
	if err != nil {
		return nil, err
	}
	if len(r.cells) < headerCells {
		return nil, corruptf("header truncated")
	}

	magic, _ := r.next()
	if magic != binary.BigEndian.Uint32(Magic[:]) {
		return nil, corruptf("bad magic %08x", magic)
	}
	version, _ := r.next()
	if version != FormatVersion {
		return nil, corruptf("format version %d, want %d", version, FormatVersion)
	}
	total, _ := r.nextInt()
	if total != len(r.cells) {
		return nil, corruptf("header declares %d cells, file has %d", total, len(r.cells))
	}

	p := &Program{}
	p.InputArity, _ = r.nextInt()
	p.OutputArity, _ = r.nextInt()

	if err := readTables(r, p); err != nil {
		return nil, err
	}
	if err := readStates(r, p); err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, corruptf("%d trailing cells", r.remaining())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func readTables(r *cellReader, p *Program) error {
	n, err := r.count("table", 1)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	p.Tables = make([][]int, n)
	for t := range p.Tables {
		size, err := r.count("table entry", 1)
		if err != nil {
			return err
		}
		tab := make([]int, size)
		for i := range tab {
			tab[i], _ = r.nextInt()
		}
		p.Tables[t] = tab
	}
	return nil
}

func readStates(r *cellReader, p *Program) error {
	n, err := r.count("state", 1)
	if err != nil {
		return err
	}
	p.States = make([][]Instruction, n)
	for s := range p.States {
		size, err := r.count("state cell", 1)
		if err != nil {
			return err
		}
		limit := r.end
		r.end = r.offset + size
		var code []Instruction
		for r.remaining() > 0 {
			ins, err := readInstruction(r)
			if err != nil {
				return errors.Wrapf(err, "state %d instruction %d", s, len(code))
			}
			code = append(code, ins)
		}
		r.end = limit
		p.States[s] = code
	}
	return nil
}

func readInstruction(r *cellReader) (Instruction, error) {
	opCell, err := r.next()
	if err != nil {
		return Instruction{}, err
	}
	op := Opcode(opCell)
	if opCell > 0xFF || !op.Valid() {
		return Instruction{}, corruptf("unknown opcode %#x", opCell)
	}
	ins := Instruction{Op: op}
	info := op.Info()
	switch info.kind {
	case operandsClass:
		if ins.A, err = r.nextInt(); err != nil {
			return ins, err
		}
		n, err := r.count("class range", 2)
		if err != nil {
			return ins, err
		}
		ins.Ranges = make([]Range, n)
		for i := range ins.Ranges {
			ins.Ranges[i].Lo, _ = r.nextInt()
			ins.Ranges[i].Hi, _ = r.nextInt()
		}
	case operandsExpr:
		n, err := r.count("expression step", 2)
		if err != nil {
			return ins, err
		}
		ins.Expr = make([]ExprOp, n)
		for i := range ins.Expr {
			eop, _ := r.next()
			if eop > 0xFF {
				return ins, corruptf("unknown expression op %#x", eop)
			}
			ins.Expr[i].Op = ExprOpcode(eop)
			ins.Expr[i].Arg, _ = r.nextInt()
		}
	default:
		if info.Operands > 0 {
			if ins.A, err = r.nextInt(); err != nil {
				return ins, err
			}
		}
		if info.Operands > 1 {
			if ins.B, err = r.nextInt(); err != nil {
				return ins, err
			}
		}
	}
	return ins, nil
}
