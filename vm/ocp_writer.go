package vm

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
)

// ---------------------------------------------------------------------------
// OCP Format Constants
// ---------------------------------------------------------------------------

// Magic is the first cell of a native OCP file.
var Magic = [4]byte{'O', 'C', 'P', 'v'}

// Format version
// v1: initial cell layout
const FormatVersion uint32 = 1

// CellSize is the width in bytes of every value in the file.
const CellSize = 4

// Header cells: magic, version, total cell count, input arity, output arity.
const headerCells = 5

// ---------------------------------------------------------------------------
// CellWriter: accumulates big-endian cells
// ---------------------------------------------------------------------------

// CellWriter accumulates a program as a sequence of 32-bit big-endian cells.
// It is shared by every dialect that uses cell-based layouts.
type CellWriter struct {
	cells []uint32
}

// NewCellWriter creates an empty cell writer.
func NewCellWriter() *CellWriter {
	return &CellWriter{cells: make([]uint32, 0, 256)}
}

// Put appends one cell.
func (w *CellWriter) Put(v uint32) {
	w.cells = append(w.cells, v)
}

// PutInt appends a non-negative int as one cell.
func (w *CellWriter) PutInt(v int) {
	w.cells = append(w.cells, uint32(v))
}

// Len returns the number of cells written so far.
func (w *CellWriter) Len() int {
	return len(w.cells)
}

// Set overwrites cell i; used to back-patch lengths.
func (w *CellWriter) Set(i int, v uint32) {
	w.cells[i] = v
}

// Cells returns a copy of the cells written so far.
func (w *CellWriter) Cells() []uint32 {
	return append([]uint32(nil), w.cells...)
}

// Bytes returns the cells in big-endian byte order.
func (w *CellWriter) Bytes() []byte {
	out := make([]byte, len(w.cells)*CellSize)
	for i, c := range w.cells {
		binary.BigEndian.PutUint32(out[i*CellSize:], c)
	}
	return out
}

// PutInstruction appends the cell encoding of one instruction: the opcode
// cell followed by its operands.
func (w *CellWriter) PutInstruction(ins *Instruction) {
	w.Put(uint32(ins.Op))
	w.PutOperands(ins)
}

// PutOperands appends only the operand cells of ins.
func (w *CellWriter) PutOperands(ins *Instruction) {
	info := ins.Op.Info()
	switch info.kind {
	case operandsClass:
		w.PutInt(ins.A)
		w.PutInt(len(ins.Ranges))
		for _, r := range ins.Ranges {
			w.PutInt(r.Lo)
			w.PutInt(r.Hi)
		}
	case operandsExpr:
		w.PutInt(len(ins.Expr))
		for _, e := range ins.Expr {
			w.Put(uint32(e.Op))
			w.PutInt(e.Arg)
		}
	default:
		if info.Operands > 0 {
			w.PutInt(ins.A)
		}
		if info.Operands > 1 {
			w.PutInt(ins.B)
		}
	}
}

// ---------------------------------------------------------------------------
// Saving
// ---------------------------------------------------------------------------

// MarshalBinary encodes p in the native OCP layout. The program is validated
// first so that everything written can be loaded back unchanged.
func (p *Program) MarshalBinary() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	w := NewCellWriter()
	w.Put(binary.BigEndian.Uint32(Magic[:]))
	w.Put(FormatVersion)
	w.Put(0) // total cell count, patched below
	w.PutInt(p.InputArity)
	w.PutInt(p.OutputArity)

	w.PutInt(len(p.Tables))
	for _, tab := range p.Tables {
		w.PutInt(len(tab))
		for _, v := range tab {
			w.PutInt(v)
		}
	}

	w.PutInt(len(p.States))
	for _, code := range p.States {
		lenCell := w.Len()
		w.Put(0) // state cell length, patched below
		for i := range code {
			w.PutInstruction(&code[i])
		}
		w.Set(lenCell, uint32(w.Len()-lenCell-1))
	}

	w.Set(2, uint32(w.Len()))
	return w.Bytes(), nil
}

// Save writes p to out in the native OCP layout.
func Save(out io.Writer, p *Program) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return ioError(err, "write program")
	}
	return nil
}

// SaveFile writes p to path. The file is written to a temporary sibling and
// renamed into place, so a failed save never leaves a partial file.
func SaveFile(path string, p *Program) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path through a temporary file in the same
// directory.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return ioError(err, "create temporary file")
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return ioError(err, "write "+path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return ioError(err, "close "+path)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return ioError(err, "chmod "+path)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return ioError(err, "rename into "+path)
	}
	return nil
}
