// Package vm implements the OCP virtual machine.
//
// This package contains:
//   - The Program model and its instruction set
//   - Structural validation of programs
//   - The native OCP cell layout, loading and saving
//   - A backtracking interpreter (Cursor) over 1- or 2-byte unit streams
//   - A disassembler for human-readable listings
package vm
