// Package vm implements a segment-addressed script interpreter.
//
// This package contains:
//   - 16-bit tagged addresses (Reg) and the segment manager that owns memory
//   - The selector table and the statically bound SelectorCache
//   - Classes, instances and clones with single-inheritance lookup
//   - Selector dispatch with per-call-site inline caches
//   - The bytecode executor, kernel calls and the tick state machine
//   - Snapshot capture/restore and a reachability collector
package vm
