// Package amberjit is a tracing/method JIT engine for a small
// Ruby-like dynamically-typed language: tagged values, a 16-byte
// bytecode IR, an x86-64 code generator with inline caching and
// type-speculative float unboxing, and a Go-level interpreter fallback
// satisfying the same calling contract as compiled code.
//
// Engine is the embedding entry point: it owns the process-wide
// runtime state (internal/runtime), the executable-memory arena
// (internal/jitmem) and the code generator (internal/codegen), and
// drives method dispatch through internal/vm, which decides per call
// whether to run already-compiled native code, trigger a first
// compile, or interpret directly.
package amberjit
