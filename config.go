package amberjit

// Config controls the tunables an embedder might reasonably want to
// change without touching the engine's internals: loop-hotness budget
// for on-stack replacement (§4.3.3) and one debug-dump switch
// (DumpAssembly), the same kind of narrow knob wazero's own
// compiler.compiler exposes (WithFeatureFlag-style toggles rather than
// a sprawling options struct).
type Config struct {
	// LoopHotnessThreshold is how many times a LoopStart site must be
	// reached before CompileLoop is triggered (§4.3.3's closing
	// paragraph). Zero means DefaultConfig's value.
	LoopHotnessThreshold int32

	// DumpAssembly logs every CompileMethod/CompileLoop's disassembled
	// output via internal/codegen's dump.go, the Go-native analogue of
	// wazero's own WAZERO_COMPILATION_DIAGNOSTICS-gated dump path.
	DumpAssembly bool
}

// DefaultConfig returns the tunables a freshly constructed Engine uses
// when the caller passes a zero-value Config.
func DefaultConfig() Config {
	return Config{LoopHotnessThreshold: 10000}
}

func (c Config) withDefaults() Config {
	if c.LoopHotnessThreshold <= 0 {
		c.LoopHotnessThreshold = DefaultConfig().LoopHotnessThreshold
	}
	return c
}
