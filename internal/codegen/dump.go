package codegen

import (
	"encoding/hex"
	"log"
)

// dumpBlock logs a compiled function's machine code as hex, gated
// behind Config.DumpAssembly (copied into Codegen.Dump) per SPEC_FULL.md's "disassembly/debug-dump
// mode", grounded in internal/asm/amd64_debug's own hex-diff logging
// style (no disassembler library is present anywhere in the retrieved
// corpus, so this stays a hex dump rather than a mnemonic listing).
func dumpBlock(funcID uint32, code []byte) {
	log.Printf("codegen: func %d compiled to %d bytes: %s", funcID, len(code), hex.EncodeToString(code))
}
