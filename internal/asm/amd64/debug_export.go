package amd64

// Exported aliases of the package's otherwise-private assembler/node
// implementation, needed only by internal/asm/amd64_debug's golang-asm
// oracle, which must hold a concrete *AssemblerImpl/*NodeImpl pair to
// compare node-for-node against golang-asm's own node type. Everything
// else in this package (including its own tests) keeps using the
// unexported names directly; these are pure aliases, not copies.
type (
	AssemblerImpl = assemblerImpl
	NodeImpl      = nodeImpl
)

// NewAssemblerImpl is the exported constructor the debug oracle uses.
func NewAssemblerImpl() *AssemblerImpl { return newAssemblerImpl() }

// SetEnablePadding toggles NOP padding. The oracle disables it because
// matching golang-asm's padding behavior exactly is impractical and
// padding never changes program semantics.
func (a *assemblerImpl) SetEnablePadding(enabled bool) { a.enablePadding = enabled }
