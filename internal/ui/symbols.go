package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess = "✓" // Host published
	SymbolFail    = "✗" // Host failed
	SymbolSkipped = "⊘" // Host skipped this cycle
	SymbolWarning = "⚠" // Published with missing metrics
	SymbolPending = "○" // Not yet run
)
