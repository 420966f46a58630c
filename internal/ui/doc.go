// Package ui provides styled terminal output for fleetpage's CLI.
//
// Colors are ANSI codes for broad terminal compatibility:
//
//	ColorSuccess (green)  - Published hosts
//	ColorError   (red)    - Failed hosts and errors
//	ColorWarning (yellow) - Skipped hosts and partial pages
//	ColorInfo    (cyan)   - File names and addresses
//	ColorMuted   (gray)   - Timing and secondary detail
//
// Use DisableColors() to switch to monochrome output (for --no-color).
package ui
