package grader

import (
	"os"
	"strings"
	"unicode/utf8"
)

// MaxMessageBytes caps the correction message stored and shown to students.
const MaxMessageBytes = 64 * 1024

// cleanOutput makes captured output safe to store and render: server
// filesystem paths are redacted so tracebacks never leak the host layout, NUL
// bytes are replaced with a printable escape, and the result is capped at
// MaxMessageBytes without splitting a rune.
func cleanOutput(out []byte, scratchDir string) string {
	s := string(out)

	s = redactDir(s, scratchDir)
	// The jail mounts the scratch contents over the worker's home, so a
	// traceback produced inside the sandbox names files there rather than
	// under the host-side scratch path.
	if home, err := os.UserHomeDir(); err == nil && len(home) > 1 {
		s = redactDir(s, home)
	}

	s = strings.ReplaceAll(s, "\x00", `\x00`)

	if len(s) > MaxMessageBytes {
		cut := MaxMessageBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// redactDir simplifies traceback file references under dir, then anonymizes
// any remaining occurrence.
func redactDir(s, dir string) string {
	s = strings.ReplaceAll(s, `File "`+dir+string(os.PathSeparator), `File "`)
	return strings.ReplaceAll(s, dir, "~")
}
