// Package diag implements the single fatal-diagnostic policy of
// spec.md §7: one position-tagged error type, optionally colorized
// when stderr is a real terminal.
package diag

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"c89cc/pkg/token"
)

// Error is a diagnostic with a source position, the only error shape
// the parser, evaluator and declaration layer raise (spec.md §7 kinds
// 1 and 2: syntax and semantic/type errors).
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// Errorf builds an *Error the way smasonuk-sicpu/pkg/compiler/parser.go
// builds its "line %d: %s"-shaped errors, but carrying a structured
// Position rather than a pre-formatted string.
func Errorf(pos token.Position, format string, args ...any) *Error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Report writes err to w, bold red when w is a real terminal (checked
// with isatty exactly as go-gitea-gitea's console logger gates ANSI
// before emitting it), plain otherwise.
func Report(w io.Writer, err error) {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		fmt.Fprintf(w, "\x1b[1;31merror:\x1b[0m %s\n", err)
		return
	}
	fmt.Fprintf(w, "error: %s\n", err)
}
