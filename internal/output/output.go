// Package output provides the CLI's JSON/quiet/verbose output conventions,
// shared by every vdiskctl subcommand.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dsmmcken/vdisk/internal/engine"
)

// Exit codes. Beyond ExitSuccess/ExitError, these mirror engine.Kind so a
// script driving vdiskctl can distinguish "device not found" from "remote
// refused the connection" without parsing JSON (spec.md §7).
const (
	ExitSuccess               = 0
	ExitError                 = 1
	ExitInvalidParameter      = 2
	ExitInsufficientResources = 3
	ExitNotFound              = 4
	ExitAccessDenied          = 5
	ExitConnectionRefused     = 6
	ExitCancelled             = 7
)

// ExitCodeForKind maps an engine.Kind to the process exit code a
// vdiskctl subcommand should use when that kind caused the failure.
// Kinds with no dedicated code (IoDeviceError, BufferOverflow,
// DriverInternalError, and anything unrecognized) fall back to ExitError.
func ExitCodeForKind(kind engine.Kind) int {
	switch kind {
	case engine.KindInvalidParameter:
		return ExitInvalidParameter
	case engine.KindInsufficientResources:
		return ExitInsufficientResources
	case engine.KindNotFound:
		return ExitNotFound
	case engine.KindAccessDenied:
		return ExitAccessDenied
	case engine.KindConnectionRefused:
		return ExitConnectionRefused
	case engine.KindCancelled:
		return ExitCancelled
	default:
		return ExitError
	}
}

var (
	flagJSON    bool
	flagQuiet   bool
	flagVerbose bool
)

// SetFlags is called by the root command's PersistentPreRun to propagate flag values.
func SetFlags(jsonMode, quiet, verbose bool) {
	flagJSON = jsonMode
	flagQuiet = quiet
	flagVerbose = verbose
}

// IsJSON returns true when --json mode is active.
func IsJSON() bool { return flagJSON }

// IsQuiet returns true when --quiet mode is active.
func IsQuiet() bool { return flagQuiet }

// IsVerbose returns true when --verbose mode is active.
func IsVerbose() bool { return flagVerbose }

// PrintJSON marshals v as JSON and writes it to w.
func PrintJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// PrintError writes a JSON error envelope to w, tagging it with kind's
// name and the exit code a caller should use for that kind (spec.md §7).
func PrintError(w io.Writer, kind engine.Kind, message string) error {
	return PrintJSON(w, map[string]any{
		"error":   kind.String(),
		"message": message,
		"exit":    ExitCodeForKind(kind),
	})
}
