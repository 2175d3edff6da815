package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/dsmmcken/vdisk/internal/engine"
)

func TestSetFlagsAndAccessors(t *testing.T) {
	SetFlags(true, false, true)
	t.Cleanup(func() { SetFlags(false, false, false) })

	if !IsJSON() {
		t.Error("IsJSON() = false, want true")
	}
	if IsQuiet() {
		t.Error("IsQuiet() = true, want false")
	}
	if !IsVerbose() {
		t.Error("IsVerbose() = false, want true")
	}
}

func TestPrintJSONWritesIndentedDocument(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSON(&buf, map[string]int{"size": 4096}); err != nil {
		t.Fatalf("PrintJSON: %v", err)
	}

	var got map[string]int
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["size"] != 4096 {
		t.Errorf("size = %d, want 4096", got["size"])
	}
}

func TestPrintErrorEnvelopeShape(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintError(&buf, engine.KindNotFound, "no such device"); err != nil {
		t.Fatalf("PrintError: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["error"] != "NotFound" || got["message"] != "no such device" {
		t.Errorf("got %+v, want error=NotFound message=%q", got, "no such device")
	}
	if got["exit"] != float64(ExitNotFound) {
		t.Errorf("exit = %v, want %d", got["exit"], ExitNotFound)
	}
}

func TestExitCodeForKindCoversKnownKinds(t *testing.T) {
	cases := map[engine.Kind]int{
		engine.KindInvalidParameter:     ExitInvalidParameter,
		engine.KindInsufficientResources: ExitInsufficientResources,
		engine.KindNotFound:             ExitNotFound,
		engine.KindAccessDenied:         ExitAccessDenied,
		engine.KindConnectionRefused:    ExitConnectionRefused,
		engine.KindCancelled:            ExitCancelled,
		engine.KindBufferOverflow:       ExitError,
		engine.KindDriverInternalError:  ExitError,
	}
	for kind, want := range cases {
		if got := ExitCodeForKind(kind); got != want {
			t.Errorf("ExitCodeForKind(%v) = %d, want %d", kind, got, want)
		}
	}
}
