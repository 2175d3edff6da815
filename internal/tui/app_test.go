package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func testRows() []DeviceRow {
	return []DeviceRow{
		{ID: 0, Backend: "file", SizeBytes: 4096, ReadOnly: true, DriveLetter: "E"},
		{ID: 1, Backend: "memory", SizeBytes: 1 << 20, Dirty: true, ChangeCount: 3},
	}
}

func TestAppViewEmptyShowsPlaceholder(t *testing.T) {
	a := NewApp(func() []DeviceRow { return nil })
	view := a.View()
	if !strings.Contains(view, "no devices registered") {
		t.Errorf("View() = %q, want it to mention no devices registered", view)
	}
}

func TestAppUpdateDevicesMsgPopulatesRows(t *testing.T) {
	a := NewApp(func() []DeviceRow { return testRows() })
	updated, _ := a.Update(devicesMsg(testRows()))
	app := updated.(App)

	view := app.View()
	if !strings.Contains(view, "file") || !strings.Contains(view, "memory") {
		t.Errorf("View() = %q, want rows for both file and memory backends", view)
	}
	if !strings.Contains(view, "ro") {
		t.Errorf("View() = %q, want the read-only row annotated", view)
	}
	if !strings.Contains(view, "E:") {
		t.Errorf("View() = %q, want the drive-letter hint rendered", view)
	}
}

func TestAppUpdateQuitKeyReturnsQuitCmd(t *testing.T) {
	a := NewApp(func() []DeviceRow { return nil })
	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected a non-nil tea.Cmd for the quit key")
	}
	msg := cmd()
	if _, ok := msg.(tea.QuitMsg); !ok {
		t.Errorf("cmd() = %T, want tea.QuitMsg", msg)
	}
}

func TestAppUpdateHelpKeyTogglesFullHelp(t *testing.T) {
	a := NewApp(func() []DeviceRow { return nil })
	updated, _ := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	app := updated.(App)
	if !app.help.ShowAll {
		t.Error("expected help.ShowAll to toggle true after the help key")
	}
}

func TestAppUpdateWindowSizeMsgSetsWidth(t *testing.T) {
	a := NewApp(func() []DeviceRow { return nil })
	updated, _ := a.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	app := updated.(App)
	if app.width != 80 {
		t.Errorf("width = %d, want 80", app.width)
	}
}
